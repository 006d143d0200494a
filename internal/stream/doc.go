// Package stream consumes the firehose.
//
// A Connector owns the HTTPS streaming connection: it builds the request from the
// current token, classifies the response status and turns a 200 body into records
// (gzip → lines → JSON). A Driver is ticked periodically and decides whether to
// authenticate, connect, or do nothing, so that at most one token request and at most
// one live connection exist at any time.
//
// Everything the consumer needs to know arrives through a single Handler: one call per
// record and one call per lifecycle event (authentication failure, unauthorized,
// disconnect, fatal status).
package stream
