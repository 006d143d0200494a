// Package broadcast publishes tally snapshots over HTTP.
//
//	GET /tally   current counts as JSON
//	GET /events  Server-Sent Events stream, one snapshot per period
package broadcast
