// Package auth owns the firehose access token.
//
// A Manager holds the current token in memory, seeds it from persistent storage at
// startup, acquires fresh tokens through a Fetcher and writes every new token back to
// storage without making callers wait. The stream connector reads the token through
// Token right before it builds a connection and invalidates it when the firehose
// answers 401.
package auth
