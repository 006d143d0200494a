package tokenstore

import "context"

// TokenStore reads, writes and clears a persisted access token.
type TokenStore interface {
	// Read returns the stored token. Returns error if token is missing or empty.
	Read(ctx context.Context) (string, error)

	// Write persists the token, replacing any previous value. Returns error if the
	// backend is read-only (e.g., environment variables) or the write fails.
	Write(ctx context.Context, token string) error

	// Clear removes the stored token. Clearing an already empty store is not an error.
	Clear(ctx context.Context) error
}
