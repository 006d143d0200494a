package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// ErrReadOnly is returned by stores that cannot be modified.
var ErrReadOnly = errors.New("token storage is read-only")

// EnvStore provides read-only access to a token seeded through an environment variable.
// Every refreshed token is lost on restart, so the store is only useful for short-lived
// deployments where the variable is rotated externally.
type EnvStore struct {
	envKey string
}

// Compile-time check to ensure EnvStore implements TokenStore
var _ TokenStore = (*EnvStore)(nil)

// NewEnvStore creates an EnvStore for the given environment variable.
// Unlike the other backends an unset variable is accepted: the store then simply
// has nothing to offer and the consumer authenticates from scratch.
func NewEnvStore(envKey string) (*EnvStore, error) {
	if envKey == "" {
		return nil, fmt.Errorf("environment key cannot be empty")
	}

	return &EnvStore{
		envKey: envKey,
	}, nil
}

// Read returns the token from the environment variable. Returns error if unset or empty.
func (e *EnvStore) Read(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	token := os.Getenv(e.envKey)
	if token == "" {
		return "", fmt.Errorf("environment variable %s is empty", e.envKey)
	}
	return token, nil
}

// Write is not supported for environment variables.
func (e *EnvStore) Write(ctx context.Context, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%s: %w", e.envKey, ErrReadOnly)
}

// Clear is not supported for environment variables.
func (e *EnvStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return fmt.Errorf("%s: %w", e.envKey, ErrReadOnly)
}
