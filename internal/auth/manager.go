package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/florianilch/firehose/internal/tokenstore"
)

// MinCachedTokenLength is the plausibility floor for a persisted token. Anything
// shorter is treated as garbage and discarded at startup.
const MinCachedTokenLength = 20

// persistTimeout bounds a single background write or clear of the token store.
const persistTimeout = 10 * time.Second

// Fetcher acquires a new access token from the token service.
type Fetcher interface {
	Fetch(ctx context.Context) (string, error)
}

// Result is the outcome of a GetToken call. Exactly one of Token and Err is set.
type Result struct {
	Token string
	Err   error
}

// Manager caches the access token in memory and persists it.
type Manager struct {
	fetcher Fetcher
	store   tokenstore.TokenStore

	mu         sync.RWMutex
	token      string
	generation uint64

	// writeMu serializes persistence so a stale write never lands after a newer one.
	writeMu sync.Mutex
	writes  sync.WaitGroup
}

// NewManager creates a Manager and loads a cached token candidate from the store.
// A missing or implausible cached token is not an error.
func NewManager(ctx context.Context, fetcher Fetcher, store tokenstore.TokenStore) (*Manager, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("missing token fetcher")
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}

	m := &Manager{
		fetcher: fetcher,
		store:   store,
	}
	m.loadCachedToken(ctx)

	return m, nil
}

// loadCachedToken seeds the in-memory token from storage. The value stays
// unverified until the firehose accepts or rejects it.
func (m *Manager) loadCachedToken(ctx context.Context) {
	cached, err := m.store.Read(ctx)
	if err != nil {
		slog.InfoContext(ctx, "no cached token", "reason", err)
		return
	}
	if len(cached) < MinCachedTokenLength {
		slog.InfoContext(ctx, "no cached token, cached value too short",
			"length", len(cached), "min_length", MinCachedTokenLength)
		return
	}

	m.mu.Lock()
	m.token = cached
	m.mu.Unlock()

	slog.InfoContext(ctx, "loaded cached token")
}

// Token returns the current token without any I/O.
func (m *Manager) Token() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != ""
}

// GetToken delivers a token on the returned channel, which receives exactly one
// Result and is then closed. A present token is delivered without network access
// unless forceRefresh is set; otherwise one token request is issued in the background.
func (m *Manager) GetToken(ctx context.Context, forceRefresh bool) <-chan Result {
	done := make(chan Result, 1)

	if token, ok := m.Token(); ok && !forceRefresh {
		done <- Result{Token: token}
		close(done)
		return done
	}

	go func() {
		defer close(done)
		token, err := m.requestToken(ctx)
		done <- Result{Token: token, Err: err}
	}()

	return done
}

// requestToken drops the current token, fetches a new one and persists it.
func (m *Manager) requestToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()

	slog.InfoContext(ctx, "authenticating to obtain session token")

	token, err := m.fetcher.Fetch(ctx)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	m.token = token
	m.generation++
	generation := m.generation
	m.mu.Unlock()

	slog.InfoContext(ctx, "obtained session token")

	m.persist(generation, "write", func(ctx context.Context) error {
		return m.store.Write(ctx, token)
	})

	return token, nil
}

// Invalidate forgets the current token, presumably because the firehose rejected it.
// The persisted copy is cleared in the background so a restart does not reload it.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	m.token = ""
	m.generation++
	generation := m.generation
	m.mu.Unlock()

	slog.InfoContext(ctx, "invalidated session token")

	m.persist(generation, "clear", m.store.Clear)
}

// Close waits for pending persistence operations.
func (m *Manager) Close() {
	m.writes.Wait()
}

// persist runs op in the background. Failures are logged only: an unwritable store
// degrades to authenticating on every start.
func (m *Manager) persist(generation uint64, name string, op func(ctx context.Context) error) {
	m.writes.Add(1)
	go func() {
		defer m.writes.Done()

		m.writeMu.Lock()
		defer m.writeMu.Unlock()

		m.mu.RLock()
		current := m.generation
		m.mu.RUnlock()
		if current != generation {
			slog.Debug("skipping stale token persistence", "operation", name)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := op(ctx); err != nil {
			slog.WarnContext(ctx, "failed to persist token", "operation", name, "error", err)
			return
		}
		slog.DebugContext(ctx, "persisted token", "operation", name)
	}()
}
