package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/florianilch/firehose/internal/auth"
)

// DefaultTickInterval is how often Run ticks the driver.
const DefaultTickInterval = time.Second

// Authenticator hands out tokens to the driver.
type Authenticator interface {
	Token() (string, bool)
	GetToken(ctx context.Context, forceRefresh bool) <-chan auth.Result
}

// Stream is the connection side of the driver.
type Stream interface {
	Start(ctx context.Context)
	Live() bool
	Dead() bool
	Die()
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithTickInterval sets the period used by Run.
func WithTickInterval(d time.Duration) DriverOption {
	return func(dr *Driver) {
		if d > 0 {
			dr.interval = d
		}
	}
}

// Driver keeps the firehose authenticated and connected.
type Driver struct {
	auth     Authenticator
	stream   Stream
	handler  Handler
	interval time.Duration

	// mu serializes ticks and auth completions, so "no live session" checks and
	// Start calls never interleave.
	mu           sync.Mutex
	authInFlight atomic.Bool
	pending      sync.WaitGroup
}

// NewDriver creates a Driver.
func NewDriver(a Authenticator, s Stream, handler Handler, opts ...DriverOption) *Driver {
	d := &Driver{
		auth:     a,
		stream:   s,
		handler:  handler,
		interval: DefaultTickInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// AuthInFlight reports whether a token request is outstanding.
func (d *Driver) AuthInFlight() bool {
	return d.authInFlight.Load()
}

// Tick ensures the stream is authenticated and connected. It never blocks on I/O and
// is safe to call any number of times: while authenticating or streaming it does
// nothing. Returns ErrDead once the stream has been given up on.
func (d *Driver) Tick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream.Dead() {
		return ErrDead
	}

	_, hasToken := d.auth.Token()
	switch {
	case !hasToken:
		if d.authInFlight.CompareAndSwap(false, true) {
			d.authenticate(ctx)
		}
	case !d.stream.Live():
		d.stream.Start(ctx)
	}

	return nil
}

// authenticate requests a token and completes on a separate goroutine. Callers hold d.mu.
func (d *Driver) authenticate(ctx context.Context) {
	results := d.auth.GetToken(ctx, false)

	d.pending.Add(1)
	go func() {
		defer d.pending.Done()
		d.onAuthDone(ctx, <-results)
	}()
}

// onAuthDone connects right away on success instead of waiting for the next tick.
func (d *Driver) onAuthDone(ctx context.Context, res auth.Result) {
	d.mu.Lock()
	d.authInFlight.Store(false)

	if res.Err != nil {
		if ctx.Err() != nil {
			d.mu.Unlock()
			slog.DebugContext(ctx, "token request canceled", "error", res.Err)
			return
		}
		d.stream.Die()
		d.mu.Unlock()
		d.handler(nil, &AuthError{Err: res.Err})
		return
	}

	if !d.stream.Dead() && !d.stream.Live() {
		d.stream.Start(ctx)
	}
	d.mu.Unlock()
}

// Wait blocks until outstanding token requests have completed.
func (d *Driver) Wait() {
	d.pending.Wait()
}

// Run ticks immediately and then periodically until ctx is canceled (returns nil)
// or the stream dies (returns ErrDead).
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	defer d.Wait()

	for {
		if err := d.Tick(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
