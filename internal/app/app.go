package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/florianilch/firehose/internal/auth"
	"github.com/florianilch/firehose/internal/broadcast"
	"github.com/florianilch/firehose/internal/stream"
	"github.com/florianilch/firehose/internal/tally"
	"github.com/florianilch/firehose/internal/tokensource"
)

// App orchestrates the firehose stream and related services.
type App struct {
	cfg       *Config
	env       EnvironmentConfig
	auth      *auth.Manager
	tally     *tally.Counter
	connector *stream.Connector
	driver    *stream.Driver
	broadcast *broadcast.Server
}

// New creates a new App instance. The only I/O performed is reading the cached token.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	env, err := cfg.Selected()
	if err != nil {
		return nil, err
	}

	store, err := env.NewTokenStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create token store: %w", err)
	}

	transport := newTransport(env.TrustAllCerts)

	grant := tokensource.NewPasswordGrant(env.Credentials(), tokensource.WithTransport(transport))
	manager, err := auth.NewManager(ctx, grant, store)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}

	a := &App{
		cfg:   cfg,
		env:   env,
		auth:  manager,
		tally: tally.New(cfg.TallyField),
	}

	handler := stream.Serialize(a.handle)

	a.connector, err = stream.NewConnector(env.StreamURL, manager, handler,
		stream.WithMaxConnections(env.MaxConnections),
		stream.WithTransport(transport),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream connector: %w", err)
	}

	a.driver = stream.NewDriver(manager, a.connector, handler, stream.WithTickInterval(cfg.TickInterval))

	if !cfg.Broadcast.Disabled {
		a.broadcast, err = broadcast.New(a.tally, broadcast.WithPeriod(cfg.Broadcast.Period))
		if err != nil {
			return nil, fmt.Errorf("failed to create broadcast server: %w", err)
		}
	}

	return a, nil
}

// newTransport returns the transport shared by token and stream requests.
func newTransport(trustAllCerts bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if trustAllCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in via trust_all_certs
	}
	return transport
}

// handle receives every record and lifecycle event of the stream.
func (a *App) handle(rec stream.Record, err error) {
	ctx := context.Background()

	if err != nil {
		var malformed *stream.MalformedRecordError
		switch {
		case stream.IsFatal(err):
			slog.ErrorContext(ctx, "firehose failed", "error", err)
		case errors.As(err, &malformed):
			// Already logged with the offending line by the connector
		default:
			slog.WarnContext(ctx, "firehose interrupted", "error", err)
		}
		return
	}

	if a.tally.Observe(rec) {
		slog.DebugContext(ctx, "record", a.tally.Field(), rec[a.tally.Field()])
	}
}

// Tally returns the current record counts.
func (a *App) Tally() tally.Snapshot {
	return a.tally.Snapshot()
}

// Token returns an access token, acquiring and persisting a new one when none is
// cached or forceRefresh is set. Waits for persistence before returning.
func (a *App) Token(ctx context.Context, forceRefresh bool) (string, error) {
	defer a.auth.Close()

	select {
	case res := <-a.auth.GetToken(ctx, forceRefresh):
		return res.Token, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start starts all services and blocks until shutdown is triggered or the stream dies.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
// A dead stream is reported as an error wrapping stream.ErrDead.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	var shutdownFuncs []func(context.Context) error

	// Pending cache writes are flushed last
	shutdownFuncs = append(shutdownFuncs, func(context.Context) error {
		a.auth.Close()
		return nil
	})

	// Startup phase: Start services
	if a.broadcast != nil {
		address := a.cfg.Broadcast.Host + ":" + strconv.FormatUint(uint64(a.cfg.Broadcast.Port), 10)

		slog.InfoContext(gCtx, "starting broadcast server", "address", address)
		broadcastErrCh, err := a.broadcast.Start(gCtx, address)
		if err != nil {
			return fmt.Errorf("broadcast startup failed: %w", err)
		}
		shutdownFuncs = append(shutdownFuncs, a.broadcast.Shutdown)

		// Monitor runtime errors - errgroup cancels context on first error
		g.Go(func() error {
			select {
			case err := <-broadcastErrCh:
				if err != nil {
					slog.ErrorContext(gCtx, "broadcast runtime error", "error", err)
					return fmt.Errorf("broadcast: %w", err)
				}
				return nil
			case <-gCtx.Done():
				return nil
			}
		})
	}

	g.Go(func() error {
		if err := a.driver.Run(gCtx); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		return nil
	})

	slog.InfoContext(gCtx, "application ready",
		"environment", a.cfg.Environment,
		"stream", a.connector.Target(),
	)

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
