package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/florianilch/firehose/internal/app"
	"github.com/florianilch/firehose/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "firehose",
		Usage: "Persistent firehose stream consumer",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json|auto|otlp|otlp-grpc|stdout)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:    "environment",
				Aliases: []string{"e"},
				Usage:   "environment to connect to",
				Value:   app.DefaultConfigEnvironment,
			},
		},
		Commands: []*cli.Command{
			startCommand(),
			tokenCommand(),
		},
	}

	return cmd.Run(ctx, args)
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "stream records until interrupted",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "tick-interval",
				Usage: "interval between connection checks",
				Value: app.DefaultConfigTickInterval,
			},
			&cli.StringFlag{
				Name:  "tally-field",
				Usage: "record field to count",
				Value: app.DefaultConfigTallyField,
			},
			&cli.StringFlag{
				Name:  "broadcast--host",
				Usage: "broadcast server host",
				Value: app.DefaultConfigBroadcastHost,
			},
			&cli.IntFlag{
				Name:  "broadcast--port",
				Usage: "broadcast server port",
				Value: app.DefaultConfigBroadcastPort,
			},
			&cli.BoolFlag{
				Name:  "broadcast--disabled",
				Usage: "do not serve the tally",
			},
		},
		Action: startAction,
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "acquire and cache an access token",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "request a new token even if one is cached",
			},
		},
		Action: tokenAction,
	}
}

// setup loads the configuration and installs logging. The returned function flushes logs.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, observability.ShutdownFunc, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, cfg.LogLevel, string(cfg.LogFormat))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}

func startAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if flushErr := shutdown(context.WithoutCancel(ctx)); flushErr != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", flushErr)
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting", "environment", cfg.Environment)

	if err := application.Start(ctx); err != nil {
		return withExitCode(fmt.Errorf("app stopped: %w", err))
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func tokenAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer func() {
		if flushErr := shutdown(context.WithoutCancel(ctx)); flushErr != nil {
			fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", flushErr)
		}
	}()

	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	if _, err := application.Token(ctx, cmd.Bool("force")); err != nil {
		return fmt.Errorf("failed to acquire token: %w", err)
	}

	slog.InfoContext(ctx, "token acquired and cached", "environment", cfg.Environment)
	return nil
}
