// Package observability sets up the process-wide slog logger, optionally exporting
// records through the OpenTelemetry log pipeline.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"golang.org/x/term"
)

// instrumentationName identifies log records emitted through the OpenTelemetry bridge.
const instrumentationName = "github.com/florianilch/firehose"

// Supported log formats.
const (
	FormatText     = "text"
	FormatJSON     = "json"
	FormatAuto     = "auto"
	FormatOTLP     = "otlp"
	FormatOTLPGRPC = "otlp-grpc"
	FormatStdout   = "stdout"
)

// ShutdownFunc flushes and releases logging resources.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Instrument installs the default slog logger for format and level.
// Local formats write to stderr. OTLP formats are configured through the standard
// OTEL_EXPORTER_OTLP_* environment variables. The returned function must be called
// before exit so buffered records are flushed.
func Instrument(ctx context.Context, level slog.Level, format string) (ShutdownFunc, error) {
	switch format {
	case FormatText, FormatJSON, FormatAuto, "":
		slog.SetDefault(slog.New(newLocalHandler(os.Stderr, format, level)))
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, format)
	if err != nil {
		return nil, err
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(
			minsev.NewLogProcessor(sdklog.NewBatchProcessor(exporter), severity(level)),
		),
	)
	global.SetLoggerProvider(provider)

	// Export failures cannot go through slog without looping back into the exporter.
	fallback := slog.New(slog.NewTextHandler(os.Stderr, nil))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		fallback.Error("log export failed", "error", err)
	}))

	slog.SetDefault(slog.New(otelslog.NewHandler(instrumentationName, otelslog.WithLoggerProvider(provider))))

	return provider.Shutdown, nil
}

// newLocalHandler picks a text or json handler. Auto uses text on a terminal and
// json when w is piped or redirected.
func newLocalHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	options := &slog.HandlerOptions{Level: level}

	if format == FormatAuto || format == "" {
		format = FormatJSON
		if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = FormatText
		}
	}

	if format == FormatJSON {
		return slog.NewJSONHandler(w, options)
	}
	return slog.NewTextHandler(w, options)
}

func newExporter(ctx context.Context, format string) (sdklog.Exporter, error) {
	switch format {
	case FormatOTLP:
		exporter, err := otlploghttp.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp http exporter: %w", err)
		}
		return exporter, nil
	case FormatOTLPGRPC:
		exporter, err := otlploggrpc.New(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating otlp grpc exporter: %w", err)
		}
		return exporter, nil
	case FormatStdout:
		exporter, err := stdoutlog.New(stdoutlog.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		return exporter, nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

// severity maps a slog level onto the minimum OpenTelemetry severity that passes the filter.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level < slog.LevelInfo:
		return minsev.SeverityDebug
	case level < slog.LevelWarn:
		return minsev.SeverityInfo
	case level < slog.LevelError:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
