package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/processors/minsev"
)

func TestNewLocalHandler(t *testing.T) {
	tests := []struct {
		name     string
		format   string
		wantJSON bool
	}{
		{"text", FormatText, false},
		{"json", FormatJSON, true},
		{"auto on a buffer falls back to json", FormatAuto, true},
		{"empty behaves like auto", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(newLocalHandler(&buf, tt.format, slog.LevelInfo))
			logger.Info("hello", "key", "value")

			var decoded map[string]any
			err := json.Unmarshal(buf.Bytes(), &decoded)
			if tt.wantJSON {
				require.NoError(t, err)
				assert.Equal(t, "hello", decoded["msg"])
			} else {
				assert.Error(t, err)
				assert.Contains(t, buf.String(), "msg=hello")
			}
		})
	}
}

func TestNewLocalHandler_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLocalHandler(&buf, FormatText, slog.LevelWarn))

	logger.Info("dropped")
	assert.Empty(t, buf.String())

	logger.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, minsev.SeverityDebug, severity(slog.LevelDebug))
	assert.Equal(t, minsev.SeverityInfo, severity(slog.LevelInfo))
	assert.Equal(t, minsev.SeverityWarn, severity(slog.LevelWarn))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError))
	assert.Equal(t, minsev.SeverityError, severity(slog.LevelError+4))
}

func TestInstrument(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	for _, format := range []string{FormatText, FormatJSON, FormatStdout} {
		t.Run(format, func(t *testing.T) {
			shutdown, err := Instrument(context.Background(), slog.LevelInfo, format)
			require.NoError(t, err)
			slog.Info("instrumented")
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestInstrument_UnsupportedFormat(t *testing.T) {
	_, err := Instrument(context.Background(), slog.LevelInfo, "xml")
	assert.ErrorContains(t, err, "unsupported log format")
}
