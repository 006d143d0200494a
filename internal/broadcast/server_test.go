package broadcast

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florianilch/firehose/internal/stream"
	"github.com/florianilch/firehose/internal/tally"
)

func newCounter() *tally.Counter {
	c := tally.New("browser")
	c.Observe(stream.Record{"browser": "Chrome"})
	c.Observe(stream.Record{"browser": "Chrome"})
	c.Observe(stream.Record{"browser": "Firefox"})
	return c
}

func TestServer_Tally(t *testing.T) {
	s, err := New(newCounter())
	require.NoError(t, err)

	server := httptest.NewServer(s)
	defer server.Close()

	resp, err := http.Get(server.URL + "/tally")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var snap tally.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "browser", snap.Field)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, map[string]int{"Chrome": 2, "Firefox": 1}, snap.Counts)
}

func TestServer_Events(t *testing.T) {
	s, err := New(newCounter(), WithPeriod(10*time.Millisecond))
	require.NoError(t, err)

	server := httptest.NewServer(s)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "text/event-stream;charset=utf-8", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var events, payloads []string
	for len(payloads) < 2 && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			payloads = append(payloads, strings.TrimPrefix(line, "data: "))
		}
	}

	require.Len(t, payloads, 2, "snapshot is repeated every period")
	assert.Equal(t, []string{"tally", "tally"}, events)

	var snap tally.Snapshot
	require.NoError(t, json.Unmarshal([]byte(payloads[0]), &snap))
	assert.Equal(t, 2, snap.Counts["Chrome"])
}

func TestServer_UnknownRoute(t *testing.T) {
	s, err := New(newCounter())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/tally", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecovery(t *testing.T) {
	h := applyMiddlewares(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), Recovery)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_StartShutdown(t *testing.T) {
	s, err := New(newCounter())
	require.NoError(t, err)

	errCh, err := s.Start(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	require.NotNil(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr().String() + "/tally")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Shutdown(context.Background()))
	_, open := <-errCh
	assert.False(t, open, "graceful shutdown reports no runtime error")
}

func TestNew_MissingSource(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestSSEWriter_WriteEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	require.NoError(t, sse.WriteEvent("tally", map[string]int{"Chrome": 1}))

	assert.Equal(t, "event: tally\ndata: {\"Chrome\":1}\n\n", rec.Body.String())
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
}

func TestSSEWriter_MarshalError(t *testing.T) {
	rec := httptest.NewRecorder()
	sse, err := NewSSEWriter(rec)
	require.NoError(t, err)

	assert.ErrorContains(t, sse.WriteEvent("tally", make(chan int)), "marshal")
	assert.Empty(t, rec.Body.String())
}

// plainWriter hides the http.Flusher of the underlying recorder.
type plainWriter struct {
	http.ResponseWriter
}

func TestServer_EventsWithoutFlusher(t *testing.T) {
	s, err := New(newCounter())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	s.handleEvents(plainWriter{rec}, httptest.NewRequest(http.MethodGet, "/events", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "streaming unsupported", body.Error)
}
