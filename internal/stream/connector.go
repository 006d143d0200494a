package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
)

// maxRecordSize bounds a single line of the decompressed stream.
const maxRecordSize = 16 << 20

// State is the lifecycle state of a Connector.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateDead:
		return "dead"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// TokenProvider exposes the current access token to the connector.
type TokenProvider interface {
	Token() (string, bool)
	Invalidate(ctx context.Context)
}

// ConnectorOption configures a Connector.
type ConnectorOption func(*Connector)

// WithMaxConnections sets the connection-count hint sent as ?maxConnections=n.
// Zero omits the parameter.
func WithMaxConnections(n int) ConnectorOption {
	return func(c *Connector) {
		c.maxConnections = n
	}
}

// WithTransport sets the transport used for stream requests.
func WithTransport(transport http.RoundTripper) ConnectorOption {
	return func(c *Connector) {
		c.client.Transport = transport
	}
}

// session is one connection attempt.
type session struct {
	id  string
	url string
}

// Connector owns the firehose connection lifecycle.
type Connector struct {
	tokens  TokenProvider
	handler Handler
	client  *http.Client

	mu             sync.Mutex
	target         string
	maxConnections int
	session        *session
	state          State
}

// NewConnector creates a Connector for the given stream URL.
func NewConnector(streamURL string, tokens TokenProvider, handler Handler, opts ...ConnectorOption) (*Connector, error) {
	if _, err := url.ParseRequestURI(streamURL); err != nil {
		return nil, fmt.Errorf("invalid stream URL: %w", err)
	}
	if tokens == nil {
		return nil, fmt.Errorf("missing token provider")
	}
	if handler == nil {
		return nil, fmt.Errorf("missing handler")
	}

	c := &Connector{
		tokens:  tokens,
		handler: handler,
		client: &http.Client{
			// No timeout: a healthy stream stays open indefinitely.
			// Redirects are handled by the connector so the new target survives reconnects.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		target: streamURL,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// State returns the current lifecycle state.
func (c *Connector) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Live reports whether a connection attempt or stream is in progress.
func (c *Connector) Live() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Dead reports whether the connector has been given up on.
func (c *Connector) Dead() bool {
	return c.State() == StateDead
}

// Die marks the connector dead. Irreversible.
func (c *Connector) Die() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateDead
}

// Target returns the URL the next connection attempt will use.
func (c *Connector) Target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, err := c.targetURL()
	if err != nil {
		return c.target
	}
	return u.String()
}

// targetURL appends the connection-count hint to the target. Callers hold c.mu.
func (c *Connector) targetURL() (*url.URL, error) {
	u, err := url.Parse(c.target)
	if err != nil {
		return nil, err
	}
	if c.maxConnections > 0 {
		q := u.Query()
		q.Set("maxConnections", strconv.Itoa(c.maxConnections))
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Start opens a connection with the current token and returns immediately.
// The caller guarantees that no other connection is live.
func (c *Connector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateDead {
		c.mu.Unlock()
		return
	}

	// Token is read fresh for every connection, never carried across reconnects.
	token, _ := c.tokens.Token()

	req, err := c.buildRequest(ctx, token)
	if err != nil {
		c.mu.Unlock()
		c.handler(nil, &RequestError{Err: err})
		return
	}

	sess := &session{id: uuid.NewString(), url: req.URL.String()}
	c.session = sess
	c.state = StateConnecting
	c.mu.Unlock()

	slog.InfoContext(ctx, "connecting to firehose", "session", sess.id, "url", sess.url)

	go c.run(ctx, req, sess)
}

// buildRequest creates the stream request. Callers hold c.mu.
func (c *Connector) buildRequest(ctx context.Context, token string) (*http.Request, error) {
	u, err := c.targetURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	// Setting Accept-Encoding explicitly disables transparent decompression in net/http.
	req.Header.Set("Accept-Encoding", "gzip")

	return req, nil
}

// run performs the request and dispatches on the response status.
func (c *Connector) run(ctx context.Context, req *http.Request, sess *session) {
	logger := slog.Default().With("session", sess.id)

	resp, err := c.client.Do(req)
	if err != nil {
		c.endSession(sess)
		if ctx.Err() != nil {
			logger.DebugContext(ctx, "stream request canceled")
			return
		}
		c.handler(nil, &RequestError{Err: err})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		logger.InfoContext(ctx, "connected to firehose, receiving data")
		c.consume(ctx, logger, sess, resp.Body)

	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate(ctx)
		c.endSession(sess)
		c.handler(nil, ErrUnauthorized)

	case (resp.StatusCode == http.StatusMovedPermanently || resp.StatusCode == http.StatusFound) &&
		resp.Header.Get("Location") != "":
		location, err := resp.Location()
		if err != nil {
			c.Die()
			c.endSession(sess)
			c.handler(nil, &UnexpectedStatusError{StatusCode: resp.StatusCode})
			return
		}
		c.mu.Lock()
		c.target = location.String()
		c.maxConnections = 0
		c.mu.Unlock()
		c.endSession(sess)
		logger.InfoContext(ctx, "redirecting firehose", "location", location.String())

	default:
		c.Die()
		c.endSession(sess)
		c.handler(nil, &UnexpectedStatusError{StatusCode: resp.StatusCode})
	}
}

// consume runs the gzip → line → JSON pipeline until the body ends.
func (c *Connector) consume(ctx context.Context, logger *slog.Logger, sess *session, body io.Reader) {
	c.mu.Lock()
	if c.state != StateDead {
		c.state = StateStreaming
	}
	c.mu.Unlock()

	zr, err := gzip.NewReader(body)
	if err != nil {
		c.endSession(sess)
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, io.EOF):
			c.handler(nil, ErrDisconnected)
		default:
			c.handler(nil, &RequestError{Err: fmt.Errorf("decompressing stream: %w", err)})
		}
		return
	}
	defer func() { _ = zr.Close() }()

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64<<10), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
			if err == nil {
				err = errors.New("not a JSON object")
			}
			logger.WarnContext(ctx, "skipping malformed record", "line", line, "error", err)
			c.handler(nil, &MalformedRecordError{Line: line, Err: err})
			continue
		}
		c.handler(rec, nil)
	}

	if err := scanner.Err(); err != nil {
		logger.DebugContext(ctx, "stream read ended", "error", err)
	}

	c.endSession(sess)
	if ctx.Err() != nil {
		return
	}
	c.handler(nil, ErrDisconnected)
}

// endSession clears the live session if it is still sess.
func (c *Connector) endSession(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == sess {
		c.session = nil
	}
	if c.state != StateDead {
		c.state = StateIdle
	}
}
