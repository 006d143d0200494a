package tokensource

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoOutput is returned when the token service answers with an empty body.
var ErrNoOutput = errors.New("did not receive any output from token server")

// requestTimeout bounds a single token request.
const requestTimeout = 30 * time.Second

// Credentials identify the client application and the account it acts for.
type Credentials struct {
	TokenAPIHost string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	// TrustAllCerts disables TLS certificate verification for the token endpoint.
	TrustAllCerts bool
}

// TokenURL returns the token endpoint for the configured host. A host without
// scheme is addressed over HTTPS.
func (c Credentials) TokenURL() string {
	host := strings.TrimSuffix(c.TokenAPIHost, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host + "/token"
}

// Option configures a PasswordGrant.
type Option func(*passwordGrantConfig)

// passwordGrantConfig holds configuration for NewPasswordGrant.
type passwordGrantConfig struct {
	baseTransport http.RoundTripper
}

// WithTransport sets a custom base transport for token requests.
// If not provided, a clone of http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *passwordGrantConfig) {
		c.baseTransport = transport
	}
}

// PasswordGrant exchanges username and password for an access token.
type PasswordGrant struct {
	config     *oauth2.Config
	creds      Credentials
	httpClient *http.Client
}

// NewPasswordGrant creates a PasswordGrant for the given credentials.
// No I/O is performed until Fetch is called.
func NewPasswordGrant(creds Credentials, opts ...Option) *PasswordGrant {
	cfg := &passwordGrantConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.baseTransport == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if creds.TrustAllCerts {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in via trust_all_certs
		}
		cfg.baseTransport = transport
	}

	return &PasswordGrant{
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  creds.TokenURL(),
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		creds: creds,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: &tokenRequestTransport{
				base:         cfg.baseTransport,
				clientID:     creds.ClientID,
				clientSecret: creds.ClientSecret,
			},
		},
	}
}

// Fetch issues one token request and returns the access token.
func (p *PasswordGrant) Fetch(ctx context.Context) (string, error) {
	// oauth2 picks up custom HTTP clients via context (oauth2.HTTPClient key).
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.config.PasswordCredentialsToken(ctx, p.creds.Username, p.creds.Password)
	if err != nil {
		return "", fmt.Errorf("requesting token from %s: %w", p.config.Endpoint.TokenURL, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("token response from %s has no access_token", p.config.Endpoint.TokenURL)
	}

	return token.AccessToken, nil
}

// tokenRequestTransport adjusts token requests and responses around oauth2:
// client credentials go out as raw Basic auth (oauth2 URL-escapes them first),
// and an empty or non-JSON success body is rejected before oauth2 decodes it.
type tokenRequestTransport struct {
	base         http.RoundTripper
	clientID     string
	clientSecret string
}

// Compile-time check that tokenRequestTransport implements http.RoundTripper.
var _ http.RoundTripper = (*tokenRequestTransport)(nil)

// RoundTrip sets the Basic credentials and validates the token response body.
func (t *tokenRequestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.clientID, t.clientSecret)

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// Token responses are small; buffering lets us inspect and replay the body.
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrNoOutput
	}

	// Error statuses keep their body for oauth2.RetrieveError.
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return nil, fmt.Errorf("cannot parse json token response: %w", err)
		}
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}
