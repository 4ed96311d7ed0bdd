// Package netsuite implements the RemoteAPI port against the SuiteTalk REST
// record API: request signing, retry policy, concurrency limiting and the
// read-only HTTP client.
package netsuite

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// DefaultTokenSafetyMargin is how long before expiry a cached bearer token is
// refreshed.
const DefaultTokenSafetyMargin = 5 * time.Minute

// Signer authenticates one outbound request. baseURL is the request URL
// without its query string; query holds every parameter that will be sent.
// Implementations must be called once per attempt: a header is only valid for
// the exact URL and query it was computed for.
type Signer interface {
	Sign(ctx context.Context, method, baseURL string, query url.Values) (http.Header, error)
}

// SignerOption configures a Signer.
type SignerOption func(*signerConfig)

type signerConfig struct {
	now        func() time.Time
	nonce      func() (string, error)
	httpClient *http.Client
	margin     time.Duration
	metrics    *metrics.Metrics
}

func newSignerConfig(opts []SignerOption) signerConfig {
	cfg := signerConfig{
		now:    time.Now,
		nonce:  randomNonce,
		margin: DefaultTokenSafetyMargin,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithClock overrides the time source used for timestamps and token expiry.
func WithClock(now func() time.Time) SignerOption {
	return func(c *signerConfig) { c.now = now }
}

// WithNonceSource overrides the nonce generator of the legacy signer.
func WithNonceSource(nonce func() (string, error)) SignerOption {
	return func(c *signerConfig) { c.nonce = nonce }
}

// WithTokenHTTPClient sets the HTTP client used for token requests.
func WithTokenHTTPClient(client *http.Client) SignerOption {
	return func(c *signerConfig) { c.httpClient = client }
}

// WithSafetyMargin sets how long before expiry a bearer token is refreshed.
func WithSafetyMargin(d time.Duration) SignerOption {
	return func(c *signerConfig) { c.margin = d }
}

// WithSignerMetrics records token refreshes.
func WithSignerMetrics(m *metrics.Metrics) SignerOption {
	return func(c *signerConfig) { c.metrics = m }
}

// NewSigner returns the Signer selected by creds.AuthMethod. tokenURL is only
// used by the bearer scheme.
func NewSigner(creds model.CredentialSet, tokenURL string, opts ...SignerOption) (Signer, error) {
	if err := creds.Validate(); err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}

	switch creds.AuthMethod {
	case model.AuthLegacy:
		return NewLegacySigner(creds, opts...), nil
	case model.AuthBearer:
		return NewBearerSigner(creds, tokenURL, opts...), nil
	default:
		return nil, fmt.Errorf("create signer: unsupported auth method %q", creds.AuthMethod)
	}
}

// randomNonce returns 16 random bytes, hex encoded.
func randomNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}
