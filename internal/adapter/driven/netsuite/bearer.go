package netsuite

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ Signer = (*BearerSigner)(nil)

// defaultTokenTTL applies when the token endpoint omits expires_in.
const defaultTokenTTL = time.Hour

// tokenRefreshTimeout bounds one shared refresh, independent of any caller.
const tokenRefreshTimeout = 30 * time.Second

// BearerSigner implements the OAuth 2.0 client-credentials scheme. It owns a
// single cached access token; concurrent callers that find it missing or about
// to expire share one refresh.
type BearerSigner struct {
	creds      model.CredentialSet
	cfg        clientcredentials.Config
	httpClient *http.Client
	now        func() time.Time
	margin     time.Duration
	metrics    *metrics.Metrics

	mu    sync.Mutex
	token *oauth2.Token
	group singleflight.Group
}

// NewBearerSigner creates a BearerSigner that exchanges the consumer key and
// secret for an access token at tokenURL.
func NewBearerSigner(creds model.CredentialSet, tokenURL string, opts ...SignerOption) *BearerSigner {
	sc := newSignerConfig(opts)
	return &BearerSigner{
		creds: creds,
		cfg: clientcredentials.Config{
			ClientID:     creds.ConsumerKey,
			ClientSecret: creds.ConsumerSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		httpClient: sc.httpClient,
		now:        sc.now,
		margin:     sc.margin,
		metrics:    sc.metrics,
	}
}

// Sign returns a bearer Authorization header, refreshing the cached token
// first when it is absent or expires within the safety margin.
func (s *BearerSigner) Sign(ctx context.Context, _, _ string, _ url.Values) (http.Header, error) {
	tok, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	h := make(http.Header)
	h.Set("Authorization", "Bearer "+tok.AccessToken)
	return h, nil
}

func (s *BearerSigner) accessToken(ctx context.Context) (*oauth2.Token, error) {
	if tok := s.cached(); tok != nil {
		return tok, nil
	}

	ch := s.group.DoChan("token", func() (any, error) {
		// Another caller may have finished a refresh while we waited.
		if tok := s.cached(); tok != nil {
			return tok, nil
		}
		// The refresh is shared, so one caller's cancellation must not fail
		// the others waiting on it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), tokenRefreshTimeout)
		defer cancel()
		return s.refresh(rctx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*oauth2.Token), nil
	}
}

// cached returns the current token if it is still valid beyond the margin.
func (s *BearerSigner) cached() *oauth2.Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil || s.token.AccessToken == "" {
		return nil
	}
	if !s.token.Expiry.After(s.now().Add(s.margin)) {
		return nil
	}
	return s.token
}

func (s *BearerSigner) refresh(ctx context.Context) (*oauth2.Token, error) {
	if s.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	}

	tok, err := s.cfg.Token(ctx)
	if err != nil {
		s.metrics.RecordTokenRefresh(false)
		return nil, s.tokenError(err)
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = s.now().Add(defaultTokenTTL)
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	s.metrics.RecordTokenRefresh(true)
	slog.Debug("bearer token refreshed", "account", s.creds.AccountID, "expires_at", tok.Expiry)
	return tok, nil
}

func (s *BearerSigner) tokenError(err error) error {
	rerr := &model.RemoteError{
		Kind:       model.ErrAuth,
		Method:     http.MethodPost,
		URL:        s.cfg.TokenURL,
		Credential: s.creds.Masked(),
		Err:        err,
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		rerr.StatusCode = re.Response.StatusCode
		rerr.Detail = re.ErrorDescription
		if rerr.Detail == "" {
			rerr.Detail = re.ErrorCode
		}
	}
	return rerr
}
