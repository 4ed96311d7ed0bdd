package netsuite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
	"github.com/PDI-Technologies/ns-sub003/internal/domain/port/driven"
	"github.com/PDI-Technologies/ns-sub003/internal/metrics"
)

// Compile-time interface satisfaction check.
var _ driven.RemoteAPI = (*Client)(nil)

const (
	// MaxPageSize is the largest page the list endpoint accepts.
	MaxPageSize = 1000
	// DefaultPageSize is used when a PageRequest carries no limit.
	DefaultPageSize = 100

	maxResponseBytes = 32 << 20
)

// Client implements the driven.RemoteAPI port over the REST record API. It
// only issues GET requests; every request is signed per attempt and routed
// through the Limiter.
type Client struct {
	http       *http.Client
	signer     Signer
	limiter    *Limiter
	baseURL    string
	credential string
	metrics    *metrics.Metrics
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default caching HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithClientMetrics records remote requests on m.
func WithClientMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithCredentialContext attaches a masked credential description to auth
// failures.
func WithCredentialContext(masked string) ClientOption {
	return func(c *Client) { c.credential = masked }
}

// NewClient creates a Client for the record API rooted at recordBaseURL
// (".../services/rest/record/v1"). The default transport is an in-memory
// httpcache so responses carrying validators are revalidated, not refetched.
func NewClient(signer Signer, limiter *Limiter, recordBaseURL string, opts ...ClientOption) *Client {
	c := &Client{
		http: &http.Client{
			Transport: httpcache.NewMemoryCacheTransport(),
			Timeout:   60 * time.Second,
		},
		signer:  signer,
		limiter: limiter,
		baseURL: strings.TrimRight(recordBaseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type listResponse struct {
	Items []struct {
		ID string `json:"id"`
	} `json:"items"`
	HasMore      bool `json:"hasMore"`
	Offset       int  `json:"offset"`
	Count        int  `json:"count"`
	TotalResults int  `json:"totalResults"`
}

// ListPage returns one page of identifiers for entity. The list endpoint never
// returns field data; use GetRecord for each identifier.
func (c *Client) ListPage(ctx context.Context, entity model.EntityType, page model.PageRequest) (*model.IDPage, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(page.Offset))
	if page.Filter != "" {
		query.Set("q", page.Filter)
	}

	body, err := c.do(ctx, http.MethodGet, "list", c.baseURL+"/"+string(entity), query)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, c.malformed(c.baseURL+"/"+string(entity), fmt.Errorf("decode list response: %w", err))
	}

	ids := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.ID == "" {
			return nil, c.malformed(c.baseURL+"/"+string(entity), fmt.Errorf("list item without id at offset %d", page.Offset))
		}
		ids = append(ids, item.ID)
	}

	return &model.IDPage{
		IDs:          ids,
		HasMore:      resp.HasMore,
		Offset:       resp.Offset,
		Count:        resp.Count,
		TotalResults: resp.TotalResults,
	}, nil
}

// GetRecord fetches the complete payload of one record.
func (c *Client) GetRecord(ctx context.Context, entity model.EntityType, id string) (*model.RemoteRecord, error) {
	target := c.baseURL + "/" + string(entity) + "/" + url.PathEscape(id)

	body, err := c.do(ctx, http.MethodGet, "get", target, nil)
	if err != nil {
		return nil, err
	}

	rec, err := model.DecodeRemoteRecord(entity, id, body)
	if err != nil {
		return nil, c.malformed(target, err)
	}
	return rec, nil
}

// do issues a request against the record API. Only GET is permitted; any
// other method fails with model.ErrReadOnly before touching the network.
func (c *Client) do(ctx context.Context, method, endpoint, target string, query url.Values) ([]byte, error) {
	if method != http.MethodGet {
		slog.Error("mutating request refused by read-only client", "method", method, "url", target)
		return nil, &model.RemoteError{Kind: model.ErrReadOnly, Method: method, URL: target}
	}

	var body []byte

	err := c.limiter.Execute(ctx, func(ctx context.Context) error {
		b, err := c.roundTrip(ctx, endpoint, target, query)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// roundTrip performs one signed attempt.
func (c *Client) roundTrip(ctx context.Context, endpoint, target string, query url.Values) ([]byte, error) {
	header, err := c.signer.Sign(ctx, http.MethodGet, target, query)
	if err != nil {
		return nil, err
	}

	reqURL := target
	if len(query) > 0 {
		reqURL += "?" + encodeQuery(query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, c.malformed(target, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordRemoteRequest(endpoint, 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &model.RemoteError{Kind: model.ErrTransient, Method: http.MethodGet, URL: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.metrics.RecordRemoteRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, &model.RemoteError{Kind: model.ErrTransient, StatusCode: resp.StatusCode, Method: http.MethodGet, URL: target, Err: err}
	}

	if kind := model.KindForStatus(resp.StatusCode); kind != nil {
		rerr := &model.RemoteError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Method:     http.MethodGet,
			URL:        target,
			Detail:     errorDetail(body),
		}
		switch kind {
		case model.ErrAuth, model.ErrPermission:
			rerr.Credential = c.credential
		case model.ErrThrottled:
			rerr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		case model.ErrMalformed:
			slog.Error("remote rejected request", "url", reqURL, "status", resp.StatusCode, "detail", rerr.Detail)
		}
		return nil, rerr
	}

	slog.Debug("remote request", "endpoint", endpoint, "url", target, "status", resp.StatusCode,
		"cached", resp.Header.Get(httpcache.XFromCache) != "")
	return body, nil
}

func (c *Client) malformed(target string, err error) error {
	return &model.RemoteError{Kind: model.ErrMalformed, Method: http.MethodGet, URL: target, Err: err}
}

type errorBody struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Details []struct {
		Detail string `json:"detail"`
	} `json:"o:errorDetails"`
}

// errorDetail extracts the most specific message from an error response.
func errorDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case len(eb.Details) > 0 && eb.Details[0].Detail != "":
			return eb.Details[0].Detail
		case eb.Title != "":
			return eb.Title
		case eb.Message != "":
			return eb.Message
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > 512 {
		s = s[:512]
	}
	return s
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// RecordBaseURL returns the record API root under a REST base URL.
func RecordBaseURL(restBase string) string {
	return strings.TrimRight(restBase, "/") + "/record/v1"
}

// TokenURL returns the OAuth 2.0 token endpoint under a REST base URL.
func TokenURL(restBase string) string {
	return strings.TrimRight(restBase, "/") + "/auth/oauth2/v1/token"
}

// DefaultRESTBaseURL derives the REST base URL from an account id.
func DefaultRESTBaseURL(accountID string) string {
	host := strings.ToLower(strings.ReplaceAll(accountID, "_", "-"))
	return "https://" + host + ".suitetalk.api.netsuite.com/services/rest"
}
