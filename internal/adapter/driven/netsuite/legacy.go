package netsuite

import (
	"cmp"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

// Compile-time interface satisfaction check.
var _ Signer = (*LegacySigner)(nil)

const signatureMethod = "HMAC-SHA256"

// LegacySigner implements token-based authentication: an OAuth 1.0 header
// signed with HMAC-SHA256 over the method, base URL and every parameter.
type LegacySigner struct {
	creds model.CredentialSet
	now   func() time.Time
	nonce func() (string, error)
}

// NewLegacySigner creates a LegacySigner. The token pair is optional; without
// it the request is signed with the consumer credentials only.
func NewLegacySigner(creds model.CredentialSet, opts ...SignerOption) *LegacySigner {
	cfg := newSignerConfig(opts)
	return &LegacySigner{
		creds: creds,
		now:   cfg.now,
		nonce: cfg.nonce,
	}
}

// Sign computes a fresh nonce, timestamp and signature for this exact request.
func (s *LegacySigner) Sign(_ context.Context, method, baseURL string, query url.Values) (http.Header, error) {
	nonce, err := s.nonce()
	if err != nil {
		return nil, err
	}

	oauth := s.oauthParams(nonce, s.now())
	base := signatureBaseString(method, baseURL, oauth, query)
	oauth["oauth_signature"] = s.signature(base)

	h := make(http.Header)
	h.Set("Authorization", authorizationHeader(realm(s.creds.AccountID), oauth))
	return h, nil
}

func (s *LegacySigner) oauthParams(nonce string, now time.Time) map[string]string {
	p := map[string]string{
		"oauth_consumer_key":     s.creds.ConsumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": signatureMethod,
		"oauth_timestamp":        strconv.FormatInt(now.Unix(), 10),
		"oauth_version":          "1.0",
	}
	if s.creds.TokenID != "" {
		p["oauth_token"] = s.creds.TokenID
	}
	return p
}

func (s *LegacySigner) signature(base string) string {
	key := percentEncode(s.creds.ConsumerSecret) + "&" + percentEncode(s.creds.TokenSecret)
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signatureBaseString builds METHOD&enc(baseURL)&enc(params), where params is
// the sorted, encoded union of the oauth parameters and the query.
func signatureBaseString(method, baseURL string, oauth map[string]string, query url.Values) string {
	params := sortedParams(oauth, query)
	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(joinParams(params))
}

type param struct {
	key, value string
}

// sortedParams encodes every pair and orders them by encoded key, then by
// encoded value.
func sortedParams(oauth map[string]string, query url.Values) []param {
	params := make([]param, 0, len(oauth)+len(query))
	for k, v := range oauth {
		params = append(params, param{percentEncode(k), percentEncode(v)})
	}
	for k, vs := range query {
		for _, v := range vs {
			params = append(params, param{percentEncode(k), percentEncode(v)})
		}
	}
	slices.SortFunc(params, func(a, b param) int {
		if c := cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
		return cmp.Compare(a.value, b.value)
	})
	return params
}

func joinParams(params []param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.key + "=" + p.value
	}
	return strings.Join(parts, "&")
}

// authorizationHeader renders the OAuth header with the realm first and the
// oauth parameters in key order.
func authorizationHeader(realm string, oauth map[string]string) string {
	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, `realm="`+realm+`"`)
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+`="`+percentEncode(oauth[k])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}

// realm is the account id in its canonical upper-case, underscore form
// (sandbox ids appear as 1234567-sb1 in host names).
func realm(accountID string) string {
	return strings.ToUpper(strings.ReplaceAll(accountID, "-", "_"))
}

// percentEncode escapes everything except the RFC 3986 unreserved set.
func percentEncode(s string) string {
	const hexDigits = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

// encodeQuery renders query with the same encoding used for signing, so the
// server sees byte-for-byte the parameters that were signed.
func encodeQuery(query url.Values) string {
	return joinParams(sortedParams(nil, query))
}
