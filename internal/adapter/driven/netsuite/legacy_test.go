package netsuite

import (
	"context"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PDI-Technologies/ns-sub003/internal/domain/model"
)

const testVendorURL = "https://1234567-sb1.suitetalk.api.netsuite.com/services/rest/record/v1/vendor"

func testLegacyCreds() model.CredentialSet {
	return model.CredentialSet{
		AccountID:      "1234567_SB1",
		ConsumerKey:    "ck-0123456789",
		ConsumerSecret: "cs-secret",
		TokenID:        "tok-abcdef",
		TokenSecret:    "ts-secret",
		AuthMethod:     model.AuthLegacy,
	}
}

func fixedLegacySigner() *LegacySigner {
	return NewLegacySigner(testLegacyCreds(),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
		WithNonceSource(func() (string, error) { return "0123456789abcdef0123456789abcdef", nil }),
	)
}

func incrementalQuery() url.Values {
	q := url.Values{}
	q.Set("limit", "100")
	q.Set("offset", "0")
	q.Set("q", "lastModifiedDate >= '2026-01-01T00:00:00Z'")
	return q
}

func TestLegacySigner_BaseStringGolden(t *testing.T) {
	s := fixedLegacySigner()
	oauth := s.oauthParams("0123456789abcdef0123456789abcdef", time.Unix(1700000000, 0))

	base := signatureBaseString("get", testVendorURL, oauth, incrementalQuery())

	g := goldie.New(t)
	g.Assert(t, "legacy_base_string", []byte(base))
}

func TestLegacySigner_AuthorizationGolden(t *testing.T) {
	h, err := fixedLegacySigner().Sign(context.Background(), "GET", testVendorURL, incrementalQuery())
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, "legacy_authorization", []byte(h.Get("Authorization")))
}

func TestLegacySigner_RealmFirst(t *testing.T) {
	h, err := fixedLegacySigner().Sign(context.Background(), "GET", testVendorURL, nil)
	require.NoError(t, err)

	assert.Regexp(t, `^OAuth realm="1234567_SB1", oauth_consumer_key=`, h.Get("Authorization"))
}

func TestLegacySigner_DifferentQueryDifferentSignature(t *testing.T) {
	s := fixedLegacySigner()
	sigRe := regexp.MustCompile(`oauth_signature="([^"]+)"`)

	seen := make(map[string]string)
	for _, offset := range []string{"0", "100", "200", "1000"} {
		q := url.Values{}
		q.Set("limit", "100")
		q.Set("offset", offset)

		h, err := s.Sign(context.Background(), "GET", testVendorURL, q)
		require.NoError(t, err)

		m := sigRe.FindStringSubmatch(h.Get("Authorization"))
		require.Len(t, m, 2)
		prev, dup := seen[m[1]]
		assert.False(t, dup, "offset %s reuses the signature of offset %s", offset, prev)
		seen[m[1]] = offset
	}

	h1, err := s.Sign(context.Background(), "GET", testVendorURL, nil)
	require.NoError(t, err)
	h2, err := s.Sign(context.Background(), "GET", testVendorURL+"/42", nil)
	require.NoError(t, err)
	assert.NotEqual(t, h1.Get("Authorization"), h2.Get("Authorization"))
}

func TestLegacySigner_FreshNoncePerCall(t *testing.T) {
	s := NewLegacySigner(testLegacyCreds())

	h1, err := s.Sign(context.Background(), "GET", testVendorURL, nil)
	require.NoError(t, err)
	h2, err := s.Sign(context.Background(), "GET", testVendorURL, nil)
	require.NoError(t, err)

	nonceRe := regexp.MustCompile(`oauth_nonce="([0-9a-f]{32})"`)
	n1 := nonceRe.FindStringSubmatch(h1.Get("Authorization"))
	n2 := nonceRe.FindStringSubmatch(h2.Get("Authorization"))
	require.Len(t, n1, 2)
	require.Len(t, n2, 2)
	assert.NotEqual(t, n1[1], n2[1])
}

func TestLegacySigner_WithoutTokenOmitsOAuthToken(t *testing.T) {
	creds := testLegacyCreds()
	creds.TokenID, creds.TokenSecret = "", ""

	h, err := NewLegacySigner(creds).Sign(context.Background(), "GET", testVendorURL, nil)
	require.NoError(t, err)
	assert.NotContains(t, h.Get("Authorization"), "oauth_token=")
}

func TestPercentEncode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcXYZ019-._~", "abcXYZ019-._~"},
		{"a b", "a%20b"},
		{"a+b=c&d", "a%2Bb%3Dc%26d"},
		{"2026-01-01T00:00:00Z", "2026-01-01T00%3A00%3A00Z"},
		{"é", "%C3%A9"},
		{"'*", "%27%2A"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, percentEncode(tt.in))
		})
	}
}

func TestEncodeQuery_SortedAndRFC3986(t *testing.T) {
	assert.Equal(t,
		"limit=100&offset=0&q=lastModifiedDate%20%3E%3D%20%272026-01-01T00%3A00%3A00Z%27",
		encodeQuery(incrementalQuery()),
	)
}

func TestSortedParams_KeyThenValue(t *testing.T) {
	q := url.Values{}
	q.Add("a0", "2")
	q.Add("a", "1")
	q.Add("b", "z")
	q.Add("b", "y")

	assert.Equal(t, "a=1&a0=2&b=y&b=z", encodeQuery(q))

	base := signatureBaseString("GET", testVendorURL, map[string]string{"oauth_version": "1.0"}, q)
	assert.Contains(t, base, percentEncode("a=1&a0=2&b=y&b=z&oauth_version=1.0"))
}

func TestNewSigner_SelectsScheme(t *testing.T) {
	legacy, err := NewSigner(testLegacyCreds(), "")
	require.NoError(t, err)
	assert.IsType(t, &LegacySigner{}, legacy)

	creds := testLegacyCreds()
	creds.AuthMethod = model.AuthBearer
	bearer, err := NewSigner(creds, "https://example.test/token")
	require.NoError(t, err)
	assert.IsType(t, &BearerSigner{}, bearer)

	creds.ConsumerSecret = ""
	_, err = NewSigner(creds, "https://example.test/token")
	assert.ErrorContains(t, err, "consumer secret")
}
