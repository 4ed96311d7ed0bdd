package model

import (
	"errors"
	"strings"
	"time"
)

// AuthMethod selects the request-signing protocol.
type AuthMethod string

const (
	// AuthLegacy is token-based authentication: OAuth 1.0-style HMAC-SHA256 signatures.
	AuthLegacy AuthMethod = "tba"
	// AuthBearer is the OAuth 2.0 client-credentials flow.
	AuthBearer AuthMethod = "oauth2"
)

// ParseAuthMethod accepts the configured spelling of an auth method.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tba", "legacy", "oauth1":
		return AuthLegacy, nil
	case "oauth2", "bearer":
		return AuthBearer, nil
	}
	return "", errors.New("auth method must be one of tba, oauth2")
}

// CredentialSet holds everything needed to authenticate against one account.
// It is immutable for the duration of a run.
type CredentialSet struct {
	AccountID      string
	ConsumerKey    string
	ConsumerSecret string
	TokenID        string
	TokenSecret    string
	AuthMethod     AuthMethod
}

// HasToken reports whether the set carries a token pair (4-credential mode).
func (c CredentialSet) HasToken() bool {
	return c.TokenID != "" && c.TokenSecret != ""
}

// Validate checks that the fields required by the auth method are present.
func (c CredentialSet) Validate() error {
	var missing []string
	if c.AccountID == "" {
		missing = append(missing, "account id")
	}
	if c.ConsumerKey == "" {
		missing = append(missing, "consumer key")
	}
	if c.ConsumerSecret == "" {
		missing = append(missing, "consumer secret")
	}
	if c.AuthMethod == AuthLegacy && (c.TokenID == "") != (c.TokenSecret == "") {
		missing = append(missing, "token id and token secret together")
	}
	if len(missing) > 0 {
		return errors.New("credentials incomplete: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// Masked describes the credential without revealing secrets.
func (c CredentialSet) Masked() string {
	s := string(c.AuthMethod) + " account=" + c.AccountID + " consumer_key=" + Mask(c.ConsumerKey)
	if c.TokenID != "" {
		s += " token=" + Mask(c.TokenID)
	}
	return s
}

// Mask keeps the first and last four characters of a secret.
func Mask(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Credential is one stored credential value, keyed by name (e.g. "consumer_secret").
type Credential struct {
	ID        int64
	Name      string
	Value     string
	UpdatedAt time.Time
}
