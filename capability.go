package arkive

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// MaxCapabilityTTL caps how long a part capability may stay valid.
	MaxCapabilityTTL = 7 * 24 * time.Hour

	capTimeFormat = "20060102T150405Z"
)

// CapabilityScope is the canonical content covered by a capability
// signature: one HTTP method against one part of one session, until expiry.
// A signature over one scope is unusable for any other part or session.
type CapabilityScope struct {
	Method     string
	Key        string
	UploadID   string
	PartNumber int
	ExpiresAt  time.Time
}

func (s CapabilityScope) canonical() string {
	return s.Method + "\n" + s.Key + "\n" + s.UploadID + "\n" +
		strconv.Itoa(s.PartNumber) + "\n" + s.ExpiresAt.UTC().Format(capTimeFormat)
}

// CapabilitySigner signs and verifies part-write capabilities with
// HMAC-SHA256 over the canonical scope string.
type CapabilitySigner struct {
	secret []byte
}

// NewCapabilitySigner returns a signer for the given shared secret.
func NewCapabilitySigner(secret string) (*CapabilitySigner, error) {
	if secret == "" {
		return nil, fmt.Errorf("new capability signer: %w: empty secret", ErrInvalidInput)
	}
	return &CapabilitySigner{secret: []byte(secret)}, nil
}

// Sign returns the hex signature for the scope.
func (c *CapabilitySigner) Sign(scope CapabilityScope) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(scope.canonical()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature against the scope and its expiry window.
// Expired scopes return ErrSessionExpired; tampered ones ErrInvalidInput.
func (c *CapabilitySigner) Verify(scope CapabilityScope, signature string, now time.Time) error {
	if scope.ExpiresAt.IsZero() || now.After(scope.ExpiresAt) {
		return fmt.Errorf("verify capability: %w", ErrSessionExpired)
	}
	if time.Until(scope.ExpiresAt) > MaxCapabilityTTL {
		return fmt.Errorf("verify capability: %w: expiry too far in the future", ErrInvalidInput)
	}

	expected := c.Sign(scope)
	got, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("verify capability: %w: malformed signature", ErrInvalidInput)
	}
	want, _ := hex.DecodeString(expected)
	if !hmac.Equal(got, want) {
		return fmt.Errorf("verify capability: %w: signature mismatch", ErrInvalidInput)
	}
	return nil
}

// SignURL builds a signed URL for the scope rooted at baseURL, encoding the
// scope parameters and signature as query values. The result is a single-use
// style write grant; the server re-derives the scope from the same query
// values on verification.
func (c *CapabilitySigner) SignURL(baseURL string, scope CapabilityScope) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("sign capability url: %w", err)
	}

	q := u.Query()
	q.Set("key", scope.Key)
	q.Set("uploadId", scope.UploadID)
	q.Set("partNumber", strconv.Itoa(scope.PartNumber))
	q.Set("expires", scope.ExpiresAt.UTC().Format(capTimeFormat))
	q.Set("signature", c.Sign(scope))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ScopeFromQuery reconstructs a scope from signed query values.
func ScopeFromQuery(method string, q url.Values) (CapabilityScope, string, error) {
	part := 0
	if raw := q.Get("partNumber"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return CapabilityScope{}, "", fmt.Errorf("capability scope: %w: bad part number", ErrInvalidInput)
		}
		part = n
	}

	expires, err := time.Parse(capTimeFormat, q.Get("expires"))
	if err != nil {
		return CapabilityScope{}, "", fmt.Errorf("capability scope: %w: bad expiry", ErrInvalidInput)
	}

	scope := CapabilityScope{
		Method:     method,
		Key:        q.Get("key"),
		UploadID:   q.Get("uploadId"),
		PartNumber: part,
		ExpiresAt:  expires,
	}
	return scope, q.Get("signature"), nil
}
