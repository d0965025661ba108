package util

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidGrant  = errors.New("invalid or expired grant")
	ErrMissingSecret = errors.New("grant secret is not configured")
)

const grantCookiePrefix = "auth_"

// GrantCookieName is the cookie carrying the grant for key.
func GrantCookieName(key string) string {
	return grantCookiePrefix + key
}

// GrantSigner issues compact HMAC grants scoped to one link key. A grant lets the
// browser finish navigating to a handshake link without presenting the token again.
type GrantSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewGrantSigner returns a signer whose grants live for ttl.
func NewGrantSigner(secret []byte, ttl time.Duration) *GrantSigner {
	return &GrantSigner{
		secret: secret,
		ttl:    ttl,
	}
}

// TTL is the lifetime of issued grants.
func (s *GrantSigner) TTL() time.Duration { return s.ttl }

// Issue mints a grant for key.
func (s *GrantSigner) Issue(key string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrMissingSecret
	}

	payload := make([]byte, 12) // 4 bytes expiry + 8 random bytes
	binary.BigEndian.PutUint32(payload[:4], uint32(time.Now().Add(s.ttl).Unix()))
	if _, err := rand.Read(payload[4:]); err != nil {
		return "", err
	}

	signature := s.sign(key, payload)
	return fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(signature[:16]),
	), nil
}

// Validate checks that grant was issued for key and has not expired.
func (s *GrantSigner) Validate(key, grant string) error {
	if len(s.secret) == 0 {
		return ErrMissingSecret
	}

	payloadEnc, sigEnc, ok := strings.Cut(grant, ".")
	if !ok {
		return ErrInvalidGrant
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadEnc)
	if err != nil || len(payload) != 12 {
		return ErrInvalidGrant
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigEnc)
	if err != nil || len(sig) != 16 {
		return ErrInvalidGrant
	}

	expected := s.sign(key, payload)
	if !hmac.Equal(sig, expected[:16]) {
		return ErrInvalidGrant
	}

	expires := binary.BigEndian.Uint32(payload[:4])
	if time.Now().Unix() > int64(expires) {
		return ErrInvalidGrant
	}
	return nil
}

func (s *GrantSigner) sign(key string, payload []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte("|"))
	mac.Write(payload)
	return mac.Sum(nil)
}
