package model

import "time"

// CachedLink mirrors the resolution-relevant fields of a Link in Redis.
// It is never authoritative; the links table always wins.
type CachedLink struct {
	Key          string    `json:"key"`
	URL          string    `json:"url"`
	Access       Access    `json:"access"`
	PasswordHash *string   `json:"passwordHash"`
	OwnerID      *string   `json:"ownerId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// NewCachedLink projects a Link onto its cache representation.
func NewCachedLink(l *Link) CachedLink {
	return CachedLink{
		Key:          l.Key,
		URL:          l.URL,
		Access:       l.Access,
		PasswordHash: l.PasswordHash,
		OwnerID:      l.OwnerID,
		ExpiresAt:    l.ExpiresAt,
	}
}

// Expired reports whether the mirrored link has passed its expiry.
func (c CachedLink) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// OwnedBy reports whether userID is the mirrored link's owner.
func (c CachedLink) OwnedBy(userID string) bool {
	return c.OwnerID != nil && userID != "" && *c.OwnerID == userID
}

// TTL bounds a cache lifetime by the link's remaining lifetime. A non-positive result means
// the entry must not be written.
func (c CachedLink) TTL(now time.Time, ceiling time.Duration) time.Duration {
	remaining := c.ExpiresAt.Sub(now)
	if ceiling > 0 && remaining > ceiling {
		return ceiling
	}
	return remaining
}
