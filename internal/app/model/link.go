package model

import "time"

// Access tags how a link may be resolved. Exactly one policy applies per link.
type Access string

const (
	AccessPublic    Access = "public"
	AccessPassword  Access = "password"
	AccessOwner     Access = "owner"
	AccessHandshake Access = "handshake"
)

// Private reports whether the policy restricts resolution to the owner (or a handshake holder).
func (a Access) Private() bool {
	return a == AccessOwner || a == AccessHandshake
}

// Valid reports whether a is one of the known policies.
func (a Access) Valid() bool {
	switch a {
	case AccessPublic, AccessPassword, AccessOwner, AccessHandshake:
		return true
	}
	return false
}

// Link describes the core short-link entity stored in Postgres.
type Link struct {
	Key               string        `db:"short_key" gorm:"column:short_key;primaryKey;size:32"`
	URL               string        `db:"url" gorm:"type:text;not null"`
	Name              *string       `db:"name" gorm:"size:120"`
	OwnerID           *string       `db:"owner_id" gorm:"size:64;index"`
	Access            Access        `db:"access" gorm:"size:16;not null;default:public"`
	PasswordHash      *string       `db:"password_hash" gorm:"size:72" json:"-"`
	HandshakeToken    *string       `db:"handshake_token" gorm:"size:64" json:"-"`
	HandshakeConsumed bool          `db:"handshake_consumed" gorm:"not null;default:false"`
	ExpiresAt         time.Time     `db:"expires_at" gorm:"not null;index"`
	TotalClicks       int64         `db:"total_clicks" gorm:"not null;default:0"`
	ClicksByDay       []DailyClicks `db:"clicks_by_day" gorm:"type:text;serializer:json"`
	RecentIPs         []string      `db:"recent_ips" gorm:"type:text;serializer:json"`
	CreatedAt         time.Time     `db:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time     `db:"updated_at" gorm:"autoUpdateTime"`
}

// Private reports whether only the owner (or a handshake holder) may resolve the link.
func (l *Link) Private() bool { return l.Access.Private() }

// Expired reports whether the link has passed its expiry at the given instant.
func (l *Link) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// OwnedBy reports whether userID is the link's owner.
func (l *Link) OwnedBy(userID string) bool {
	return l.OwnerID != nil && userID != "" && *l.OwnerID == userID
}

// DailyClicks is one bucket of the per-day click histogram.
type DailyClicks struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Analytics is the read view of a link's click counters.
type Analytics struct {
	TotalClicks int64         `json:"totalClicks"`
	ClicksByDay []DailyClicks `json:"clicksByDay"`
	RecentIPs   []string      `json:"recentIPs"`
}

// Analytics returns a copy of the link's counters.
func (l *Link) Analytics() Analytics {
	days := make([]DailyClicks, len(l.ClicksByDay))
	copy(days, l.ClicksByDay)
	ips := make([]string, len(l.RecentIPs))
	copy(ips, l.RecentIPs)
	return Analytics{
		TotalClicks: l.TotalClicks,
		ClicksByDay: days,
		RecentIPs:   ips,
	}
}

// ApplyClick counts one click on day from ip, keeping at most recentLimit IPs (oldest dropped first).
func (l *Link) ApplyClick(day, ip string, recentLimit int) {
	l.TotalClicks++

	found := false
	for i := range l.ClicksByDay {
		if l.ClicksByDay[i].Date == day {
			l.ClicksByDay[i].Count++
			found = true
			break
		}
	}
	if !found {
		l.ClicksByDay = append(l.ClicksByDay, DailyClicks{Date: day, Count: 1})
	}

	if ip == "" || recentLimit <= 0 {
		return
	}
	l.RecentIPs = append(l.RecentIPs, ip)
	if over := len(l.RecentIPs) - recentLimit; over > 0 {
		l.RecentIPs = append([]string(nil), l.RecentIPs[over:]...)
	}
}
