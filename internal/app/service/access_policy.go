package service

import (
	"time"

	"github.com/sifan077/LinkSwift/internal/app/model"
)

// RedirectHints are the pages a caller is sent to when a resolution needs more
// input. PasswordURL and HandshakeURL are prefixes; the link key is appended.
type RedirectHints struct {
	LoginURL     string
	PasswordURL  string
	HandshakeURL string
}

// AccessRequest carries what the requester presented.
type AccessRequest struct {
	CallerID string
	Password string
	// Grant is true when the request carries a valid short-lived grant for this key,
	// issued after a successful handshake.
	Grant bool
}

// AccessPolicy decides whether a resolution may proceed.
type AccessPolicy struct {
	hasher PasswordHasher
	hints  RedirectHints
}

// NewAccessPolicy returns an evaluator using hasher for password links.
func NewAccessPolicy(hasher PasswordHasher, hints RedirectHints) *AccessPolicy {
	return &AccessPolicy{hasher: hasher, hints: hints}
}

// Evaluate returns nil when the link may be resolved, or a *Error describing why not.
//
//	expired                          -> not_found (same as unknown key)
//	owner,     owner caller          -> allow
//	owner,     anonymous             -> auth_required
//	owner,     other caller          -> unauthorized
//	handshake, owner caller or grant -> allow
//	handshake, otherwise             -> auth_required (handshake page)
//	password,  no password           -> password_required
//	password,  wrong password        -> invalid_password
//	public                           -> allow
func (p *AccessPolicy) Evaluate(link model.CachedLink, req AccessRequest, now time.Time) error {
	if link.Expired(now) {
		return notFound()
	}

	switch link.Access {
	case model.AccessOwner:
		if req.CallerID == "" {
			return &Error{
				Kind:     KindAuthRequired,
				Message:  "authentication required",
				Redirect: p.hints.LoginURL,
			}
		}
		if !link.OwnedBy(req.CallerID) {
			return &Error{Kind: KindUnauthorized, Message: "this link belongs to another user"}
		}
		return nil

	case model.AccessHandshake:
		if link.OwnedBy(req.CallerID) || req.Grant {
			return nil
		}
		return &Error{
			Kind:     KindAuthRequired,
			Message:  "a one-time access token is required",
			Redirect: p.hints.HandshakeURL + link.Key,
		}

	case model.AccessPassword:
		if link.PasswordHash == nil {
			return internal("password link without hash", nil)
		}
		if req.Password == "" {
			return &Error{
				Kind:     KindPasswordRequired,
				Message:  "password required to access this link",
				Redirect: p.hints.PasswordURL + link.Key,
			}
		}
		ok, err := p.hasher.Compare(*link.PasswordHash, req.Password)
		if err != nil {
			return internal("compare password", err)
		}
		if !ok {
			return &Error{Kind: KindInvalidPassword, Message: "incorrect password"}
		}
		return nil

	case model.AccessPublic:
		return nil
	}

	return internal("unknown access policy "+string(link.Access), nil)
}
