package auth

import (
	"fmt"
	"time"
)

// IdentityAttributes are the profile attributes recorded on an identity at sign up.
type IdentityAttributes struct {
	FullName string `json:"full_name,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Session is the live proof that an identity is authenticated.
type Session struct {
	IdentityID  string             `json:"identity_id"`
	Email       string             `json:"email"`
	Attributes  IdentityAttributes `json:"attributes"`
	IssuedAt    time.Time          `json:"issued_at"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	AccessToken string             `json:"-"`
}

// Clone returns a deep copy, nil safe.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.ExpiresAt != nil {
		exp := *s.ExpiresAt
		out.ExpiresAt = &exp
	}
	return &out
}

// IsExpired reports whether the session has an expiry that is not after now.
func (s *Session) IsExpired(now time.Time) bool {
	if s == nil || s.ExpiresAt == nil {
		return false
	}
	return !s.ExpiresAt.After(now)
}

func (s Session) String() string {
	expires := "<nil>"
	if s.ExpiresAt != nil {
		expires = s.ExpiresAt.Format(time.RFC1123)
	}
	return fmt.Sprintf(
		"identity=%s email=%s iat=%s exp=%s",
		s.IdentityID,
		s.Email,
		s.IssuedAt.Format(time.RFC1123),
		expires,
	)
}

// Identity is the account record returned by the identity backend on creation.
type Identity struct {
	ID         string             `json:"id"`
	Email      string             `json:"email"`
	Attributes IdentityAttributes `json:"attributes"`
	CreatedAt  time.Time          `json:"created_at"`
	// Session is set when the backend signed the new identity in right away.
	Session *Session `json:"-"`
}

// SessionEventKind names the reason for a session change.
type SessionEventKind string

const (
	SessionEventInitial        SessionEventKind = "initial_session"
	SessionEventSignedIn       SessionEventKind = "signed_in"
	SessionEventSignedOut      SessionEventKind = "signed_out"
	SessionEventTokenRefreshed SessionEventKind = "token_refreshed"
	SessionEventExpired        SessionEventKind = "session_expired"
	SessionEventUserUpdated    SessionEventKind = "user_updated"
)

// SessionEvent is emitted by the identity backend whenever the session changes.
// Session is nil for sign out and expiry.
type SessionEvent struct {
	Kind    SessionEventKind
	Session *Session
}
