package session

import "time"

// LogoutReason records why a session stopped being active.
type LogoutReason uint8

const (
	ReasonNone LogoutReason = iota
	ReasonUserLogout
	ReasonLogoutAll
	ReasonAdminRevoked
	ReasonPasswordChanged
	ReasonTokenReuse
	ReasonExpired
)

// String implements fmt.Stringer for audit payloads.
func (r LogoutReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUserLogout:
		return "user_logout"
	case ReasonLogoutAll:
		return "logout_all"
	case ReasonAdminRevoked:
		return "admin_revoked"
	case ReasonPasswordChanged:
		return "password_changed"
	case ReasonTokenReuse:
		return "token_reuse"
	case ReasonExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Session is the server-side record behind an authenticated principal's
// token pair. One principal may hold many concurrent sessions, one per
// device or browser.
type Session struct {
	ID             string
	PrincipalID    string
	Fingerprint    string
	IP             string
	UserAgent      string
	Location       string
	CreatedAt      int64
	LastActivityAt int64
	ExpiresAt      int64
	Active         bool
	RememberMe     bool
	LogoutReason   LogoutReason
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(now time.Time) bool {
	return now.Unix() >= s.ExpiresAt
}
