package session

import "time"

// Session is the stored record behind one bearer token. Times are unix
// milliseconds.
type Session struct {
	UserID    string
	IssuedAt  int64
	ExpiresAt int64
}

// ExpiredAt reports whether the session is dead at now. The expiry instant
// itself counts as expired.
func (s *Session) ExpiredAt(now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresAt
}

// Age is the time since issue at now, never negative.
func (s *Session) Age(now time.Time) time.Duration {
	if d := now.Sub(time.UnixMilli(s.IssuedAt)); d > 0 {
		return d
	}
	return 0
}
