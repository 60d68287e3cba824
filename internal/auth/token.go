package auth

import (
	"net/mail"
	"strings"
)

// ValidEmail reports whether s is a plausible single email address. The remote
// API uses the account email as its bearer token, so this doubles as the
// token's syntactic check.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	// Reject display-name forms like "Ann <ann@example.com>".
	if addr.Address != s {
		return false
	}
	at := strings.LastIndex(s, "@")
	if at < 1 || !strings.Contains(s[at+1:], ".") {
		return false
	}
	return true
}

// RedactToken keeps a short prefix so operators can correlate audit entries
// without the log becoming a token store.
func RedactToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 3 {
		return "***"
	}
	return token[:3] + "…"
}
