package gateway

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/fletchr/csvhost/internal/auth"
)

// Request carries per-request state into every gateway decision: the resolved
// identity, the client address, and a correlation id that ties the request's
// audit records together.
type Request struct {
	Principal     auth.Principal
	IP            string
	UserAgent     string
	CorrelationID string
}

// NewRequest captures client metadata from the HTTP request. The principal
// starts anonymous; identity resolution fills it in.
func NewRequest(r *http.Request) Request {
	return Request{
		Principal:     auth.Anonymous(),
		IP:            ClientIP(r),
		UserAgent:     r.UserAgent(),
		CorrelationID: uuid.NewString(),
	}
}

func (req Request) UserID() int64 {
	if req.Principal.Anonymous {
		return 0
	}
	return req.Principal.UserID
}

// ClientIP prefers the CDN header, then the first X-Forwarded-For hop, then
// the socket address.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
