// Package alert delivers breach notifications. Delivery is best effort: a
// failed send is logged and dropped, never surfaced to the request that
// triggered the breach.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"sort"
	"strings"
	"time"
)

// Alert is the payload sent to the affected user and to security operations.
type Alert struct {
	UserID     int64
	Email      string
	BreachType string
	Timestamp  time.Time
	IP         string
	UserAgent  string
	Details    map[string]any
}

type Notifier interface {
	Notify(ctx context.Context, to string, a Alert) error
}

// LogNotifier is the default when no SMTP relay is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, to string, a Alert) error {
	n.Logger.Warn("security alert",
		"to", to,
		"breach_type", a.BreachType,
		"user_id", a.UserID,
		"ip", a.IP,
		"details", a.Details,
	)
	return nil
}

// SMTPNotifier sends plain-text alert mail through a single relay.
type SMTPNotifier struct {
	Addr     string // host:port
	From     string
	Username string
	Password string
}

func (n *SMTPNotifier) Notify(_ context.Context, to string, a Alert) error {
	var auth smtp.Auth
	if n.Username != "" {
		host := n.Addr
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
		auth = smtp.PlainAuth("", n.Username, n.Password, host)
	}
	msg := buildMessage(n.From, to, a)
	if err := smtp.SendMail(n.Addr, auth, n.From, []string{to}, msg); err != nil {
		return fmt.Errorf("send alert mail: %w", err)
	}
	return nil
}

func buildMessage(from, to string, a Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: Security alert: %s\r\n", a.BreachType)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Unusual activity was detected on account %d (%s).\r\n\r\n", a.UserID, a.Email)
	fmt.Fprintf(&b, "Alert type: %s\r\n", a.BreachType)
	fmt.Fprintf(&b, "Time:       %s\r\n", a.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "IP:         %s\r\n", a.IP)
	fmt.Fprintf(&b, "User agent: %s\r\n\r\n", a.UserAgent)

	if len(a.Details) > 0 {
		b.WriteString("Details:\r\n")
		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\r\n", k, a.Details[k])
		}
		b.WriteString("\r\n")
	}
	b.WriteString("If this was not you, change your password immediately and review your security log.\r\n")
	return []byte(b.String())
}
