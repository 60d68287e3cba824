// Package anomaly inspects the recent audit trail after every recorded event
// and raises at most one breach per evaluation: repeated failed logins,
// unusually heavy API traffic, or any CRITICAL event.
package anomaly

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fletchr/csvhost/internal/alert"
	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/db"
)

const (
	BreachExcessiveFailedLogins = "EXCESSIVE_FAILED_LOGINS"
	BreachUnusualAPIActivity    = "UNUSUAL_API_ACTIVITY"
	BreachUnauthorizedAccess    = "UNAUTHORIZED_ACCESS_ATTEMPT"
)

// lookback is the trailing window all counting rules evaluate against.
const lookback = time.Hour

type Detector struct {
	store         *db.Store
	logger        *slog.Logger
	notifier      alert.Notifier
	securityEmail string

	failedLoginThreshold int
	apiAnomalyThreshold  int
}

func NewDetector(store *db.Store, logger *slog.Logger, notifier alert.Notifier, securityEmail string, failedLoginThreshold, apiAnomalyThreshold int) *Detector {
	return &Detector{
		store:                store,
		logger:               logger,
		notifier:             notifier,
		securityEmail:        securityEmail,
		failedLoginThreshold: failedLoginThreshold,
		apiAnomalyThreshold:  apiAnomalyThreshold,
	}
}

// Evaluate runs the rules in a fixed order; the first rule that matches
// raises a breach and the rest are skipped.
func (d *Detector) Evaluate(ctx context.Context, userID int64, eventType audit.EventType, severity audit.Severity, ip, userAgent string) {
	since := time.Now().UTC().Add(-lookback)

	if eventType == audit.EventLogin && severity == audit.SeverityWarning {
		count, err := d.store.CountSecurityLogs(userID, string(audit.EventLogin), string(audit.SeverityWarning), since)
		if err != nil {
			d.logger.Error("anomaly count failed", "rule", BreachExcessiveFailedLogins, "error", err)
		} else if count >= d.failedLoginThreshold {
			d.raise(ctx, userID, ip, userAgent, BreachExcessiveFailedLogins, map[string]any{
				"count":     count,
				"threshold": d.failedLoginThreshold,
			})
			return
		}
	}

	if eventType == audit.EventAPIAccess {
		count, err := d.store.CountSecurityLogs(userID, string(audit.EventAPIAccess), "", since)
		if err != nil {
			d.logger.Error("anomaly count failed", "rule", BreachUnusualAPIActivity, "error", err)
		} else if count > d.apiAnomalyThreshold {
			d.raise(ctx, userID, ip, userAgent, BreachUnusualAPIActivity, map[string]any{
				"requests":  count,
				"threshold": d.apiAnomalyThreshold,
			})
			return
		}
	}

	if severity == audit.SeverityCritical {
		d.raise(ctx, userID, ip, userAgent, BreachUnauthorizedAccess, nil)
	}
}

// raise persists an OPEN breach record and notifies the affected user and
// security operations. Notification is fire-and-forget.
func (d *Detector) raise(ctx context.Context, userID int64, ip, userAgent, breachType string, details map[string]any) {
	email := ""
	if user, err := d.store.GetUserByID(userID); err == nil {
		email = user.Email
	}

	a := alert.Alert{
		UserID:     userID,
		Email:      email,
		BreachType: breachType,
		Timestamp:  time.Now().UTC(),
		IP:         ip,
		UserAgent:  userAgent,
		Details:    details,
	}

	payload := map[string]any{
		"user_id":         userID,
		"user_email":      email,
		"timestamp":       a.Timestamp.Format(time.RFC3339),
		"ip_address":      ip,
		"user_agent":      userAgent,
		"anomaly_details": details,
	}
	detailsJSON := "{}"
	if b, err := json.Marshal(payload); err == nil {
		detailsJSON = string(b)
	}

	if _, err := d.store.InsertBreach(db.Breach{
		UserID:    userID,
		Type:      breachType,
		Details:   detailsJSON,
		IPAddress: ip,
		UserAgent: userAgent,
	}); err != nil {
		d.logger.Error("breach insert failed", "breach_type", breachType, "error", err)
		return
	}
	d.logger.Warn("security breach raised", "breach_type", breachType, "user_id", userID, "ip", ip)

	if email != "" {
		if err := d.notifier.Notify(ctx, email, a); err != nil {
			d.logger.Error("user alert delivery failed", "error", err)
		}
	}
	if err := d.notifier.Notify(ctx, d.securityEmail, a); err != nil {
		d.logger.Error("security alert delivery failed", "error", err)
	}
}
