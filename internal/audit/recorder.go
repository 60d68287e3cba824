package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"

	"github.com/fletchr/csvhost/internal/db"
)

// Detector is invoked synchronously after every recorded event. Implemented
// by the anomaly package; failures inside it never reach the caller.
type Detector interface {
	Evaluate(ctx context.Context, userID int64, eventType EventType, severity Severity, ip, userAgent string)
}

// Recorder writes the append-only audit trail. Record never fails from the
// caller's point of view: a persistence problem must not break the operation
// that is being audited.
type Recorder struct {
	store    *db.Store
	logger   *slog.Logger
	detector Detector
}

func NewRecorder(store *db.Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger}
}

// SetDetector wires the anomaly detector in after construction; the detector
// itself needs the recorder's store, so the two are tied together at startup.
func (r *Recorder) SetDetector(d Detector) {
	r.detector = d
}

func (r *Recorder) Record(ctx context.Context, e Event) {
	details := "{}"
	if e.Details != nil {
		if b, err := json.Marshal(e.Details); err == nil {
			details = string(b)
		}
	}

	err := r.store.InsertSecurityLog(db.SecurityLog{
		UserID:    e.UserID,
		EventType: string(e.Type),
		Action:    e.Action,
		Details:   details,
		IPAddress: e.IP,
		UserAgent: e.UserAgent,
		Severity:  string(e.Severity),
	})
	if err != nil {
		r.logger.Error("audit insert failed", "error", err, "event_type", e.Type, "action", e.Action)
		sentry.CaptureException(fmt.Errorf("audit insert: %w", err))
		return
	}

	if r.detector != nil {
		r.evaluate(ctx, e)
	}
}

func (r *Recorder) evaluate(ctx context.Context, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("anomaly detector panicked", "panic", rec)
			sentry.CaptureMessage(fmt.Sprintf("anomaly detector panic: %v", rec))
		}
	}()
	r.detector.Evaluate(ctx, e.UserID, e.Type, e.Severity, e.IP, e.UserAgent)
}

// List returns the user's audit trail, newest first.
func (r *Recorder) List(userID int64, limit int) ([]db.SecurityLog, error) {
	return r.store.ListSecurityLogs(userID, limit)
}
