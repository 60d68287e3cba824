package anomaly

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fletchr/csvhost/internal/alert"
	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/db"
)

type captureNotifier struct {
	mu    sync.Mutex
	sends []struct {
		To    string
		Alert alert.Alert
	}
}

func (c *captureNotifier) Notify(_ context.Context, to string, a alert.Alert) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, struct {
		To    string
		Alert alert.Alert
	}{to, a})
	return nil
}

func testDetector(t *testing.T) (*Detector, *db.Store, *captureNotifier) {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notifier := &captureNotifier{}
	d := NewDetector(store, logger, notifier, "soc@example.com", 10, 500)
	return d, store, notifier
}

func seedLogs(t *testing.T, store *db.Store, userID int64, n int, eventType, severity string, age time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		err := store.InsertSecurityLog(db.SecurityLog{
			UserID:    userID,
			EventType: eventType,
			Action:    "TEST",
			Details:   "{}",
			Severity:  severity,
			CreatedAt: time.Now().UTC().Add(-age),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestFailedLoginThresholdCrossing(t *testing.T) {
	d, store, notifier := testDetector(t)
	uid, err := store.CreateUser("ann", "ann@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}

	// 9 warnings in the window: below threshold, nothing raised.
	seedLogs(t, store, uid, 9, "LOGIN", "WARNING", 10*time.Minute)
	d.Evaluate(context.Background(), uid, audit.EventLogin, audit.SeverityWarning, "10.0.0.1", "ua")
	if breaches, _ := store.ListBreaches(uid, 10); len(breaches) != 0 {
		t.Fatalf("breach raised below threshold: %+v", breaches)
	}

	// 10th warning crosses the threshold.
	seedLogs(t, store, uid, 1, "LOGIN", "WARNING", time.Minute)
	d.Evaluate(context.Background(), uid, audit.EventLogin, audit.SeverityWarning, "10.0.0.1", "ua")
	breaches, err := store.ListBreaches(uid, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(breaches) != 1 || breaches[0].Type != BreachExcessiveFailedLogins {
		t.Fatalf("breaches = %+v", breaches)
	}
	if breaches[0].Status != db.BreachStatusOpen {
		t.Fatalf("breach status = %q", breaches[0].Status)
	}

	// Notified twice: affected user and security operations.
	if len(notifier.sends) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(notifier.sends))
	}
	if notifier.sends[0].To != "ann@example.com" || notifier.sends[1].To != "soc@example.com" {
		t.Fatalf("notification targets: %s, %s", notifier.sends[0].To, notifier.sends[1].To)
	}
}

func TestOldFailuresOutsideWindowIgnored(t *testing.T) {
	d, store, _ := testDetector(t)
	uid, err := store.CreateUser("bob", "bob@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	seedLogs(t, store, uid, 20, "LOGIN", "WARNING", 2*time.Hour)
	d.Evaluate(context.Background(), uid, audit.EventLogin, audit.SeverityWarning, "10.0.0.1", "ua")
	if breaches, _ := store.ListBreaches(uid, 10); len(breaches) != 0 {
		t.Fatalf("stale warnings raised a breach: %+v", breaches)
	}
}

func TestUnusualAPIActivity(t *testing.T) {
	d, store, _ := testDetector(t)
	uid, err := store.CreateUser("carol", "carol@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}

	d2 := NewDetector(store, d.logger, d.notifier, "soc@example.com", 10, 5)
	seedLogs(t, store, uid, 6, "API_ACCESS", "INFO", time.Minute)
	d2.Evaluate(context.Background(), uid, audit.EventAPIAccess, audit.SeverityInfo, "10.0.0.1", "ua")

	breaches, _ := store.ListBreaches(uid, 10)
	if len(breaches) != 1 || breaches[0].Type != BreachUnusualAPIActivity {
		t.Fatalf("breaches = %+v", breaches)
	}
}

func TestCriticalAlwaysRaises(t *testing.T) {
	d, store, notifier := testDetector(t)
	d.Evaluate(context.Background(), 42, audit.EventDatabaseAccess, audit.SeverityCritical, "10.0.0.1", "ua")

	breaches, _ := store.ListBreaches(42, 10)
	if len(breaches) != 1 || breaches[0].Type != BreachUnauthorizedAccess {
		t.Fatalf("breaches = %+v", breaches)
	}
	// User 42 does not exist, so only security operations is notified.
	if len(notifier.sends) != 1 || notifier.sends[0].To != "soc@example.com" {
		t.Fatalf("sends = %+v", notifier.sends)
	}
}

func TestFirstMatchWins(t *testing.T) {
	d, store, _ := testDetector(t)
	uid, err := store.CreateUser("dave", "dave@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	// A CRITICAL API_ACCESS event over the traffic threshold matches both the
	// API rule and the CRITICAL rule; only the first may raise.
	d2 := NewDetector(store, d.logger, d.notifier, "soc@example.com", 10, 5)
	seedLogs(t, store, uid, 6, "API_ACCESS", "INFO", time.Minute)
	d2.Evaluate(context.Background(), uid, audit.EventAPIAccess, audit.SeverityCritical, "10.0.0.1", "ua")

	breaches, _ := store.ListBreaches(uid, 10)
	if len(breaches) != 1 {
		t.Fatalf("raised %d breaches, want 1", len(breaches))
	}
	if breaches[0].Type != BreachUnusualAPIActivity {
		t.Fatalf("breach type = %q, want first matching rule", breaches[0].Type)
	}
}
