package db

import (
	"database/sql"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUserLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateUser("ann", "Ann@Example.com", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	u, err := s.GetUserByEmail("ann@example.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u.ID != id || u.Username != "ann" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.LoginAttempts != 0 || u.AccountLockedUntil != nil {
		t.Fatalf("new user has login state: %+v", u)
	}

	if _, err := s.CreateUser("ann2", "ann@example.com", "hash2"); err == nil {
		t.Fatal("duplicate email accepted")
	}
}

func TestFailedLoginLockout(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateUser("bob", "bob@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 4; i++ {
		attempts, lockedUntil, err := s.RecordFailedLogin(id, "10.0.0.1", 5, 30*time.Minute)
		if err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if attempts != i {
			t.Fatalf("attempt %d counted as %d", i, attempts)
		}
		if lockedUntil != nil {
			t.Fatalf("locked too early at attempt %d", i)
		}
	}

	attempts, lockedUntil, err := s.RecordFailedLogin(id, "10.0.0.1", 5, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 5 || lockedUntil == nil {
		t.Fatalf("attempt 5: attempts=%d locked=%v", attempts, lockedUntil)
	}
	if until := time.Until(*lockedUntil); until < 29*time.Minute || until > 31*time.Minute {
		t.Fatalf("lock expiry %v not ~30m out", until)
	}

	if err := s.ResetLoginState(id, "10.0.0.2"); err != nil {
		t.Fatal(err)
	}
	u, err := s.GetUserByID(id)
	if err != nil {
		t.Fatal(err)
	}
	if u.LoginAttempts != 0 || u.AccountLockedUntil != nil {
		t.Fatalf("reset did not clear state: %+v", u)
	}
	if u.LastLoginIP != "10.0.0.2" || u.LastLoginAt == nil {
		t.Fatalf("reset did not record last login: %+v", u)
	}
}

func TestDatabaseCRUD(t *testing.T) {
	s := openTestStore(t)
	uid, err := s.CreateUser("carol", "carol@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}

	dbID, err := s.CreateDatabase(uid, "Contacts")
	if err != nil {
		t.Fatal(err)
	}
	d, err := s.GetDatabase(dbID)
	if err != nil {
		t.Fatal(err)
	}
	if d.UserID != uid || d.Name != "Contacts" {
		t.Fatalf("unexpected database %+v", d)
	}

	list, err := s.ListDatabases(uid)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("listed %d databases", len(list))
	}

	if err := s.DeleteDatabase(dbID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetDatabase(dbID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("want ErrNoRows after delete, got %v", err)
	}
	if err := s.DeleteDatabase(dbID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("double delete: %v", err)
	}
}

func TestSecurityLogWindowCount(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	insert := func(age time.Duration, eventType, severity string) {
		t.Helper()
		err := s.InsertSecurityLog(SecurityLog{
			UserID:    7,
			EventType: eventType,
			Action:    "TEST",
			Details:   "{}",
			Severity:  severity,
			CreatedAt: now.Add(-age),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	insert(10*time.Minute, "LOGIN", "WARNING")
	insert(30*time.Minute, "LOGIN", "WARNING")
	insert(2*time.Hour, "LOGIN", "WARNING") // outside window
	insert(5*time.Minute, "LOGIN", "INFO")
	insert(5*time.Minute, "API_ACCESS", "INFO")

	n, err := s.CountSecurityLogs(7, "LOGIN", "WARNING", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("LOGIN/WARNING in window = %d, want 2", n)
	}

	n, err = s.CountSecurityLogs(7, "API_ACCESS", "", now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("API_ACCESS in window = %d, want 1", n)
	}

	logs, err := s.ListSecurityLogs(7, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 5 {
		t.Fatalf("listed %d logs", len(logs))
	}
	for i := 1; i < len(logs); i++ {
		if logs[i].CreatedAt.After(logs[i-1].CreatedAt) {
			t.Fatal("logs not newest first")
		}
	}
}

func TestBreaches(t *testing.T) {
	s := openTestStore(t)
	id, err := s.InsertBreach(Breach{UserID: 3, Type: "UNAUTHORIZED_ACCESS_ATTEMPT", Details: "{}"})
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 {
		t.Fatal("no breach id")
	}
	list, err := s.ListBreaches(3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != BreachStatusOpen {
		t.Fatalf("unexpected breaches %+v", list)
	}
}
