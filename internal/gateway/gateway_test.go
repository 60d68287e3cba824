package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/ratelimit"
	"github.com/fletchr/csvhost/internal/sandbox"
)

func testGateway(t *testing.T) (*Gateway, *db.Store) {
	t.Helper()
	store, err := db.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewRecorder(store, logger)
	root, err := sandbox.NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	g := New(store, recorder, ratelimit.New(), root, logger,
		ratelimit.Policy{Limit: 100, Window: time.Hour},
		ratelimit.Policy{Limit: 5, Window: 15 * time.Minute})
	return g, store
}

func requestFor(ip string) Request {
	r := httptest.NewRequest("GET", "/api/remote", nil)
	r.RemoteAddr = ip + ":4444"
	return NewRequest(r)
}

func TestResolveTokenMissing(t *testing.T) {
	g, _ := testGateway(t)
	req := requestFor("10.0.0.1")
	err := g.ResolveToken(context.Background(), &req, "")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestResolveTokenMalformed(t *testing.T) {
	g, _ := testGateway(t)
	req := requestFor("10.0.0.1")
	err := g.ResolveToken(context.Background(), &req, "not-an-email")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestResolveTokenUnknownIsRedacted(t *testing.T) {
	g, store := testGateway(t)
	req := requestFor("10.0.0.1")
	err := g.ResolveToken(context.Background(), &req, "ghost@example.com")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
	logs, err := store.ListSecurityLogs(0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(logs))
	}
	if logs[0].Action != "UNKNOWN_TOKEN" || logs[0].Severity != "WARNING" {
		t.Fatalf("log = %+v", logs[0])
	}
	if got := logs[0].Details; !strings.Contains(got, `"token":"gho…"`) {
		t.Fatalf("token not redacted: %s", got)
	}
	if strings.Contains(logs[0].Details, "ghost@example.com") {
		t.Fatalf("full token leaked into audit trail: %s", logs[0].Details)
	}
}

func TestResolveTokenSuccess(t *testing.T) {
	g, store := testGateway(t)
	uid, err := store.CreateUser("ann", "ann@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	req := requestFor("10.0.0.1")
	if err := g.ResolveToken(context.Background(), &req, "ann@example.com"); err != nil {
		t.Fatalf("ResolveToken: %v", err)
	}
	if req.UserID() != uid || req.Principal.Anonymous {
		t.Fatalf("principal = %+v", req.Principal)
	}
}

func TestOwnershipCrossTenant(t *testing.T) {
	g, store := testGateway(t)
	owner, err := store.CreateUser("ann", "ann@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	intruderID, err := store.CreateUser("eve", "eve@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	dbID, err := store.CreateDatabase(owner, "Contacts")
	if err != nil {
		t.Fatal(err)
	}

	req := requestFor("10.0.0.2")
	if err := g.ResolveToken(context.Background(), &req, "eve@example.com"); err != nil {
		t.Fatal(err)
	}
	_, err = g.VerifyDatabaseOwnership(context.Background(), req, dbID)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}

	// Exactly one CRITICAL audit record for the intruder.
	logs, err := store.ListSecurityLogs(intruderID, 10)
	if err != nil {
		t.Fatal(err)
	}
	critical := 0
	for _, l := range logs {
		if l.Severity == "CRITICAL" {
			critical++
			if l.Action != "UNAUTHORIZED_ACCESS_ATTEMPT" {
				t.Fatalf("critical action = %q", l.Action)
			}
		}
	}
	if critical != 1 {
		t.Fatalf("critical records = %d, want 1", critical)
	}
}

func TestOwnershipNotFound(t *testing.T) {
	g, store := testGateway(t)
	if _, err := store.CreateUser("ann", "ann@example.com", "hash"); err != nil {
		t.Fatal(err)
	}
	req := requestFor("10.0.0.1")
	if err := g.ResolveToken(context.Background(), &req, "ann@example.com"); err != nil {
		t.Fatal(err)
	}
	_, err := g.VerifyDatabaseOwnership(context.Background(), req, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	logs, _ := store.ListSecurityLogs(req.UserID(), 10)
	for _, l := range logs {
		if l.Severity == "CRITICAL" {
			t.Fatalf("missing resource audited as CRITICAL: %+v", l)
		}
	}
}

func TestOwnershipSuccess(t *testing.T) {
	g, store := testGateway(t)
	owner, err := store.CreateUser("ann", "ann@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	dbID, err := store.CreateDatabase(owner, "Contacts")
	if err != nil {
		t.Fatal(err)
	}
	req := requestFor("10.0.0.1")
	if err := g.ResolveToken(context.Background(), &req, "ann@example.com"); err != nil {
		t.Fatal(err)
	}
	record, err := g.VerifyDatabaseOwnership(context.Background(), req, dbID)
	if err != nil {
		t.Fatalf("VerifyDatabaseOwnership: %v", err)
	}
	if record.Name != "Contacts" {
		t.Fatalf("record = %+v", record)
	}
}

func TestVerifyFileAccess(t *testing.T) {
	g, store := testGateway(t)
	owner, err := store.CreateUser("ann", "ann@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := g.Sandbox().EnsureUserDir(owner); err != nil {
		t.Fatal(err)
	}
	req := requestFor("10.0.0.1")
	if err := g.ResolveToken(context.Background(), &req, "ann@example.com"); err != nil {
		t.Fatal(err)
	}

	ok := g.Sandbox().DataFile(owner, 1)
	if err := g.VerifyFileAccess(context.Background(), req, ok); err != nil {
		t.Fatalf("own path rejected: %v", err)
	}

	escape := filepath.Join(g.Sandbox().UserDir(owner), "..", "user_999", "database_1.csv")
	if err := g.VerifyFileAccess(context.Background(), req, escape); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	logs, _ := store.ListSecurityLogs(owner, 10)
	found := false
	for _, l := range logs {
		if l.Action == "UNAUTHORIZED_FILE_ACCESS" && l.Severity == "CRITICAL" {
			found = true
		}
	}
	if !found {
		t.Fatal("no CRITICAL file-access record")
	}
}

func TestLoginRateLimit(t *testing.T) {
	g, _ := testGateway(t)
	req := requestFor("10.0.0.9")
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := g.AllowLogin(ctx, req); err != nil {
			t.Fatalf("attempt %d refused: %v", i, err)
		}
	}
	if err := g.AllowLogin(ctx, req); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	// Another IP is unaffected.
	other := requestFor("10.0.0.10")
	if err := g.AllowLogin(ctx, other); err != nil {
		t.Fatalf("other ip refused: %v", err)
	}
}
