// Package gateway is the single entry point every data operation passes
// through: it resolves identity, applies rate limits, checks resource
// ownership and path containment, and writes the audit trail for each
// decision.
package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/auth"
	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/ratelimit"
	"github.com/fletchr/csvhost/internal/sandbox"
)

type Gateway struct {
	store    *db.Store
	recorder *audit.Recorder
	limiter  *ratelimit.Limiter
	root     sandbox.Root
	logger   *slog.Logger

	apiPolicy   ratelimit.Policy
	loginPolicy ratelimit.Policy
}

func New(store *db.Store, recorder *audit.Recorder, limiter *ratelimit.Limiter, root sandbox.Root, logger *slog.Logger, apiPolicy, loginPolicy ratelimit.Policy) *Gateway {
	return &Gateway{
		store:       store,
		recorder:    recorder,
		limiter:     limiter,
		root:        root,
		logger:      logger,
		apiPolicy:   apiPolicy,
		loginPolicy: loginPolicy,
	}
}

func (g *Gateway) Sandbox() sandbox.Root {
	return g.root
}

// Record writes one audit record for a gateway decision, tagged with the
// request's client metadata and correlation id.
func (g *Gateway) Record(ctx context.Context, req Request, eventType audit.EventType, action string, details map[string]any, severity audit.Severity) {
	if details == nil {
		details = map[string]any{}
	}
	details["correlation_id"] = req.CorrelationID
	g.recorder.Record(ctx, audit.Event{
		UserID:    req.UserID(),
		Type:      eventType,
		Action:    action,
		Details:   details,
		Severity:  severity,
		IP:        req.IP,
		UserAgent: req.UserAgent,
	})
}

// ResolveToken authenticates a remote API request. The token is the account
// email: present, syntactically an email, and matching exactly one user.
func (g *Gateway) ResolveToken(ctx context.Context, req *Request, token string) error {
	if token == "" {
		g.Record(ctx, *req, audit.EventAPIAccess, "MISSING_TOKEN", nil, audit.SeverityWarning)
		return fmt.Errorf("missing api token: %w", ErrUnauthenticated)
	}
	if !auth.ValidEmail(token) {
		g.Record(ctx, *req, audit.EventAPIAccess, "MALFORMED_TOKEN",
			map[string]any{"token": auth.RedactToken(token)}, audit.SeverityWarning)
		return fmt.Errorf("malformed api token: %w", ErrInvalidInput)
	}
	user, err := g.store.GetUserByEmail(token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			g.Record(ctx, *req, audit.EventAPIAccess, "UNKNOWN_TOKEN",
				map[string]any{"token": auth.RedactToken(token)}, audit.SeverityWarning)
			return fmt.Errorf("unknown api token: %w", ErrUnauthenticated)
		}
		return fmt.Errorf("token lookup: %w", err)
	}
	req.Principal = auth.Principal{UserID: user.ID, Username: user.Username, Email: user.Email}
	return nil
}

// ResolveSession authenticates a browser request from its session token.
// A missing or expired session leaves the request anonymous without error;
// callers decide whether anonymity is acceptable.
func (g *Gateway) ResolveSession(req *Request, token string) (db.Session, bool) {
	if token == "" {
		return db.Session{}, false
	}
	sess, err := g.store.GetSession(token)
	if err != nil {
		return db.Session{}, false
	}
	user, err := g.store.GetUserByID(sess.UserID)
	if err != nil {
		return db.Session{}, false
	}
	req.Principal = auth.Principal{UserID: user.ID, Username: user.Username, Email: user.Email}
	return sess, true
}

// VerifyDatabaseOwnership confirms the database exists and belongs to the
// request's user. The two failure modes are audited at different severities,
// but callers must present both to the outside world as "not found" so that
// other tenants' resources never leak.
func (g *Gateway) VerifyDatabaseOwnership(ctx context.Context, req Request, dbID int64) (db.Database, error) {
	record, err := g.store.GetDatabase(dbID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			g.Record(ctx, req, audit.EventDatabaseAccess, "UNAUTHORIZED_ACCESS",
				map[string]any{"db_id": dbID}, audit.SeverityWarning)
			return db.Database{}, fmt.Errorf("database %d: %w", dbID, ErrNotFound)
		}
		return db.Database{}, fmt.Errorf("database lookup: %w", err)
	}
	if record.UserID != req.UserID() {
		g.Record(ctx, req, audit.EventDatabaseAccess, "UNAUTHORIZED_ACCESS_ATTEMPT",
			map[string]any{"db_id": dbID, "owner_id": record.UserID}, audit.SeverityCritical)
		return db.Database{}, fmt.Errorf("database %d: %w", dbID, ErrForbidden)
	}
	return record, nil
}

// VerifyFileAccess confirms the candidate path resolves inside the request
// user's sandbox directory.
func (g *Gateway) VerifyFileAccess(ctx context.Context, req Request, path string) error {
	if err := g.root.Contains(req.UserID(), path); err != nil {
		g.Record(ctx, req, audit.EventFileAccess, "UNAUTHORIZED_FILE_ACCESS",
			map[string]any{"attempted_path": path}, audit.SeverityCritical)
		return fmt.Errorf("file access: %w", ErrForbidden)
	}
	return nil
}

// AllowRequest applies the general API rate policy, keyed by client IP.
func (g *Gateway) AllowRequest(ctx context.Context, req Request) error {
	ok, retryAfter := g.limiter.Allow("api_"+req.IP, g.apiPolicy)
	if !ok {
		g.Record(ctx, req, audit.EventRateLimit, "API_RATE_LIMITED",
			map[string]any{"retry_after_secs": int(retryAfter.Seconds())}, audit.SeverityWarning)
		return fmt.Errorf("api requests: %w", ErrRateLimited)
	}
	return nil
}

// AllowLogin applies the stricter login policy, keyed by client IP.
func (g *Gateway) AllowLogin(ctx context.Context, req Request) error {
	ok, retryAfter := g.limiter.Allow("login_"+req.IP, g.loginPolicy)
	if !ok {
		g.Record(ctx, req, audit.EventRateLimit, "LOGIN_RATE_LIMITED",
			map[string]any{"retry_after_secs": int(retryAfter.Seconds())}, audit.SeverityWarning)
		return fmt.Errorf("login attempts: %w", ErrRateLimited)
	}
	return nil
}
