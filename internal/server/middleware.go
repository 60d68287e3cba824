package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/gateway"
)

type ctxKey int

const (
	ctxKeyRequest ctxKey = iota
	ctxKeySession
)

const sessionCookie = "csvhost_session"

// withRequest builds the per-request gateway state and, when a valid session
// cookie is present, resolves the browser identity. The pointer goes into the
// context so that later identity resolution (api tokens) is visible to the
// access log.
func (app *App) withRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := gateway.NewRequest(r)
		ctx := context.WithValue(r.Context(), ctxKeyRequest, &req)

		if c, err := r.Cookie(sessionCookie); err == nil {
			if sess, ok := app.gw.ResolveSession(&req, c.Value); ok {
				ctx = context.WithValue(ctx, ctxKeySession, sess)
				// Sliding expiry: activity extends the session.
				_ = app.store.TouchSession(sess.Token, time.Now().Add(app.sessionTTL))
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (app *App) req(r *http.Request) *gateway.Request {
	if req, ok := r.Context().Value(ctxKeyRequest).(*gateway.Request); ok {
		return req
	}
	req := gateway.NewRequest(r)
	return &req
}

func (app *App) session(r *http.Request) (db.Session, bool) {
	sess, ok := r.Context().Value(ctxKeySession).(db.Session)
	return sess, ok
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// accessLog emits one structured log line per request and persists API calls
// to the access log table for the anomaly queries.
func (app *App) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sr, r)
		elapsed := time.Since(start)

		req := app.req(r)
		app.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sr.status,
			"duration_ms", elapsed.Milliseconds(),
			"ip", req.IP,
			"correlation_id", req.CorrelationID,
		)

		if strings.HasPrefix(r.URL.Path, "/api/") {
			err := app.store.InsertAPIAccessLog(db.APIAccessLog{
				UserID:         req.UserID(),
				Endpoint:       r.URL.Path,
				Method:         r.Method,
				StatusCode:     sr.status,
				ResponseTimeMS: elapsed.Milliseconds(),
			})
			if err != nil {
				app.logger.Error("api access log insert failed", "error", err)
			}
		}
	})
}

func (app *App) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (app *App) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				app.logger.Error("handler panicked", "panic", rec, "path", r.URL.Path)
				hub := sentry.CurrentHub()
				hub.Recover(rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
