package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/gateway"
	"github.com/fletchr/csvhost/internal/util"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError maps a gateway error to the remote API contract. Forbidden is
// deliberately presented as not-found so other tenants' resources never leak.
func writeAPIError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, gateway.ErrUnauthenticated):
		status, msg = http.StatusUnauthorized, "invalid or missing API token"
	case errors.Is(err, gateway.ErrInvalidInput):
		status, msg = http.StatusBadRequest, "invalid request"
	case errors.Is(err, gateway.ErrForbidden), errors.Is(err, gateway.ErrNotFound):
		status, msg = http.StatusNotFound, "database not found"
	case errors.Is(err, gateway.ErrRateLimited):
		status, msg = http.StatusTooManyRequests, "rate limit exceeded"
	}
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// redirectError sends the browser back with a flash message in the query.
func redirectError(w http.ResponseWriter, r *http.Request, target, msg string) {
	u := target
	if msg != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		u += sep + "error=" + url.QueryEscape(msg)
	}
	http.Redirect(w, r, u, http.StatusSeeOther)
}

// newSession issues a session and its CSRF token, sets the cookie, and
// persists the record.
func (app *App) newSession(w http.ResponseWriter, req *gateway.Request) (db.Session, error) {
	token, err := util.RandomToken(32)
	if err != nil {
		return db.Session{}, err
	}
	csrf, err := util.RandomToken(32)
	if err != nil {
		return db.Session{}, err
	}
	sess := db.Session{
		Token:     token,
		UserID:    req.UserID(),
		CSRFToken: csrf,
		IP:        req.IP,
		UserAgent: req.UserAgent,
		ExpiresAt: time.Now().Add(app.sessionTTL),
	}
	if err := app.store.CreateSession(sess); err != nil {
		return db.Session{}, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   app.cfg.HTTPS,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(app.sessionTTL.Seconds()),
	})
	return sess, nil
}

func (app *App) clearSession(w http.ResponseWriter, token string) {
	_ = app.store.DeleteSession(token)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

const csrfCookie = "csvhost_csrf"

// anonCSRF returns the double-submit CSRF token for pages rendered before
// login, issuing the cookie on first visit.
func (app *App) anonCSRF(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(csrfCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, err := util.RandomToken(32)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   app.cfg.HTTPS,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

// checkCSRF validates the form token against the session token or, for
// anonymous forms, the double-submit cookie.
func (app *App) checkCSRF(r *http.Request) bool {
	form := r.PostFormValue("_csrf")
	if form == "" {
		return false
	}
	if sess, ok := app.session(r); ok {
		return form == sess.CSRFToken
	}
	c, err := r.Cookie(csrfCookie)
	return err == nil && c.Value != "" && form == c.Value
}

func (app *App) render(w http.ResponseWriter, page string, data any) {
	t, ok := app.templates[page]
	if !ok {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.Execute(w, data); err != nil {
		app.logger.Error("render failed", "page", page, "error", err)
	}
}
