package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/auth"
	"github.com/fletchr/csvhost/internal/gateway"
)

func (app *App) handleIndex(w http.ResponseWriter, r *http.Request) {
	if _, ok := app.session(r); ok {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	app.render(w, "index", map[string]any{
		"CSRFToken": app.anonCSRF(w, r),
		"Error":     r.URL.Query().Get("error"),
		"Success":   r.URL.Query().Get("success"),
	})
}

func (app *App) handleLogin(w http.ResponseWriter, r *http.Request) {
	req := app.req(r)
	ctx := r.Context()

	if !app.checkCSRF(r) {
		redirectError(w, r, "/", "invalid form token, please retry")
		return
	}
	if err := app.gw.AllowLogin(ctx, *req); err != nil {
		redirectError(w, r, "/", "too many login attempts, try again later")
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		app.gw.Record(ctx, *req, audit.EventLogin, "EMPTY_CREDENTIALS", nil, audit.SeverityWarning)
		redirectError(w, r, "/", "email and password are required")
		return
	}

	user, err := app.store.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			app.gw.Record(ctx, *req, audit.EventLogin, "UNKNOWN_EMAIL", nil, audit.SeverityWarning)
			redirectError(w, r, "/", "invalid email or password")
			return
		}
		app.logger.Error("login lookup failed", "error", err)
		redirectError(w, r, "/", "something went wrong, please retry")
		return
	}

	if user.AccountLockedUntil != nil && time.Now().Before(*user.AccountLockedUntil) {
		locked := *req
		locked.Principal = auth.Principal{UserID: user.ID, Username: user.Username, Email: user.Email}
		app.gw.Record(ctx, locked, audit.EventLogin, "LOCKED_ACCOUNT_ATTEMPT",
			map[string]any{"locked_until": user.AccountLockedUntil.UTC().Format(time.RFC3339)},
			audit.SeverityWarning)
		redirectError(w, r, "/", "account temporarily locked, try again later")
		return
	}

	ok, err := auth.VerifyPassword(user.PasswordHash, password)
	if err != nil {
		app.logger.Error("password verify failed", "error", err, "user_id", user.ID)
	}
	if err != nil || !ok {
		attempts, lockedUntil, ferr := app.store.RecordFailedLogin(user.ID, req.IP,
			app.cfg.LockoutAttempts, time.Duration(app.cfg.LockoutMinutes)*time.Minute)
		if ferr != nil {
			app.logger.Error("record failed login", "error", ferr, "user_id", user.ID)
		}
		details := map[string]any{"attempts": attempts}
		if lockedUntil != nil {
			details["locked_until"] = lockedUntil.UTC().Format(time.RFC3339)
		}
		// Attribute the failure to the account so lockout anomalies accrue.
		failed := *req
		failed.Principal = auth.Principal{UserID: user.ID, Username: user.Username, Email: user.Email}
		app.gw.Record(ctx, failed, audit.EventLogin, "FAILED_PASSWORD", details, audit.SeverityWarning)
		redirectError(w, r, "/", "invalid email or password")
		return
	}

	if err := app.store.ResetLoginState(user.ID, req.IP); err != nil {
		app.logger.Error("reset login state", "error", err, "user_id", user.ID)
	}
	req.Principal = auth.Principal{UserID: user.ID, Username: user.Username, Email: user.Email}
	if _, err := app.newSession(w, req); err != nil {
		app.logger.Error("create session", "error", err, "user_id", user.ID)
		redirectError(w, r, "/", "something went wrong, please retry")
		return
	}
	app.gw.Record(ctx, *req, audit.EventLogin, "SUCCESS", nil, audit.SeverityInfo)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (app *App) handleRegister(w http.ResponseWriter, r *http.Request) {
	req := app.req(r)
	ctx := r.Context()

	if !app.checkCSRF(r) {
		redirectError(w, r, "/", "invalid form token, please retry")
		return
	}
	if err := app.gw.AllowLogin(ctx, *req); err != nil {
		redirectError(w, r, "/", "too many attempts, try again later")
		return
	}

	username := strings.TrimSpace(r.PostFormValue("username"))
	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	confirm := r.PostFormValue("confirm_password")

	switch {
	case username == "" || email == "" || password == "":
		redirectError(w, r, "/", "all fields are required")
		return
	case !auth.ValidEmail(email):
		redirectError(w, r, "/", "invalid email address")
		return
	case len(password) < auth.MinPasswordLength:
		redirectError(w, r, "/", "password must be at least 6 characters")
		return
	case password != confirm:
		redirectError(w, r, "/", "passwords do not match")
		return
	}

	if _, err := app.store.GetUserByEmail(email); err == nil {
		app.gw.Record(ctx, *req, audit.EventRegister, "DUPLICATE_EMAIL", nil, audit.SeverityWarning)
		redirectError(w, r, "/", "an account with this email already exists")
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		app.logger.Error("register lookup failed", "error", err)
		redirectError(w, r, "/", "something went wrong, please retry")
		return
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		redirectError(w, r, "/", "password must be at least 6 characters")
		return
	}
	uid, err := app.store.CreateUser(username, email, hash)
	if err != nil {
		app.logger.Error("create user failed", "error", err)
		redirectError(w, r, "/", "something went wrong, please retry")
		return
	}
	if _, err := app.gw.Sandbox().EnsureUserDir(uid); err != nil {
		app.logger.Error("create user dir failed", "error", err, "user_id", uid)
	}

	created := *req
	created.Principal = auth.Principal{UserID: uid, Username: username, Email: email}
	app.gw.Record(ctx, created, audit.EventRegister, "SUCCESS", nil, audit.SeverityInfo)
	http.Redirect(w, r, "/?success=account+created,+you+can+log+in+now", http.StatusSeeOther)
}

func (app *App) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, ok := app.session(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	if !app.checkCSRF(r) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	app.gw.Record(r.Context(), *app.req(r), audit.EventLogout, "SUCCESS", nil, audit.SeverityInfo)
	app.clearSession(w, sess.Token)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// requireSession redirects to the login page when the browser has no valid
// session. Returns false after writing the redirect.
func (app *App) requireSession(w http.ResponseWriter, r *http.Request) (*gateway.Request, bool) {
	req := app.req(r)
	if _, ok := app.session(r); !ok || req.Principal.Anonymous {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return nil, false
	}
	return req, true
}
