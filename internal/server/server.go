// Package server exposes the browser UI and the JSON API. Every data
// operation is routed through the gateway; handlers never touch another
// user's rows, files, or metadata directly.
package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/config"
	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/gateway"
	"github.com/fletchr/csvhost/internal/webui"
)

type Options struct {
	Config   config.Config
	Store    *db.Store
	Gateway  *gateway.Gateway
	Recorder *audit.Recorder
	Logger   *slog.Logger
}

type App struct {
	cfg      config.Config
	store    *db.Store
	gw       *gateway.Gateway
	recorder *audit.Recorder
	logger   *slog.Logger

	templates  map[string]*template.Template
	sessionTTL time.Duration
}

func New(opts Options) (*App, error) {
	app := &App{
		cfg:        opts.Config,
		store:      opts.Store,
		gw:         opts.Gateway,
		recorder:   opts.Recorder,
		logger:     opts.Logger,
		sessionTTL: time.Duration(opts.Config.SessionTimeoutMins) * time.Minute,
	}
	if err := app.parseTemplates(); err != nil {
		return nil, err
	}
	return app, nil
}

func (app *App) parseTemplates() error {
	pages := []string{"index", "dashboard", "database", "security"}
	app.templates = make(map[string]*template.Template, len(pages))
	for _, page := range pages {
		t, err := template.ParseFS(webui.FS, "templates/"+page+".html")
		if err != nil {
			return fmt.Errorf("parse template %s: %w", page, err)
		}
		app.templates[page] = t
	}
	return nil
}

// Handler builds the full route table wrapped in the middleware chain.
func (app *App) Handler() http.Handler {
	mux := http.NewServeMux()

	staticFS, _ := fs.Sub(webui.FS, "static")
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServerFS(staticFS)))

	mux.HandleFunc("GET /{$}", app.handleIndex)
	mux.HandleFunc("POST /login", app.handleLogin)
	mux.HandleFunc("POST /register", app.handleRegister)
	mux.HandleFunc("POST /logout", app.handleLogout)
	mux.HandleFunc("GET /dashboard", app.handleDashboard)
	mux.HandleFunc("GET /db", app.handleDatabasePage)
	mux.HandleFunc("GET /security", app.handleSecurityPage)

	mux.HandleFunc("POST /api/databases/create", app.handleDatabaseCreate)
	mux.HandleFunc("POST /api/databases/delete", app.handleDatabaseDelete)
	mux.HandleFunc("POST /api/rows/add", app.handleRowAdd)
	mux.HandleFunc("POST /api/rows/delete", app.handleRowDelete)
	mux.HandleFunc("POST /api/upload", app.handleUpload)
	mux.HandleFunc("GET /api/columns", app.handleColumnsGet)
	mux.HandleFunc("POST /api/columns", app.handleColumnAdd)
	mux.HandleFunc("POST /api/columns/delete", app.handleColumnDelete)

	mux.HandleFunc("GET /api/remote", app.handleRemote)
	mux.HandleFunc("POST /api/remote", app.handleRemote)

	return app.recoverer(app.securityHeaders(app.accessLog(app.withRequest(mux))))
}

// Run serves until ctx is cancelled, then drains connections.
func (app *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", app.cfg.Bind, app.cfg.Port),
		Handler:           app.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if app.cfg.HTTPS {
			err = srv.ListenAndServeTLS(app.cfg.CertFile, app.cfg.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
