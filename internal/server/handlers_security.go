package server

import "net/http"

// handleSecurityPage shows the signed-in user their own audit trail and any
// breach records, newest first.
func (app *App) handleSecurityPage(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	sess, _ := app.session(r)

	logs, err := app.recorder.List(req.UserID(), 100)
	if err != nil {
		app.logger.Error("list security logs failed", "error", err, "user_id", req.UserID())
	}
	breaches, err := app.store.ListBreaches(req.UserID(), 20)
	if err != nil {
		app.logger.Error("list breaches failed", "error", err, "user_id", req.UserID())
	}

	app.render(w, "security", map[string]any{
		"Username":  req.Principal.Username,
		"CSRFToken": sess.CSRFToken,
		"Logs":      logs,
		"Breaches":  breaches,
	})
}
