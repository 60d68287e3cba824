package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/tabular"
)

// remoteRequest is the envelope for /api/remote. The token may also come from
// the X-API-Token header or the query string, which wins over the body.
type remoteRequest struct {
	Token  string         `json:"token"`
	Action string         `json:"action"`
	DBID   int64          `json:"db_id"`
	Row    []string       `json:"row"`
	Data   [][]string     `json:"data"`
	Schema tabular.Schema `json:"schema"`
}

func parseRemoteRequest(r *http.Request) (remoteRequest, error) {
	var rr remoteRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxUploadBytes)).Decode(&rr); err != nil {
			return rr, err
		}
	} else {
		rr.Action = r.FormValue("action")
		rr.DBID, _ = strconv.ParseInt(r.FormValue("db_id"), 10, 64)
		if v := r.FormValue("row"); v != "" {
			if err := json.Unmarshal([]byte(v), &rr.Row); err != nil {
				return rr, err
			}
		}
		if v := r.FormValue("data"); v != "" {
			if err := json.Unmarshal([]byte(v), &rr.Data); err != nil {
				return rr, err
			}
		}
	}
	if rr.Action == "" {
		rr.Action = r.URL.Query().Get("action")
	}
	if rr.DBID == 0 {
		rr.DBID, _ = strconv.ParseInt(r.URL.Query().Get("db_id"), 10, 64)
	}
	if tok := r.Header.Get("X-API-Token"); tok != "" {
		rr.Token = tok
	} else if tok := r.URL.Query().Get("token"); tok != "" {
		rr.Token = tok
	}
	return rr, nil
}

// handleRemote is the machine-facing API. Authentication is the account email
// sent as an API token; every resource failure is reported as not-found so a
// probing client cannot tell foreign databases from missing ones.
func (app *App) handleRemote(w http.ResponseWriter, r *http.Request) {
	req := app.req(r)
	ctx := r.Context()

	if err := app.gw.AllowRequest(ctx, *req); err != nil {
		writeAPIError(w, err)
		return
	}

	rr, err := parseRemoteRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid request body"})
		return
	}
	if err := app.gw.ResolveToken(ctx, req, rr.Token); err != nil {
		writeAPIError(w, err)
		return
	}

	switch rr.Action {
	case "get":
		if rr.DBID == 0 {
			app.remoteList(w, r, rr)
			return
		}
		app.remoteGet(w, r, rr)
	case "add_row":
		app.remoteAddRow(w, r, rr)
	case "update":
		app.remoteUpdate(w, r, rr)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "unknown action"})
	}
}

func (app *App) remoteList(w http.ResponseWriter, r *http.Request, rr remoteRequest) {
	req := app.req(r)
	databases, err := app.store.ListDatabases(req.UserID())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	app.gw.Record(r.Context(), *req, audit.EventAPIAccess, "SUCCESS",
		map[string]any{"action": "get"}, audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"databases": databases,
		"count":     len(databases),
	})
}

func (app *App) remoteGet(w http.ResponseWriter, r *http.Request, rr remoteRequest) {
	req := app.req(r)
	ctx := r.Context()
	record, dataPath, schemaPath, err := app.verifyOwnedPaths(ctx, *req, rr.DBID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	all, err := tabular.ReadRows(dataPath)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	schema, err := tabular.ReadSchema(schemaPath)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	rowCount := len(all) - 1
	if rowCount < 0 {
		rowCount = 0
	}
	app.gw.Record(ctx, *req, audit.EventAPIAccess, "SUCCESS",
		map[string]any{"action": "get", "db_id": record.ID}, audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"database":  record,
		"schema":    schema,
		"data":      all,
		"row_count": rowCount,
	})
}

func (app *App) remoteAddRow(w http.ResponseWriter, r *http.Request, rr remoteRequest) {
	req := app.req(r)
	ctx := r.Context()
	if len(rr.Row) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "row is required"})
		return
	}
	record, dataPath, schemaPath, err := app.verifyOwnedPaths(ctx, *req, rr.DBID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	all, err := tabular.ReadRows(dataPath)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	schema, err := tabular.ReadSchema(schemaPath)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var header []string
	if len(all) > 0 {
		header = all[0]
	} else {
		for _, c := range schema {
			header = append(header, c.Name)
		}
	}
	if len(header) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "database has no columns"})
		return
	}
	if len(rr.Row) != len(header) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "row length does not match columns"})
		return
	}
	if err := tabular.ValidateRow(schema, rr.Row); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if err := tabular.AppendRow(dataPath, header, rr.Row); err != nil {
		writeAPIError(w, err)
		return
	}
	app.gw.Record(ctx, *req, audit.EventAPIAccess, "SUCCESS",
		map[string]any{"action": "add_row", "db_id": record.ID}, audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (app *App) remoteUpdate(w http.ResponseWriter, r *http.Request, rr remoteRequest) {
	req := app.req(r)
	ctx := r.Context()
	if rr.Data == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "data is required"})
		return
	}
	record, dataPath, schemaPath, err := app.verifyOwnedPaths(ctx, *req, rr.DBID)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	schema := rr.Schema
	if schema == nil {
		if schema, err = tabular.ReadSchema(schemaPath); err != nil {
			writeAPIError(w, err)
			return
		}
	}
	for i, row := range rr.Data {
		if i == 0 {
			continue // header row
		}
		if err := tabular.ValidateRow(schema, row); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
	}
	if rr.Schema != nil {
		if err := tabular.WriteSchema(schemaPath, rr.Schema); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
			return
		}
	}
	if err := tabular.WriteRows(dataPath, rr.Data); err != nil {
		writeAPIError(w, err)
		return
	}
	app.gw.Record(ctx, *req, audit.EventAPIAccess, "SUCCESS",
		map[string]any{"action": "update", "db_id": record.ID, "rows": len(rr.Data)}, audit.SeverityInfo)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
