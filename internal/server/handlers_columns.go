package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/tabular"
)

func (app *App) handleColumnsGet(w http.ResponseWriter, r *http.Request) {
	req := app.req(r)
	if _, ok := app.session(r); !ok || req.Principal.Anonymous {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "login required"})
		return
	}
	dbID, err := strconv.ParseInt(r.URL.Query().Get("db_id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid db_id"})
		return
	}
	record, dataPath, schemaPath, err := app.verifyOwnedPaths(r.Context(), *req, dbID)
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
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"db_id":   record.ID,
		"header":  header,
		"columns": schema,
	})
}

func (app *App) handleColumnAdd(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if !app.checkCSRF(r) {
		redirectError(w, r, "/dashboard", "invalid form token, please retry")
		return
	}
	dbID, err := formDBID(r)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}
	record, dataPath, schemaPath, err := app.verifyOwnedPaths(ctx, *req, dbID)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	colType := tabular.ColumnType(strings.TrimSpace(r.PostFormValue("type")))
	if name == "" {
		redirectError(w, r, dbPage(dbID), "column name is required")
		return
	}
	if !tabular.ValidColumnType(colType) {
		redirectError(w, r, dbPage(dbID), "invalid column type")
		return
	}

	schema, err := tabular.ReadSchema(schemaPath)
	if err != nil {
		redirectError(w, r, dbPage(dbID), "could not read the database")
		return
	}
	all, err := tabular.ReadRows(dataPath)
	if err != nil {
		redirectError(w, r, dbPage(dbID), "could not read the database")
		return
	}
	existing := map[string]struct{}{}
	for _, c := range schema {
		existing[c.Name] = struct{}{}
	}
	if len(all) > 0 {
		for _, h := range all[0] {
			existing[h] = struct{}{}
		}
	}
	if _, dup := existing[name]; dup {
		redirectError(w, r, dbPage(dbID), "a column with this name already exists")
		return
	}

	schema = append(schema, tabular.Column{Name: name, Type: colType})
	if err := tabular.WriteSchema(schemaPath, schema); err != nil {
		redirectError(w, r, dbPage(dbID), err.Error())
		return
	}

	// Keep the data file in step: extend the header and pad existing rows.
	if len(all) == 0 {
		all = [][]string{{}}
		for _, c := range schema {
			all[0] = append(all[0], c.Name)
		}
	} else {
		all[0] = append(all[0], name)
		for i := 1; i < len(all); i++ {
			all[i] = append(all[i], "")
		}
	}
	if err := tabular.WriteRows(dataPath, all); err != nil {
		app.logger.Error("write data file failed", "error", err, "db_id", dbID)
		redirectError(w, r, dbPage(dbID), "could not update the database")
		return
	}

	app.gw.Record(ctx, *req, audit.EventDatabaseAccess, "COLUMN_ADDED",
		map[string]any{"db_id": record.ID, "column": name, "type": string(colType)}, audit.SeverityInfo)
	http.Redirect(w, r, dbPage(dbID), http.StatusSeeOther)
}

func (app *App) handleColumnDelete(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if !app.checkCSRF(r) {
		redirectError(w, r, "/dashboard", "invalid form token, please retry")
		return
	}
	dbID, err := formDBID(r)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}
	record, dataPath, schemaPath, err := app.verifyOwnedPaths(ctx, *req, dbID)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}

	name := strings.TrimSpace(r.PostFormValue("name"))
	schema, err := tabular.ReadSchema(schemaPath)
	if err != nil {
		redirectError(w, r, dbPage(dbID), "could not read the database")
		return
	}
	kept := schema[:0]
	found := false
	for _, c := range schema {
		if c.Name == name {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		redirectError(w, r, dbPage(dbID), "no such column")
		return
	}
	if err := tabular.WriteSchema(schemaPath, kept); err != nil {
		redirectError(w, r, dbPage(dbID), err.Error())
		return
	}

	all, err := tabular.ReadRows(dataPath)
	if err != nil {
		redirectError(w, r, dbPage(dbID), "could not read the database")
		return
	}
	if len(all) > 0 {
		col := -1
		for i, h := range all[0] {
			if h == name {
				col = i
				break
			}
		}
		if col >= 0 {
			for i := range all {
				if col < len(all[i]) {
					all[i] = append(all[i][:col], all[i][col+1:]...)
				}
			}
			if err := tabular.WriteRows(dataPath, all); err != nil {
				app.logger.Error("write data file failed", "error", err, "db_id", dbID)
				redirectError(w, r, dbPage(dbID), "could not update the database")
				return
			}
		}
	}

	app.gw.Record(ctx, *req, audit.EventDatabaseAccess, "COLUMN_DELETED",
		map[string]any{"db_id": record.ID, "column": name}, audit.SeverityInfo)
	http.Redirect(w, r, dbPage(dbID), http.StatusSeeOther)
}
