package server

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/fletchr/csvhost/internal/audit"
	"github.com/fletchr/csvhost/internal/db"
	"github.com/fletchr/csvhost/internal/gateway"
	"github.com/fletchr/csvhost/internal/sandbox"
	"github.com/fletchr/csvhost/internal/tabular"
)

// maxUploadBytes caps CSV uploads; the backing store is flat files, not a
// bulk data service.
const maxUploadBytes = 10 << 20

func (app *App) handleDashboard(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	sess, _ := app.session(r)
	databases, err := app.store.ListDatabases(req.UserID())
	if err != nil {
		app.logger.Error("list databases failed", "error", err, "user_id", req.UserID())
		databases = nil
	}
	app.render(w, "dashboard", map[string]any{
		"Username":  req.Principal.Username,
		"CSRFToken": sess.CSRFToken,
		"Databases": databases,
		"Error":     r.URL.Query().Get("error"),
	})
}

func (app *App) handleDatabasePage(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	sess, _ := app.session(r)
	dbID, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}
	record, err := app.gw.VerifyDatabaseOwnership(r.Context(), *req, dbID)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}

	header, rows, schema, err := app.loadDatabase(r.Context(), *req, record)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}
	app.render(w, "database", map[string]any{
		"Username":  req.Principal.Username,
		"CSRFToken": sess.CSRFToken,
		"Database":  record,
		"Header":    header,
		"Rows":      rows,
		"Schema":    schema,
		"Error":     r.URL.Query().Get("error"),
	})
}

// loadDatabase reads the data and schema files behind a verified database
// record, running both paths through the file-access guard. The header comes
// from row 0 when present, otherwise from the schema's column names.
func (app *App) loadDatabase(ctx context.Context, req gateway.Request, record db.Database) ([]string, [][]string, tabular.Schema, error) {
	dataPath := app.gw.Sandbox().DataFile(record.UserID, record.ID)
	schemaPath := app.gw.Sandbox().SchemaFile(record.UserID, record.ID)
	if err := app.gw.VerifyFileAccess(ctx, req, dataPath); err != nil {
		return nil, nil, nil, err
	}
	if err := app.gw.VerifyFileAccess(ctx, req, schemaPath); err != nil {
		return nil, nil, nil, err
	}

	all, err := tabular.ReadRows(dataPath)
	if err != nil {
		return nil, nil, nil, err
	}
	schema, err := tabular.ReadSchema(schemaPath)
	if err != nil {
		return nil, nil, nil, err
	}

	var header []string
	var rows [][]string
	if len(all) > 0 {
		header, rows = all[0], all[1:]
	} else if len(schema) > 0 {
		for _, c := range schema {
			header = append(header, c.Name)
		}
	}
	return header, rows, schema, nil
}

// verifyOwnedPaths resolves a database mutation request down to verified file
// paths. Any failure has already been audited by the gateway.
func (app *App) verifyOwnedPaths(ctx context.Context, req gateway.Request, dbID int64) (db.Database, string, string, error) {
	record, err := app.gw.VerifyDatabaseOwnership(ctx, req, dbID)
	if err != nil {
		return db.Database{}, "", "", err
	}
	dataPath := app.gw.Sandbox().DataFile(record.UserID, record.ID)
	schemaPath := app.gw.Sandbox().SchemaFile(record.UserID, record.ID)
	if err := app.gw.VerifyFileAccess(ctx, req, dataPath); err != nil {
		return db.Database{}, "", "", err
	}
	if err := app.gw.VerifyFileAccess(ctx, req, schemaPath); err != nil {
		return db.Database{}, "", "", err
	}
	return record, dataPath, schemaPath, nil
}

func formDBID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PostFormValue("db_id"), 10, 64)
}

func dbPage(dbID int64) string {
	return fmt.Sprintf("/db?id=%d", dbID)
}

func (app *App) handleDatabaseCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		redirectError(w, r, "/dashboard", "upload too large")
		return
	}
	if !app.checkCSRF(r) {
		redirectError(w, r, "/dashboard", "invalid form token, please retry")
		return
	}
	name := strings.TrimSpace(r.PostFormValue("name"))
	if name == "" || len(name) > 100 {
		redirectError(w, r, "/dashboard", "database name is required")
		return
	}

	var rows [][]string
	// Browsers submit an empty file part when the field is left blank.
	if file, hdr, err := r.FormFile("file"); err == nil && hdr.Filename != "" {
		defer file.Close()
		rows, err = readUploadedCSV(file, hdr)
		if err != nil {
			redirectError(w, r, "/dashboard", err.Error())
			return
		}
	}

	dbID, err := app.store.CreateDatabase(req.UserID(), name)
	if err != nil {
		app.logger.Error("create database failed", "error", err, "user_id", req.UserID())
		redirectError(w, r, "/dashboard", "something went wrong, please retry")
		return
	}
	if _, err := app.gw.Sandbox().EnsureUserDir(req.UserID()); err != nil {
		app.logger.Error("create user dir failed", "error", err, "user_id", req.UserID())
		redirectError(w, r, "/dashboard", "something went wrong, please retry")
		return
	}
	dataPath := app.gw.Sandbox().DataFile(req.UserID(), dbID)
	if err := app.gw.VerifyFileAccess(ctx, *req, dataPath); err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}
	if len(rows) > 0 {
		if err := tabular.WriteRows(dataPath, rows); err != nil {
			app.logger.Error("write data file failed", "error", err, "db_id", dbID)
			redirectError(w, r, "/dashboard", "could not store the uploaded file")
			return
		}
	}

	app.gw.Record(ctx, *req, audit.EventDatabaseAccess, "DATABASE_CREATED",
		map[string]any{"db_id": dbID, "name": name}, audit.SeverityInfo)
	http.Redirect(w, r, dbPage(dbID), http.StatusSeeOther)
}

func (app *App) handleDatabaseDelete(w http.ResponseWriter, r *http.Request) {
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
	_, dataPath, schemaPath, err := app.verifyOwnedPaths(ctx, *req, dbID)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}

	if err := app.store.DeleteDatabase(dbID); err != nil {
		app.logger.Error("delete database failed", "error", err, "db_id", dbID)
		redirectError(w, r, "/dashboard", "something went wrong, please retry")
		return
	}
	// The schema file shares the database's lifecycle.
	for _, p := range []string{dataPath, schemaPath} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			app.logger.Error("remove database file failed", "error", err, "path", p)
		}
	}

	app.gw.Record(ctx, *req, audit.EventDatabaseAccess, "DATABASE_DELETED",
		map[string]any{"db_id": dbID}, audit.SeverityInfo)
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (app *App) handleRowAdd(w http.ResponseWriter, r *http.Request) {
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

	all, err := tabular.ReadRows(dataPath)
	if err != nil {
		redirectError(w, r, dbPage(dbID), "could not read the database")
		return
	}
	schema, err := tabular.ReadSchema(schemaPath)
	if err != nil {
		redirectError(w, r, dbPage(dbID), "could not read the database")
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
		redirectError(w, r, dbPage(dbID), "add a column before adding rows")
		return
	}

	row := make([]string, len(header))
	for i, col := range header {
		row[i] = r.PostFormValue("cell_" + col)
	}
	if err := tabular.ValidateRow(schema, row); err != nil {
		redirectError(w, r, dbPage(dbID), err.Error())
		return
	}

	if err := tabular.AppendRow(dataPath, header, row); err != nil {
		app.logger.Error("append row failed", "error", err, "db_id", dbID)
		redirectError(w, r, dbPage(dbID), "could not store the row")
		return
	}
	app.gw.Record(ctx, *req, audit.EventDatabaseAccess, "ROW_ADDED",
		map[string]any{"db_id": record.ID}, audit.SeverityInfo)
	http.Redirect(w, r, dbPage(dbID), http.StatusSeeOther)
}

func (app *App) handleRowDelete(w http.ResponseWriter, r *http.Request) {
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
	record, dataPath, _, err := app.verifyOwnedPaths(ctx, *req, dbID)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}

	// The page indexes data rows from 0; on disk row 0 is the header.
	index, err := strconv.Atoi(r.PostFormValue("index"))
	if err != nil || index < 0 {
		redirectError(w, r, dbPage(dbID), "invalid row")
		return
	}
	if err := tabular.DeleteRow(dataPath, index+1); err != nil {
		redirectError(w, r, dbPage(dbID), "invalid row")
		return
	}
	app.gw.Record(ctx, *req, audit.EventDatabaseAccess, "ROW_DELETED",
		map[string]any{"db_id": record.ID, "row": index}, audit.SeverityInfo)
	http.Redirect(w, r, dbPage(dbID), http.StatusSeeOther)
}

func (app *App) handleUpload(w http.ResponseWriter, r *http.Request) {
	req, ok := app.requireSession(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		redirectError(w, r, "/dashboard", "upload too large")
		return
	}
	if !app.checkCSRF(r) {
		redirectError(w, r, "/dashboard", "invalid form token, please retry")
		return
	}
	dbID, err := formDBID(r)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}
	record, dataPath, _, err := app.verifyOwnedPaths(ctx, *req, dbID)
	if err != nil {
		redirectError(w, r, "/dashboard", "database not found")
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		redirectError(w, r, dbPage(dbID), "a CSV file is required")
		return
	}
	defer file.Close()
	rows, err := readUploadedCSV(file, hdr)
	if err != nil {
		redirectError(w, r, dbPage(dbID), err.Error())
		return
	}

	if err := tabular.WriteRows(dataPath, rows); err != nil {
		app.logger.Error("write data file failed", "error", err, "db_id", dbID)
		redirectError(w, r, dbPage(dbID), "could not store the uploaded file")
		return
	}
	app.gw.Record(ctx, *req, audit.EventFileAccess, "CONTENTS_REPLACED",
		map[string]any{"db_id": record.ID, "rows": len(rows)}, audit.SeverityInfo)
	http.Redirect(w, r, dbPage(dbID), http.StatusSeeOther)
}

// readUploadedCSV validates the upload's name and parses it fully before
// anything touches the sandbox.
func readUploadedCSV(file multipart.File, hdr *multipart.FileHeader) ([][]string, error) {
	if !sandbox.ValidFileName(hdr.Filename) || !strings.HasSuffix(strings.ToLower(hdr.Filename), ".csv") {
		return nil, fmt.Errorf("invalid file name, expected a .csv file")
	}
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("the file is not valid CSV")
		}
		rows = append(rows, record)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("the file is empty")
	}
	return rows, nil
}
