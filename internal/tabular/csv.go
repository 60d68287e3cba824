// Package tabular reads and writes the flat files backing a hosted database:
// one CSV data file (row 0 is the header when no schema file exists) and an
// optional JSON schema file describing the columns.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ReadRows returns all rows of the data file. A missing file is an empty
// database, not an error.
func ReadRows(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return [][]string{}, nil
		}
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are the caller's problem
	rows := make([][]string, 0, 64)
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read data file: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// WriteRows replaces the data file's contents. The write goes through a temp
// file in the same directory and a rename, so readers never observe a partial
// file; concurrent writers still race (last writer wins).
func WriteRows(path string, rows [][]string) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".csvhost-*")
	if err != nil {
		return fmt.Errorf("create temp data file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := csv.NewWriter(tmp)
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("write data row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush data file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp data file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod data file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

// AppendRow loads the file, appends one row, and writes it back. When the
// file is empty and header names are supplied, the header row is written
// first.
func AppendRow(path string, header []string, row []string) error {
	rows, err := ReadRows(path)
	if err != nil {
		return err
	}
	if len(rows) == 0 && len(header) > 0 {
		rows = append(rows, header)
	}
	rows = append(rows, row)
	return WriteRows(path, rows)
}

// DeleteRow removes the row at index (0 is the header and cannot be removed).
func DeleteRow(path string, index int) error {
	rows, err := ReadRows(path)
	if err != nil {
		return err
	}
	if index <= 0 || index >= len(rows) {
		return fmt.Errorf("row index %d out of range", index)
	}
	rows = append(rows[:index], rows[index+1:]...)
	return WriteRows(path, rows)
}
