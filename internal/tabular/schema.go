package tabular

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ColumnType is the closed set of column types a schema may declare.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeDecimal ColumnType = "decimal"
	TypeDate    ColumnType = "date"
	TypeEmail   ColumnType = "email"
	TypeURL     ColumnType = "url"
)

func ValidColumnType(t ColumnType) bool {
	switch t {
	case TypeText, TypeInteger, TypeDecimal, TypeDate, TypeEmail, TypeURL:
		return true
	}
	return false
}

type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// Schema is an ordered column list. It may be empty, in which case the data
// file's header row defines column identity.
type Schema []Column

func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s))
	for _, c := range s {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return errors.New("column name must not be empty")
		}
		if !ValidColumnType(c.Type) {
			return fmt.Errorf("invalid column type %q", c.Type)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate column %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// ReadSchema loads the schema file; a missing file is an empty schema.
func ReadSchema(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Schema{}, nil
		}
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var s Schema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	return s, nil
}

func WriteSchema(path string, s Schema) error {
	if err := s.Validate(); err != nil {
		return err
	}
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	return nil
}
