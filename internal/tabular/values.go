package tabular

import (
	"fmt"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ValidateValue checks one cell against its declared column type. Empty cells
// are accepted for every type.
func ValidateValue(t ColumnType, value string) error {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil
	}
	switch t {
	case TypeText:
		return nil
	case TypeInteger:
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("%q is not an integer", value)
		}
	case TypeDecimal:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return fmt.Errorf("%q is not a number", value)
		}
	case TypeDate:
		if _, err := time.Parse("2006-01-02", v); err != nil {
			return fmt.Errorf("%q is not a date (YYYY-MM-DD)", value)
		}
	case TypeEmail:
		addr, err := mail.ParseAddress(v)
		if err != nil || addr.Address != v {
			return fmt.Errorf("%q is not an email address", value)
		}
	case TypeURL:
		u, err := url.ParseRequestURI(v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%q is not an http(s) url", value)
		}
	default:
		return fmt.Errorf("invalid column type %q", t)
	}
	return nil
}

// ValidateRow checks a full row against the schema. A row longer than the
// schema is rejected; shorter rows are padded by the caller.
func ValidateRow(s Schema, row []string) error {
	if len(s) == 0 {
		return nil
	}
	if len(row) > len(s) {
		return fmt.Errorf("row has %d cells, schema has %d columns", len(row), len(s))
	}
	for i, cell := range row {
		if err := ValidateValue(s[i].Type, cell); err != nil {
			return fmt.Errorf("column %q: %w", s[i].Name, err)
		}
	}
	return nil
}
