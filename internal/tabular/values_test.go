package tabular

import "testing"

func TestValidateValue(t *testing.T) {
	cases := []struct {
		colType ColumnType
		value   string
		ok      bool
	}{
		{TypeText, "anything at all", true},
		{TypeInteger, "42", true},
		{TypeInteger, "-7", true},
		{TypeInteger, "4.2", false},
		{TypeInteger, "forty", false},
		{TypeDecimal, "3.14", true},
		{TypeDecimal, "10", true},
		{TypeDecimal, "pi", false},
		{TypeDate, "2026-02-28", true},
		{TypeDate, "28/02/2026", false},
		{TypeEmail, "ann@example.com", true},
		{TypeEmail, "not-an-email", false},
		{TypeURL, "https://example.com/x", true},
		{TypeURL, "ftp://example.com", false},
		{TypeURL, "example.com", false},
		// Empty cells are always accepted.
		{TypeInteger, "", true},
		{TypeDate, "   ", true},
	}
	for _, tc := range cases {
		err := ValidateValue(tc.colType, tc.value)
		if tc.ok && err != nil {
			t.Errorf("ValidateValue(%s, %q) = %v, want ok", tc.colType, tc.value, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ValidateValue(%s, %q) accepted, want error", tc.colType, tc.value)
		}
	}
}

func TestValidateRow(t *testing.T) {
	schema := Schema{
		{Name: "name", Type: TypeText},
		{Name: "age", Type: TypeInteger},
	}
	if err := ValidateRow(schema, []string{"bob", "30"}); err != nil {
		t.Fatalf("valid row rejected: %v", err)
	}
	if err := ValidateRow(schema, []string{"bob", "thirty"}); err == nil {
		t.Fatal("bad cell accepted")
	}
	if err := ValidateRow(schema, []string{"bob", "30", "extra"}); err == nil {
		t.Fatal("overlong row accepted")
	}
	// No schema means no typing constraints.
	if err := ValidateRow(Schema{}, []string{"a", "b", "c"}); err != nil {
		t.Fatalf("schemaless row rejected: %v", err)
	}
}
