package tabular

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_1.csv")
	rows := [][]string{
		{"name", "email"},
		{"Ann", "ann@example.com"},
		{"Bob", "with,comma"},
		{"Carol", "line\nbreak"},
	}
	if err := WriteRows(path, rows); err != nil {
		t.Fatalf("WriteRows: %v", err)
	}
	got, err := ReadRows(path)
	if err != nil {
		t.Fatalf("ReadRows: %v", err)
	}
	if !reflect.DeepEqual(got, rows) {
		t.Fatalf("round trip mismatch:\ngot  %v\nwant %v", got, rows)
	}

	// Reading twice without a write in between is byte-identical.
	again, err := ReadRows(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(again, got) {
		t.Fatal("second read differs from first")
	}
}

func TestReadMissingFile(t *testing.T) {
	rows, err := ReadRows(filepath.Join(t.TempDir(), "nope.csv"))
	if err != nil {
		t.Fatalf("missing file should be empty, got %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}
}

func TestAppendRowCreatesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_1.csv")
	if err := AppendRow(path, []string{"name"}, []string{"Ann"}); err != nil {
		t.Fatal(err)
	}
	if err := AppendRow(path, []string{"ignored"}, []string{"Bob"}); err != nil {
		t.Fatal(err)
	}
	rows, err := ReadRows(path)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"name"}, {"Ann"}, {"Bob"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}
}

func TestDeleteRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_1.csv")
	if err := WriteRows(path, [][]string{{"name"}, {"Ann"}, {"Bob"}}); err != nil {
		t.Fatal(err)
	}
	if err := DeleteRow(path, 1); err != nil {
		t.Fatal(err)
	}
	rows, _ := ReadRows(path)
	want := [][]string{{"name"}, {"Bob"}}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("rows = %v, want %v", rows, want)
	}

	if err := DeleteRow(path, 0); err == nil {
		t.Fatal("header deletion allowed")
	}
	if err := DeleteRow(path, 5); err == nil {
		t.Fatal("out-of-range deletion allowed")
	}
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  Schema
		wantErr bool
	}{
		{"empty", Schema{}, false},
		{"ok", Schema{{"name", TypeText}, {"age", TypeInteger}}, false},
		{"dup", Schema{{"name", TypeText}, {"name", TypeEmail}}, true},
		{"bad type", Schema{{"name", ColumnType("blob")}}, true},
		{"empty name", Schema{{"", TypeText}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "database_1_schema.json")
	s := Schema{{"name", TypeText}, {"joined", TypeDate}}
	if err := WriteSchema(path, s); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSchema(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, s) {
		t.Fatalf("schema = %v, want %v", got, s)
	}
}

func TestReadSchemaMissing(t *testing.T) {
	s, err := ReadSchema(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil || len(s) != 0 {
		t.Fatalf("missing schema: %v %v", s, err)
	}
}
