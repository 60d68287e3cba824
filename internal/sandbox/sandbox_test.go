package sandbox

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDerivedPaths(t *testing.T) {
	root, err := NewRoot("/srv/csvhost")
	if err != nil {
		t.Fatal(err)
	}
	if got := root.DataFile(7, 3); !strings.HasSuffix(got, filepath.Join("data", "user_7", "database_3.csv")) {
		t.Fatalf("DataFile = %q", got)
	}
	if got := root.SchemaFile(7, 3); !strings.HasSuffix(got, filepath.Join("data", "user_7", "database_3_schema.json")) {
		t.Fatalf("SchemaFile = %q", got)
	}
	// Same inputs, same path, every time.
	if root.DataFile(7, 3) != root.DataFile(7, 3) {
		t.Fatal("DataFile not deterministic")
	}
}

func TestContainsAcceptsOwnFiles(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.EnsureUserDir(7); err != nil {
		t.Fatal(err)
	}
	// Existing file.
	f := root.DataFile(7, 1)
	if err := os.WriteFile(f, []byte("a,b\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := root.Contains(7, f); err != nil {
		t.Fatalf("own data file rejected: %v", err)
	}
	// Not-yet-existing file in an existing sandbox.
	if err := root.Contains(7, root.DataFile(7, 99)); err != nil {
		t.Fatalf("new file in sandbox rejected: %v", err)
	}
}

func TestContainsRejectsTraversal(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.EnsureUserDir(7); err != nil {
		t.Fatal(err)
	}

	candidates := []string{
		filepath.Join(root.UserDir(7), "..", "user_8", "database_1.csv"),
		filepath.Join(root.UserDir(7), "..", "..", "..", "etc", "passwd"),
		"/etc/passwd",
		root.UserDir(8) + string(filepath.Separator) + "database_1.csv",
		root.UserDir(7) + "suffix" + string(filepath.Separator) + "database_1.csv",
	}
	for _, c := range candidates {
		if err := root.Contains(7, c); !errors.Is(err, ErrOutsideSandbox) {
			t.Errorf("Contains(7, %q) = %v, want ErrOutsideSandbox", c, err)
		}
	}
}

func TestContainsRejectsSymlinkEscape(t *testing.T) {
	root, err := NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := root.EnsureUserDir(7); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	link := filepath.Join(root.UserDir(7), "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if err := root.Contains(7, filepath.Join(link, "database_1.csv")); !errors.Is(err, ErrOutsideSandbox) {
		t.Fatalf("symlink escape allowed: %v", err)
	}
}

func TestValidFileName(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"contacts.csv", true},
		{"my_data-2.csv", true},
		{"", false},
		{"../secret.csv", false},
		{"a/b.csv", false},
		{"sp ace.csv", false},
	}
	for _, tt := range tests {
		if got := ValidFileName(tt.in); got != tt.want {
			t.Errorf("ValidFileName(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
