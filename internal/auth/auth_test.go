package auth

import (
	"strings"
	"testing"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Fatalf("unexpected hash format %q", hash)
	}

	ok, err := VerifyPassword(hash, "hunter22")
	if err != nil || !ok {
		t.Fatalf("verify correct password: ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword(hash, "hunter23")
	if err != nil {
		t.Fatalf("verify wrong password errored: %v", err)
	}
	if ok {
		t.Fatal("wrong password verified")
	}
}

func TestHashPasswordTooShort(t *testing.T) {
	if _, err := HashPassword("abc"); err == nil {
		t.Fatal("short password accepted")
	}
}

func TestVerifyPasswordBadHash(t *testing.T) {
	if _, err := VerifyPassword("not-a-hash", "x"); err == nil {
		t.Fatal("malformed hash accepted")
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"ann@example.com", true},
		{"a.b+tag@sub.example.org", true},
		{"", false},
		{"not-an-email", false},
		{"missing@tld", false},
		{"Ann <ann@example.com>", false},
		{"two@ex.com three@ex.com", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.in); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRedactToken(t *testing.T) {
	if got := RedactToken("ann@example.com"); got != "ann…" {
		t.Fatalf("RedactToken = %q", got)
	}
	if got := RedactToken("ab"); got != "***" {
		t.Fatalf("RedactToken short = %q", got)
	}
}
