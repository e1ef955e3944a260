package auth_test

import (
	"strings"
	"testing"

	"github.com/technosupport/alibi/internal/auth"
)

func TestHashAndVerifyPassword(t *testing.T) {
	password := "correct-horse-battery-staple"

	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("expected argon2id prefix, got %s", hash)
	}

	match, err := auth.VerifyPassword(password, hash)
	if err != nil {
		t.Errorf("verify returned error: %v", err)
	}
	if !match {
		t.Error("password did not match its own hash")
	}

	match, err = auth.VerifyPassword("wrong-password", hash)
	if err != nil {
		t.Errorf("verify returned error: %v", err)
	}
	if match {
		t.Error("wrong password matched hash")
	}
}

func TestHashesAreSalted(t *testing.T) {
	a, err := auth.HashPassword("same-password-here")
	if err != nil {
		t.Fatal(err)
	}
	b, err := auth.HashPassword("same-password-here")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("two hashes of the same password must differ")
	}
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, bad := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=2,p=2$salt", // missing key part
		"$bcrypt$whatever",
	} {
		if _, err := auth.VerifyPassword("x", bad); err == nil {
			t.Errorf("malformed hash %q accepted", bad)
		}
	}
}
