package identity_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/technosupport/alibi/internal/identity"
)

func TestSigningSecretIsStable(t *testing.T) {
	t.Setenv("ALIBI_JWT_SECRET", "")
	dir := t.TempDir()

	a, err := identity.LoadSigningSecret(dir)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if len(a) < 32 {
		t.Fatalf("secret too short: %d bytes", len(a))
	}

	b, err := identity.LoadSigningSecret(dir)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("secret must be identical across loads, or issued tokens break on restart")
	}

	raw, err := os.ReadFile(filepath.Join(dir, ".jwt_secret"))
	if err != nil {
		t.Fatalf("secret file: %v", err)
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		t.Fatalf("secret file must be base64: %v", err)
	}
	if !bytes.Equal(decoded, a) {
		t.Error("file contents do not decode to the loaded secret")
	}

	info, err := os.Stat(filepath.Join(dir, ".jwt_secret"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secret file must be 0600, got %v", info.Mode().Perm())
	}
}

func TestSigningSecretEnvOverride(t *testing.T) {
	t.Setenv("ALIBI_JWT_SECRET", "an-operator-supplied-secret-of-length")

	got, err := identity.LoadSigningSecret(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != "an-operator-supplied-secret-of-length" {
		t.Errorf("env override ignored, got %q", got)
	}
}

func TestSigningSecretRejectsShortFile(t *testing.T) {
	t.Setenv("ALIBI_JWT_SECRET", "")
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".jwt_secret"), []byte(base64.StdEncoding.EncodeToString([]byte("short"))), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := identity.LoadSigningSecret(dir); err == nil {
		t.Fatal("short secret accepted")
	}
}
