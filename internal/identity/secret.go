package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// LoadSigningSecret returns the persistent JWT signing secret. Order:
// ALIBI_JWT_SECRET env override, then .jwt_secret under dataDir. When the
// file is absent a 32-byte secret is generated and written exactly once;
// it is never regenerated per boot, so tokens survive restarts.
func LoadSigningSecret(dataDir string) ([]byte, error) {
	if v := os.Getenv("ALIBI_JWT_SECRET"); v != "" {
		return []byte(v), nil
	}

	path := filepath.Join(dataDir, ".jwt_secret")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if decoded, decErr := base64.StdEncoding.DecodeString(string(data)); decErr == nil && len(decoded) >= 32 {
			return decoded, nil
		}
		// Legacy raw-byte file.
		if len(data) >= 32 {
			return data, nil
		}
		return nil, fmt.Errorf("jwt secret file %s is too short", path)
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read jwt secret: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, fmt.Errorf("write jwt secret: %w", err)
	}
	return secret, nil
}
