package identity

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/technosupport/alibi/internal/auth"
	"github.com/technosupport/alibi/internal/clock"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrBadPassword  = errors.New("invalid credentials")
	ErrUserDisabled = errors.New("user disabled")
)

// User is one account record as stored in users.json. Passwords exist only
// as Argon2id hashes.
type User struct {
	Username     string    `json:"-"`
	PasswordHash string    `json:"password_hash"`
	Role         Role      `json:"role"`
	Enabled      bool      `json:"enabled"`
	CreatedTS    time.Time `json:"created_ts"`
	UpdatedTS    time.Time `json:"updated_ts,omitzero"`
}

// Store manages users.json and the JWT signing secret. Both files are
// private to the process.
type Store struct {
	dataDir string
	clk     clock.Clock

	mu    sync.RWMutex
	users map[string]*User
}

// Open loads users.json; when absent it bootstraps one default user per
// role with high-entropy passwords, printing them once and writing them to
// a restricted .initial_passwords.txt. No hard-coded passwords ship.
func Open(dataDir string, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{dataDir: dataDir, clk: clk, users: map[string]*User{}}

	path := s.usersPath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &s.users); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for name, u := range s.users {
			u.Username = name
		}
		return s, nil
	case os.IsNotExist(err):
		return s, s.bootstrap()
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
}

func (s *Store) usersPath() string { return filepath.Join(s.dataDir, "users.json") }

func (s *Store) bootstrap() error {
	defaults := []struct {
		name string
		role Role
	}{
		{"operator", RoleOperator},
		{"supervisor", RoleSupervisor},
		{"admin", RoleAdmin},
	}

	var lines []string
	for _, d := range defaults {
		password, err := randomSecret(18)
		if err != nil {
			return err
		}
		hash, err := auth.HashPassword(password)
		if err != nil {
			return err
		}
		s.users[d.name] = &User{
			Username:     d.name,
			PasswordHash: hash,
			Role:         d.role,
			Enabled:      true,
			CreatedTS:    s.clk.Now(),
		}
		lines = append(lines, fmt.Sprintf("%s: %s", d.name, password))
	}

	if err := s.persistLocked(); err != nil {
		return err
	}

	// Printed once and spooled to a restricted file the admin is expected
	// to delete after copying.
	body := "Initial Alibi credentials (delete this file after copying):\n"
	for _, l := range lines {
		body += l + "\n"
		fmt.Printf("initial credential %s\n", l)
	}
	pwPath := filepath.Join(s.dataDir, ".initial_passwords.txt")
	if err := os.WriteFile(pwPath, []byte(body), 0o600); err != nil {
		return fmt.Errorf("write initial passwords: %w", err)
	}
	return nil
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.users, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.usersPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.usersPath())
}

// Authenticate verifies username+password against the stored hash.
func (s *Store) Authenticate(username, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()
	if !ok {
		auth.DummyVerify()
		return nil, ErrBadPassword
	}
	match, err := auth.VerifyPassword(password, u.PasswordHash)
	if err != nil || !match {
		return nil, ErrBadPassword
	}
	if !u.Enabled {
		return nil, ErrUserDisabled
	}
	cp := *u
	return &cp, nil
}

// Get returns one user.
func (s *Store) Get(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// List returns all users ordered by username.
func (s *Store) List() []User {
	s.mu.RLock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Create adds a user with the given password.
func (s *Store) Create(username, password string, role Role) (*User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return nil, ErrUserExists
	}
	u := &User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Enabled:      true,
		CreatedTS:    s.clk.Now(),
	}
	s.users[username] = u
	if err := s.persistLocked(); err != nil {
		delete(s.users, username)
		return nil, err
	}
	cp := *u
	return &cp, nil
}

// SetEnabled flips the enabled flag.
func (s *Store) SetEnabled(username string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.Enabled = enabled
	u.UpdatedTS = s.clk.Now()
	return s.persistLocked()
}

// ChangePassword verifies the current password and stores a new hash.
func (s *Store) ChangePassword(username, current, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	match, err := auth.VerifyPassword(current, u.PasswordHash)
	if err != nil || !match {
		return ErrBadPassword
	}
	return s.setPasswordLocked(u, next)
}

// ResetPassword sets a new password without the current one (admin path).
func (s *Store) ResetPassword(username, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	if !ok {
		return ErrUserNotFound
	}
	return s.setPasswordLocked(u, next)
}

func (s *Store) setPasswordLocked(u *User, next string) error {
	if len(next) < 10 {
		return fmt.Errorf("password must be at least 10 characters")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	u.UpdatedTS = s.clk.Now()
	return s.persistLocked()
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
