package watchlist

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound = errors.New("watchlist entry not found")
	ErrExists   = errors.New("watchlist entry already exists")
)

// Entry is one registered plate or person of interest. A match against it
// is always a claim requiring human verification, never a confirmation.
type Entry struct {
	Identifier string    `json:"identifier"` // normalized plate text or person tag
	Label      string    `json:"label"`
	Reason     string    `json:"reason"`
	AddedBy    string    `json:"added_by"`
	AddedTS    time.Time `json:"added_ts"`
}

// Registry is the admin-managed watchlist backed by watchlist.json.
type Registry struct {
	path string

	mu      sync.RWMutex
	entries map[string]Entry
}

// Open loads watchlist.json, creating an empty registry when absent.
func Open(dataDir string) (*Registry, error) {
	r := &Registry{
		path:    filepath.Join(dataDir, "watchlist.json"),
		entries: map[string]Entry{},
	}
	data, err := os.ReadFile(r.path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &r.entries); err != nil {
			return nil, fmt.Errorf("parse watchlist: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	return r, nil
}

// Normalize canonicalizes plate text for matching.
func Normalize(identifier string) string {
	return strings.ToUpper(strings.Join(strings.Fields(identifier), ""))
}

// Match returns the entry for an identifier, if registered.
func (r *Registry) Match(identifier string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[Normalize(identifier)]
	return e, ok
}

// List returns entries ordered by identifier.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Add registers an entry and persists the file.
func (r *Registry) Add(e Entry) error {
	key := Normalize(e.Identifier)
	if key == "" {
		return fmt.Errorf("identifier is required")
	}
	e.Identifier = key

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return ErrExists
	}
	r.entries[key] = e
	return r.persistLocked()
}

// Remove deletes an entry and persists the file.
func (r *Registry) Remove(identifier string) error {
	key := Normalize(identifier)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return ErrNotFound
	}
	delete(r.entries, key)
	return r.persistLocked()
}

func (r *Registry) persistLocked() error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write watchlist: %w", err)
	}
	return os.Rename(tmp, r.path)
}
