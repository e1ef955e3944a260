package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/technosupport/alibi/internal/clock"
)

// Entry is one audit line. Append-only; no update or delete paths exist.
type Entry struct {
	EntryID  string          `json:"entry_id"`
	TS       time.Time       `json:"ts"`
	Actor    string          `json:"actor_username"` // "anonymous" for failed logins
	Action   string          `json:"action"`
	TargetID string          `json:"target_id,omitempty"`
	Detail   json.RawMessage `json:"detail,omitempty"`
}

// Action codes written by the rest of the system.
const (
	ActionLoginSuccess     = "login_success"
	ActionLoginFailure     = "login_failure"
	ActionLoginLockout     = "login_lockout"
	ActionUserCreate       = "user_create"
	ActionUserDisable      = "user_disable"
	ActionPasswordChange   = "password_change"
	ActionPasswordReset    = "password_reset"
	ActionDecisionRecorded = "decision_recorded"
	ActionApprovalGranted  = "approval_granted"
	ActionSettingsUpdate   = "settings_update"
	ActionSimulatorStart   = "simulator_start"
	ActionSimulatorStop    = "simulator_stop"
	ActionIngestRejected   = "ingest_rejected"
	ActionWatchlistAdd     = "watchlist_add"
	ActionWatchlistRemove  = "watchlist_remove"
	ActionWatchlistHit     = "watchlist_hit"
)

// Logger appends audit entries to audit.jsonl. Failures are logged and
// swallowed: audit must never fail the operation being audited.
type Logger struct {
	clk clock.Clock

	mu sync.Mutex
	f  *os.File
}

// Open creates or opens audit.jsonl under dataDir.
func Open(dataDir string, clk clock.Clock) (*Logger, error) {
	path := filepath.Join(dataDir, "audit.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Logger{clk: clk, f: f}, nil
}

// Log writes one entry. Detail may be any JSON-marshalable payload snapshot.
func (l *Logger) Log(actor, action, targetID string, detail any) {
	if l == nil {
		return
	}
	e := Entry{
		EntryID:  uuid.NewString(),
		TS:       l.clk.Now(),
		Actor:    actor,
		Action:   action,
		TargetID: targetID,
	}
	if detail != nil {
		if raw, err := json.Marshal(detail); err == nil {
			e.Detail = raw
		}
	}

	line, err := json.Marshal(envelope{RecordTS: e.TS, Kind: "audit", Payload: e})
	if err != nil {
		log.Printf("audit marshal failed: %v", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(line); err != nil {
		log.Printf("audit write failed: %v", err)
	}
}

type envelope struct {
	RecordTS time.Time `json:"record_ts"`
	Kind     string    `json:"kind"`
	Payload  Entry     `json:"payload"`
}

// Close flushes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Scan replays the audit log in file order, skipping unreadable lines.
func Scan(dataDir string, fn func(Entry)) error {
	f, err := os.Open(filepath.Join(dataDir, "audit.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var env envelope
		if err := json.Unmarshal(sc.Bytes(), &env); err != nil {
			continue
		}
		fn(env.Payload)
	}
	return sc.Err()
}
