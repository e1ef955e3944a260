package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/technosupport/alibi/internal/model"
)

// ErrStorageUnavailable wraps any I/O failure from the log files. Callers
// surface it as 503; nothing is retried here and nothing is rolled back.
var ErrStorageUnavailable = errors.New("storage_unavailable")

// appendLog is a single JSONL file with one serialized writer. A write is
// complete only once the OS append returns; there is no buffering across
// calls.
type appendLog struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func openAppendLog(path string) (*appendLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	return &appendLog{path: path, f: f}, nil
}

// append writes one record as a single line.
func (l *appendLog) append(rec *model.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("%w: append %s: %v", ErrStorageUnavailable, l.path, err)
	}
	return nil
}

func (l *appendLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// scanLog reads every record in file order. Missing file is an empty log.
// Malformed lines are reported to the callback as a nil record with the
// line number; the scan continues.
func scanLog(path string, fn func(line int, rec *model.Record, raw []byte)) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: open %s: %v", ErrStorageUnavailable, path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			fn(line, nil, append([]byte(nil), raw...))
			continue
		}
		fn(line, &rec, nil)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("%w: scan %s: %v", ErrStorageUnavailable, path, err)
	}
	return nil
}
