package sim

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/technosupport/alibi/internal/model"
)

// ReplayResult reports a replay run. Malformed lines are collected, not
// fatal; valid lines still proceed in file order.
type ReplayResult struct {
	Total    int      `json:"total"`
	Ingested int      `json:"ingested"`
	Errors   []string `json:"errors"`
}

// Replay parses JSONL camera events from r and injects each through the
// ingestion pipeline in order.
func (s *Simulator) Replay(ctx context.Context, r io.Reader, actor string) (*ReplayResult, error) {
	res := &ReplayResult{Errors: []string{}}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		res.Total++

		raw, err := s.fillSeverity(raw)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		evt, err := model.ParseCameraEvent(raw)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}
		if err := s.ingest.Ingest(ctx, evt, actor); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: ingest: %v", line, err))
			continue
		}
		res.Ingested++
	}
	if err := sc.Err(); err != nil {
		return res, fmt.Errorf("read replay input: %w", err)
	}
	return res, nil
}

// fillSeverity backfills an omitted (or zero) severity from the detector
// defaults table. The default only applies when the event clears its
// detector's trigger confidence; an unknown detector stays unset and fails
// the schema gate downstream.
func (s *Simulator) fillSeverity(raw []byte) ([]byte, error) {
	if s.Settings == nil {
		return raw, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw, nil // let the schema gate report the parse error
	}
	if sev, ok := doc["severity"].(float64); ok && sev != 0 {
		return raw, nil
	}

	eventType, _ := doc["event_type"].(string)
	def, ok := s.Settings.Snapshot().Detectors[eventType]
	if !ok {
		return raw, nil
	}
	confidence, _ := doc["confidence"].(float64)
	if confidence < def.TriggerConfidence {
		return nil, fmt.Errorf("confidence %v below trigger %v for %s without severity",
			confidence, def.TriggerConfidence, eventType)
	}
	doc["severity"] = def.DefaultSeverity
	return json.Marshal(doc)
}

// ReplayFile replays a JSONL file from disk.
func (s *Simulator) ReplayFile(ctx context.Context, path, actor string) (*ReplayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	defer f.Close()
	return s.Replay(ctx, f, actor)
}
