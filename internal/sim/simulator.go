package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/technosupport/alibi/internal/clock"
	"github.com/technosupport/alibi/internal/config"
	"github.com/technosupport/alibi/internal/model"
)

var (
	ErrAlreadyRunning = errors.New("simulator already running")
	ErrNotRunning     = errors.New("simulator not running")
	ErrBadRate        = errors.New("rate must be between 0.1 and 120 events/minute")
)

// Ingestor is the same function boundary HTTP ingestion uses; the simulator
// never writes around the pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, evt *model.CameraEvent, actor string) error
}

// Status is the externally visible simulator state.
type Status struct {
	Running        bool    `json:"running"`
	Scenario       string  `json:"scenario,omitempty"`
	RatePerMinute  float64 `json:"rate_per_minute,omitempty"`
	Seed           int64   `json:"seed,omitempty"`
	Generated      int     `json:"generated"`
	Dropped        int     `json:"dropped"` // invalid generations, never corrected
	IngestFailures int     `json:"ingest_failures"`
}

// Simulator generates schema-valid camera events on a fixed cadence. One
// run owns one PRNG: same seed + scenario + rate replays the same stream
// (timestamps excepted unless a fixed clock is injected).
type Simulator struct {
	ingest Ingestor
	clk    clock.Clock

	// Settings, when set, supplies the per-detector defaults used to fill an
	// omitted severity on the replay path. HTTP ingest never fills values.
	Settings *config.SettingsStore

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	status  Status
}

func New(ingest Ingestor, clk clock.Clock) *Simulator {
	return &Simulator{ingest: ingest, clk: clk}
}

var simCameras = []struct{ camera, zone string }{
	{"cam_gate_1", "zone_entry"},
	{"cam_gate_2", "zone_entry"},
	{"cam_lot_a", "zone_parking"},
	{"cam_lot_b", "zone_parking"},
	{"cam_lobby", "zone_lobby"},
	{"cam_perimeter_n", "zone_perimeter"},
	{"cam_perimeter_s", "zone_perimeter"},
	{"cam_intersection", "zone_street"},
}

// Start launches a run. Only one run at a time.
func (s *Simulator) Start(scenarioName string, ratePerMinute float64, seed int64) error {
	if ratePerMinute < 0.1 || ratePerMinute > 120 {
		return ErrBadRate
	}
	scenario, err := LookupScenario(scenarioName)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.status = Status{
		Running:       true,
		Scenario:      scenario.Name,
		RatePerMinute: ratePerMinute,
		Seed:          seed,
	}

	interval := time.Duration(float64(time.Minute) / ratePerMinute)
	go s.run(ctx, scenario, seed, interval)
	return nil
}

// Stop cancels the run and waits for in-flight generation to drain.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.mu.Unlock()
	return nil
}

// Status returns a snapshot of the current run.
func (s *Simulator) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Simulator) run(ctx context.Context, scenario Scenario, seed int64, interval time.Duration) {
	defer close(s.done)

	rng := rand.New(rand.NewSource(seed))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			evt := s.generate(scenario, rng, seed, n)
			if err := evt.Validate(); err != nil {
				// Mirror of the ingest discipline: drop and count, never fix.
				s.mu.Lock()
				s.status.Dropped++
				s.mu.Unlock()
				log.Printf("simulator dropped invalid generation: %v", err)
				continue
			}
			if err := s.ingest.Ingest(ctx, evt, "simulator"); err != nil {
				s.mu.Lock()
				s.status.IngestFailures++
				s.mu.Unlock()
				log.Printf("simulator ingest failed: %v", err)
				continue
			}
			s.mu.Lock()
			s.status.Generated++
			s.mu.Unlock()
		}
	}
}

// generate draws one event. All randomness comes from rng so a run is
// fully determined by (scenario, seed, rate).
func (s *Simulator) generate(scenario Scenario, rng *rand.Rand, seed int64, n int) *model.CameraEvent {
	loc := simCameras[rng.Intn(len(simCameras))]
	eventType := scenario.pick(rng)

	confidence := math.Round((0.4+rng.Float64()*0.6)*100) / 100
	severity := 1 + rng.Intn(4)
	if eventType == "hotlist_match" || eventType == "plate_mismatch" {
		severity = 3 + rng.Intn(2)
	}

	evt := &model.CameraEvent{
		EventID:    fmt.Sprintf("sim-%d-%06d", seed, n),
		CameraID:   loc.camera,
		ZoneID:     loc.zone,
		TS:         s.clk.Now(),
		EventType:  eventType,
		Confidence: confidence,
		Severity:   severity,
		Metadata:   map[string]any{"source": "simulator"},
	}

	if eventType == "plate_read" || eventType == "plate_mismatch" || eventType == "hotlist_match" {
		evt.Metadata["plate_text"] = fmt.Sprintf("SIM%04d", rng.Intn(10000))
	}
	if rng.Float64() < scenario.WatchlistChance {
		evt.Metadata["watchlist_match"] = true
	}
	if rng.Float64() < scenario.EvidenceChance {
		evt.ClipURL = fmt.Sprintf("https://evidence.local/clips/%s/%s.mp4", loc.camera, evt.EventID)
	}
	return evt
}
