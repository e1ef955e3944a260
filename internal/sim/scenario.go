package sim

import (
	"fmt"
	"math/rand"
	"sort"
)

// Scenario is a weighted event-type distribution for generated traffic.
type Scenario struct {
	Name    string
	Weights map[string]float64 // event_type -> relative weight
	// WatchlistChance is the probability a plate_read carries a plate that
	// could be on the watchlist.
	WatchlistChance float64
	// EvidenceChance is the probability an event carries a clip URL.
	EvidenceChance float64
}

var scenarios = map[string]Scenario{
	"quiet_shift": {
		Name: "quiet_shift",
		Weights: map[string]float64{
			"person_detected":  0.6,
			"vehicle_detected": 0.3,
			"loitering":        0.1,
		},
		EvidenceChance: 0.5,
	},
	"normal_day": {
		Name: "normal_day",
		Weights: map[string]float64{
			"person_detected":  0.35,
			"vehicle_detected": 0.30,
			"plate_read":       0.20,
			"loitering":        0.10,
			"line_crossing":    0.05,
		},
		WatchlistChance: 0.02,
		EvidenceChance:  0.7,
	},
	"busy_evening": {
		Name: "busy_evening",
		Weights: map[string]float64{
			"person_detected":     0.30,
			"vehicle_detected":    0.25,
			"plate_read":          0.20,
			"loitering":           0.15,
			"red_light_violation": 0.10,
		},
		WatchlistChance: 0.03,
		EvidenceChance:  0.8,
	},
	"security_incident": {
		Name: "security_incident",
		Weights: map[string]float64{
			"person_detected": 0.35,
			"loitering":       0.25,
			"line_crossing":   0.20,
			"hotlist_match":   0.10,
			"plate_mismatch":  0.10,
		},
		WatchlistChance: 0.15,
		EvidenceChance:  0.9,
	},
	"mixed_events": {
		Name: "mixed_events",
		Weights: map[string]float64{
			"person_detected":     0.20,
			"vehicle_detected":    0.20,
			"plate_read":          0.15,
			"loitering":           0.15,
			"line_crossing":       0.10,
			"red_light_violation": 0.10,
			"hotlist_match":       0.05,
			"plate_mismatch":      0.05,
		},
		WatchlistChance: 0.05,
		EvidenceChance:  0.6,
	},
}

// ScenarioNames lists the presets in stable order.
func ScenarioNames() []string {
	names := make([]string, 0, len(scenarios))
	for n := range scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LookupScenario resolves a preset by name.
func LookupScenario(name string) (Scenario, error) {
	s, ok := scenarios[name]
	if !ok {
		return Scenario{}, fmt.Errorf("unknown scenario %q (have %v)", name, ScenarioNames())
	}
	return s, nil
}

// pick draws an event type from the weighted distribution. Iteration is
// over sorted keys so the same PRNG state always picks the same type.
func (s Scenario) pick(rng *rand.Rand) string {
	types := make([]string, 0, len(s.Weights))
	for t := range s.Weights {
		types = append(types, t)
	}
	sort.Strings(types)

	// Sum in sorted order too: float addition is order-sensitive, and the
	// total feeds the draw.
	total := 0.0
	for _, t := range types {
		total += s.Weights[t]
	}

	x := rng.Float64() * total
	for _, t := range types {
		x -= s.Weights[t]
		if x <= 0 {
			return t
		}
	}
	return types[len(types)-1]
}
