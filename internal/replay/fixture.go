package replay

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/update"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description          string                  `json:"description"`
	Config               FixtureConfig           `json:"config"`
	StartingData         []point.Point           `json:"starting_data"`
	PossibleActionValues point.Alphabet          `json:"possible_action_values"`
	Observations         []FixtureObservation    `json:"observations"`
	ExpectedResults      []FixtureExpectedResult `json:"expected_results"`
}

// FixtureObservation is one recorded agent report.
type FixtureObservation struct {
	TurnID      string      `json:"turn_id"`
	State       point.Point `json:"state"`
	ActionTaken string      `json:"action_taken"`
	Score       float64     `json:"score"`
}

// FixtureExpectedResult captures the expected outcome per turn. Empty fields are not
// checked.
type FixtureExpectedResult struct {
	TurnID   string `json:"turn_id"`
	Cell     string `json:"cell"`
	Action   string `json:"action"`
	Credited string `json:"credited"`
}

// FixtureConfig bundles the window, index and update settings for a replay run.
type FixtureConfig struct {
	WindowSize     int                  `json:"window_size"`
	ScoreTimesteps []int                `json:"score_timesteps"`
	MaxCells       int                  `json:"max_cells"`
	SecondsPerTurn float64              `json:"seconds_per_turn"`
	SplitPolicy    FixtureSplitPolicy   `json:"split_policy"`
	RubberBanding  FixtureRubberBanding `json:"rubber_banding"`
}

// FixtureSplitPolicy mirrors quantizer.SplitPolicyConfig with JSON tags.
type FixtureSplitPolicy struct {
	Enabled             bool    `json:"enabled"`
	MinUpdatesPerMinute float64 `json:"min_updates_per_minute"`
}

// FixtureRubberBanding mirrors update.RubberBanding with JSON tags.
type FixtureRubberBanding struct {
	Enabled     bool    `json:"enabled"`
	TargetScore float64 `json:"target_score"`
	Decay       float64 `json:"decay"`
}

// #endregion fixture-types

// #region fixture-loader

// LoadFixture reads and parses a JSON fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// ToObservation converts a FixtureObservation to a domain Observation.
func (fo *FixtureObservation) ToObservation() Observation {
	return Observation{
		TurnID:      fo.TurnID,
		State:       fo.State,
		ActionTaken: fo.ActionTaken,
		Score:       fo.Score,
	}
}

// ToReplayConfig converts a FixtureConfig to a domain ReplayConfig. Zero fields keep
// the defaults.
func (fc *FixtureConfig) ToReplayConfig() ReplayConfig {
	cfg := DefaultReplayConfig()
	if fc.WindowSize > 0 {
		cfg.WindowSize = fc.WindowSize
	}
	if len(fc.ScoreTimesteps) > 0 {
		cfg.ScoreTimesteps = append([]int{}, fc.ScoreTimesteps...)
	}
	if fc.MaxCells > 0 {
		cfg.MaxCells = fc.MaxCells
	}
	if fc.SecondsPerTurn > 0 {
		cfg.SecondsPerTurn = fc.SecondsPerTurn
	}
	cfg.SplitPolicy = quantizer.SplitPolicyConfig{
		Enabled:             fc.SplitPolicy.Enabled,
		MinUpdatesPerMinute: fc.SplitPolicy.MinUpdatesPerMinute,
	}
	cfg.RubberBanding = update.RubberBanding{
		Enabled:     fc.RubberBanding.Enabled,
		TargetScore: fc.RubberBanding.TargetScore,
		Decay:       fc.RubberBanding.Decay,
	}
	return cfg
}

// ToObservations converts every fixture observation.
func (f *Fixture) ToObservations() []Observation {
	out := make([]Observation, len(f.Observations))
	for i := range f.Observations {
		out[i] = f.Observations[i].ToObservation()
	}
	return out
}

// #endregion fixture-loader
