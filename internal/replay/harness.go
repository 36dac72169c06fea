// Package replay feeds recorded observations through an in-memory session so learning
// behaviour can be checked without a server.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/session"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/update"
	"github.com/danielpatrickdp/ihtai/internal/window"
)

// #region types
// Observation is a single recorded agent report.
type Observation struct {
	TurnID      string
	State       point.Point
	ActionTaken string
	Score       float64
}

// ReplayConfig sizes the window and index for a replay run.
type ReplayConfig struct {
	WindowSize     int
	ScoreTimesteps []int
	MaxCells       int
	// SecondsPerTurn advances the virtual clock after every turn so access rates are
	// reproducible.
	SecondsPerTurn float64
	SplitPolicy    quantizer.SplitPolicyConfig
	RubberBanding  update.RubberBanding
}

// DefaultReplayConfig matches the daemon defaults with splitting off.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		WindowSize:     301,
		ScoreTimesteps: []int{30},
		MaxCells:       quantizer.DefaultMaxCells,
		SecondsPerTurn: 1,
		RubberBanding:  update.DefaultConfig().RubberBanding,
	}
}

// ReplayResult captures the outcome of one observation.
type ReplayResult struct {
	TurnID     string
	NearestKey string
	Cell       string
	Action     string
	ActionCost float64
	// Credited names the cell that received rewards this turn, if any.
	Credited string
	Split    string
	Error    string
}

// ReplaySummary provides aggregate stats from a replay run.
type ReplaySummary struct {
	TotalTurns int
	Credits    int
	Splits     int
	Errors     int
	FinalCells int
}

// #endregion types

// #region replay
// Replay initializes a fresh in-memory session from points and alphabet and runs every
// observation through Session.Step. Per-turn failures are recorded, not returned.
func Replay(ctx context.Context, points []point.Point, alphabet point.Alphabet, observations []Observation, cfg ReplayConfig) ([]ReplayResult, ReplaySummary, error) {
	s := store.NewMemoryStore()
	if err := s.Init(ctx); err != nil {
		return nil, ReplaySummary{}, err
	}
	w, err := window.New(cfg.WindowSize, cfg.ScoreTimesteps)
	if err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("replay window: %w", err)
	}

	clock := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	step := time.Duration(cfg.SecondsPerTurn * float64(time.Second))
	logger := slog.New(slog.DiscardHandler)
	ix := quantizer.New(s, quantizer.Options{
		Logger:        logger,
		MaxCells:      cfg.MaxCells,
		SplitPolicy:   quantizer.NewSplitPolicy(cfg.SplitPolicy),
		RubberBanding: cfg.RubberBanding,
		Clock:         func() time.Time { return clock },
	})
	sess := session.New(ix, w, logger)
	if _, err := sess.Initialize(ctx, points, alphabet); err != nil {
		return nil, ReplaySummary{}, fmt.Errorf("replay initialize: %w", err)
	}

	results := make([]ReplayResult, 0, len(observations))
	for _, obs := range observations {
		res := ReplayResult{TurnID: obs.TurnID}
		out, err := sess.Step(ctx, session.StepInput{Point: obs.State, ActionTaken: obs.ActionTaken, Score: obs.Score})
		if err != nil {
			res.Error = err.Error()
		} else {
			res.NearestKey = out.NearestKey
			res.Cell = out.CellKey
			res.Action = out.Action.Signature
			res.ActionCost = out.Action.Score
			if out.Credit != nil {
				res.Credited = out.Credit.CellKey
			}
			if out.Split != nil && out.Split.Error == "" {
				res.Split = out.Split.New
			}
		}
		results = append(results, res)
		clock = clock.Add(step)
	}
	return results, Summarize(results, ix.CellCount()), nil
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []ReplayResult, finalCells int) ReplaySummary {
	s := ReplaySummary{TotalTurns: len(results), FinalCells: finalCells}
	for _, r := range results {
		if r.Error != "" {
			s.Errors++
		}
		if r.Credited != "" {
			s.Credits++
		}
		if r.Split != "" {
			s.Splits++
		}
	}
	return s
}

// #endregion replay

// #region compare
// Mismatch is one expected field that the replay did not reproduce.
type Mismatch struct {
	TurnID string
	Field  string
	Want   string
	Got    string
}

// Compare checks results against expectations by turn ID.
func Compare(results []ReplayResult, expected []FixtureExpectedResult) []Mismatch {
	byTurn := make(map[string]ReplayResult, len(results))
	for _, r := range results {
		byTurn[r.TurnID] = r
	}
	var out []Mismatch
	for _, e := range expected {
		r, ok := byTurn[e.TurnID]
		if !ok {
			out = append(out, Mismatch{TurnID: e.TurnID, Field: "turn", Want: "present", Got: "missing"})
			continue
		}
		check := func(field, want, got string) {
			if want != "" && want != got {
				out = append(out, Mismatch{TurnID: e.TurnID, Field: field, Want: want, Got: got})
			}
		}
		check("cell", e.Cell, r.Cell)
		check("action", e.Action, r.Action)
		check("credited", e.Credited, r.Credited)
	}
	return out
}

// #endregion compare
