package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
)

// #region fixture-tests

// TestFixture_BallSession replays the ball_session fixture and compares every turn
// against its expected cell, action and credited cell.
func TestFixture_BallSession(t *testing.T) {
	f, err := LoadFixture(filepath.Join("testdata", "ball_session.json"))
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}

	results, summary, err := Replay(context.Background(), f.StartingData, f.PossibleActionValues,
		f.ToObservations(), f.Config.ToReplayConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(results) != len(f.ExpectedResults) {
		t.Fatalf("expected %d results, got %d", len(f.ExpectedResults), len(results))
	}
	for _, m := range Compare(results, f.ExpectedResults) {
		t.Errorf("turn %s: %s want %s, got %s", m.TurnID, m.Field, m.Want, m.Got)
	}
	if results[0].Credited != "" {
		t.Errorf("first turn cannot credit anything, got %s", results[0].Credited)
	}
	if summary.TotalTurns != 5 || summary.Credits != 4 || summary.Errors != 0 || summary.FinalCells != 4 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestLoadFixture_NotFound(t *testing.T) {
	if _, err := LoadFixture("testdata/nonexistent.json"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestLoadFixture_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not valid json}"), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if _, err := LoadFixture(path); err == nil {
		t.Fatal("expected error for malformed JSON, got nil")
	}
}

// #endregion fixture-tests

// #region harness-tests
func pt(in, act, drive float64) point.Point {
	return point.Point{Input: []float64{in}, Action: []float64{act}, Drive: []float64{drive}}
}

func TestReplaySplitsHotCell(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.WindowSize = 2
	cfg.ScoreTimesteps = []int{2}
	cfg.SplitPolicy = quantizer.SplitPolicyConfig{Enabled: true, MinUpdatesPerMinute: 0}

	points := []point.Point{pt(0, 1, 0), pt(10, 1, 10)}
	alphabet := point.Alphabet{point.NumberSymbols(1, 2)}
	obs := []Observation{
		{TurnID: "a", State: pt(0, 1, 0), Score: 1},
		{TurnID: "b", State: pt(0, 1, 0), Score: 1},
		{TurnID: "c", State: pt(1, 1, 1), Score: 1},
	}

	results, summary, err := Replay(context.Background(), points, alphabet, obs, cfg)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	// turn b credits pattern_0_1_0, so turn c finds it hot and splits toward (1,1,1)
	if results[2].Split != "pattern_1_1_1" || results[2].Cell != "pattern_1_1_1" {
		t.Fatalf("expected split into pattern_1_1_1, got %+v", results[2])
	}
	if summary.Splits != 1 || summary.FinalCells != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestReplayRecordsTurnErrors(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.WindowSize = 2
	cfg.ScoreTimesteps = []int{2}
	points := []point.Point{pt(0, 1, 0)}
	alphabet := point.Alphabet{point.NumberSymbols(1)}
	bad := point.Point{Input: []float64{0, 0}, Action: []float64{1}, Drive: []float64{0}}

	results, summary, err := Replay(context.Background(), points, alphabet, []Observation{{TurnID: "x", State: bad}}, cfg)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[0].Error == "" || summary.Errors != 1 {
		t.Fatalf("expected a recorded shape error, got %+v", results[0])
	}
}

func TestReplayRejectsBadConfig(t *testing.T) {
	cfg := DefaultReplayConfig()
	cfg.ScoreTimesteps = []int{1000}
	if _, _, err := Replay(context.Background(), nil, nil, nil, cfg); err == nil {
		t.Fatal("expected window config error")
	}
}

func TestCompareReportsMissingTurn(t *testing.T) {
	got := Compare([]ReplayResult{{TurnID: "a", Action: "1"}}, []FixtureExpectedResult{
		{TurnID: "a", Action: "2"},
		{TurnID: "b"},
	})
	if len(got) != 2 || got[0].Field != "action" || got[1].Field != "turn" {
		t.Fatalf("unexpected mismatches %+v", got)
	}
}

// #endregion harness-tests
