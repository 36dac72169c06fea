package session

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/update"
	"github.com/danielpatrickdp/ihtai/internal/window"
)

// #region helpers
func pt(in, act, drive float64) point.Point {
	return point.Point{Input: []float64{in}, Action: []float64{act}, Drive: []float64{drive}}
}

func newSession(t *testing.T, opts quantizer.Options, horizons ...int) *Session {
	t.Helper()
	s := store.NewMemoryStore()
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if len(horizons) == 0 {
		horizons = []int{2, 3}
	}
	w, err := window.New(5, horizons)
	if err != nil {
		t.Fatalf("window.New: %v", err)
	}
	return New(quantizer.New(s, opts), w, nil)
}

func initFixture(t *testing.T, sess *Session) {
	t.Helper()
	points := []point.Point{pt(5, 5, 5), pt(10, 10, 10), pt(0, 15, 0), pt(20, 20, 20)}
	alphabet := point.Alphabet{point.NumberSymbols(5, 10, 15, 20)}
	if _, err := sess.Initialize(context.Background(), points, alphabet); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
}

// #endregion helpers

// #region step-tests
func TestStepRequiresInitialize(t *testing.T) {
	sess := newSession(t, quantizer.Options{})
	_, err := sess.Step(context.Background(), StepInput{Point: pt(5, 5, 5), Score: 1})
	if !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if sess.Window().Len() != 0 {
		t.Fatal("failed step must not touch the window")
	}
}

func TestStepCreditsHeadCell(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{})
	initFixture(t, sess)

	first, err := sess.Step(ctx, StepInput{Point: pt(5, 5, 5), Score: 1})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if first.NearestKey != "pattern_5_5_5" || first.Credit != nil {
		t.Fatalf("unexpected first step: %+v", first)
	}
	if first.Action.Signature != "10" {
		t.Fatalf("expected tie-break to pick signature 10, got %s", first.Action.Signature)
	}

	second, err := sess.Step(ctx, StepInput{Point: pt(9, 10, 9), ActionTaken: "20", Score: 4})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if second.NearestKey != "pattern_10_10_10" {
		t.Fatalf("expected nearest pattern_10_10_10, got %s", second.NearestKey)
	}
	if second.Credit == nil {
		t.Fatal("expected credit once the window is minimally full")
	}
	c := second.Credit
	if c.CellKey != "pattern_5_5_5" || c.ActionKey != "20" {
		t.Fatalf("credit went to %s/%s", c.CellKey, c.ActionKey)
	}
	// only horizon 2 fits: the average over [1, 2) is the second step's score
	if len(c.Rewards) != 1 || c.Rewards[0] != 4 {
		t.Fatalf("unexpected rewards %v", c.Rewards)
	}
	want := update.WeightedScore(0, 4, 0, 0)
	if math.Abs(c.BestScore-want) > 1e-12 {
		t.Fatalf("best score = %v, want %v", c.BestScore, want)
	}
	if sess.Cycles() != 2 {
		t.Fatalf("expected 2 cycles, got %d", sess.Cycles())
	}
}

func TestStepSplitsHotCell(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{
		SplitPolicy: quantizer.NewSplitPolicy(quantizer.SplitPolicyConfig{Enabled: true, MinUpdatesPerMinute: 0}),
	})
	initFixture(t, sess)

	// heat pattern_5_5_5 so its access rate is positive
	if _, err := sess.Index().UpdateScores(ctx, "pattern_5_5_5", "5", []float64{1}); err != nil {
		t.Fatalf("UpdateScores: %v", err)
	}

	res, err := sess.Step(ctx, StepInput{Point: pt(6, 5, 5), Score: 1})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Split == nil || res.Split.Error != "" {
		t.Fatalf("expected a successful split, got %+v", res.Split)
	}
	if res.CellKey != "pattern_6_5_5" || res.Split.Original != "pattern_5_5_5" {
		t.Fatalf("unexpected split result %+v", res)
	}
	if sess.Index().CellCount() != 5 {
		t.Fatalf("expected 5 cells, got %d", sess.Index().CellCount())
	}
	// the split reset the original's access stats
	rate, err := sess.AccessRate(ctx, "5_5_5")
	if err != nil {
		t.Fatalf("AccessRate: %v", err)
	}
	if rate != 0 {
		t.Fatalf("expected reset rate, got %v", rate)
	}
}

func TestStepNoSplitOnExactCell(t *testing.T) {
	sess := newSession(t, quantizer.Options{
		SplitPolicy: quantizer.NewSplitPolicy(quantizer.SplitPolicyConfig{Enabled: true}),
	})
	initFixture(t, sess)
	res, err := sess.Step(context.Background(), StepInput{Point: pt(5, 5, 5)})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Split != nil {
		t.Fatalf("no split expected when the point is already a cell, got %+v", res.Split)
	}
}

func TestStepSkipsCreditForDeletedCell(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{})
	initFixture(t, sess)

	if _, err := sess.Step(ctx, StepInput{Point: pt(20, 20, 20), Score: 1}); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if err := sess.DeleteCell(ctx, "pattern_20_20_20"); err != nil {
		t.Fatalf("DeleteCell: %v", err)
	}
	res, err := sess.Step(ctx, StepInput{Point: pt(5, 5, 5), Score: 1})
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Credit != nil {
		t.Fatalf("expected skipped credit, got %+v", res.Credit)
	}
}

// #endregion step-tests

// #region request-tests
func TestUpdateScoreNeedsHistory(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{})

	if _, err := sess.UpdateScore(ctx); !errors.Is(err, errs.ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	initFixture(t, sess)
	sess.AddTimeStep("5", "5_5_5", 2)
	if _, err := sess.UpdateScore(ctx); !errors.Is(err, errs.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}

	if n := sess.AddTimeStep("15", "pattern_0_15_0", 6); n != 2 {
		t.Fatalf("expected window length 2, got %d", n)
	}
	credit, err := sess.UpdateScore(ctx)
	if err != nil {
		t.Fatalf("UpdateScore: %v", err)
	}
	if credit.CellKey != "pattern_5_5_5" || credit.ActionKey != "15" {
		t.Fatalf("unexpected credit %+v", credit)
	}
	rows, err := sess.Actions(ctx, "pattern_5_5_5")
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	for _, r := range rows {
		if r.Signature == "15" && r.Horizon == 0 && r.UpdateCount != 1 {
			t.Fatalf("expected one update on 15/0, got %+v", r)
		}
	}
}

func TestSplitAndBestNextAction(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{})
	initFixture(t, sess)

	key, err := sess.Split(ctx, "5_5_5", pt(1, 2, 3))
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if key != "pattern_1_2_3" {
		t.Fatalf("unexpected key %s", key)
	}
	best, err := sess.BestNextAction(ctx, key)
	if err != nil {
		t.Fatalf("BestNextAction: %v", err)
	}
	// every row is still 0, so the lexicographically smallest signature wins
	if best.Signature != "10" {
		t.Fatalf("unexpected best action %+v", best)
	}
	rows, err := sess.Actions(ctx, "pattern_20_20_20")
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	found := false
	for _, r := range rows {
		found = found || r.Signature == "2"
	}
	if !found {
		t.Fatal("new action signature was not fanned out to other cells")
	}
	if _, err := sess.Split(ctx, "5_5_5", pt(1, 2, 3)); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if _, err := sess.BestNextAction(ctx, "missing"); !errors.Is(err, errs.ErrNoSuchCell) {
		t.Fatalf("expected ErrNoSuchCell, got %v", err)
	}
}

func TestCellsListing(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{Clock: func() time.Time { return time.Now().Add(time.Minute) }})
	initFixture(t, sess)

	cells, err := sess.Cells(ctx)
	if err != nil {
		t.Fatalf("Cells: %v", err)
	}
	if len(cells) != 4 {
		t.Fatalf("expected 4 cells, got %d", len(cells))
	}
	if cells[0].Key != "pattern_0_15_0" {
		t.Fatalf("expected ordered listing, got %s first", cells[0].Key)
	}
	if _, err := sess.Actions(ctx, "nope"); !errors.Is(err, errs.ErrNoSuchCell) {
		t.Fatalf("expected ErrNoSuchCell, got %v", err)
	}
	entries, err := sess.Journal(ctx, 10)
	if err != nil {
		t.Fatalf("Journal: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != "initialize" {
		t.Fatalf("unexpected journal %+v", entries)
	}
}

func TestClearResetsEverything(t *testing.T) {
	ctx := context.Background()
	sess := newSession(t, quantizer.Options{})
	initFixture(t, sess)
	if _, err := sess.Step(ctx, StepInput{Point: pt(5, 5, 5), Score: 1}); err != nil {
		t.Fatalf("Step: %v", err)
	}

	if err := sess.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if sess.Index().Initialized() || sess.Index().CellCount() != 0 {
		t.Fatal("index not reset")
	}
	if sess.Window().Len() != 0 || sess.Cycles() != 0 {
		t.Fatal("window or cycle counter not reset")
	}
	initFixture(t, sess)
}

// #endregion request-tests
