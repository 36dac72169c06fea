package window

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

func newWindow(t *testing.T, capacity int, horizons ...int) *SlidingWindow {
	t.Helper()
	w, err := New(capacity, horizons)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestEviction(t *testing.T) {
	w := newWindow(t, 5, 2)
	for i := 0; i < 6; i++ {
		w.AddStep("a"+strconv.Itoa(i), "s"+strconv.Itoa(i), float64(i))
	}

	steps := w.Steps()
	if len(steps) != 5 {
		t.Fatalf("expected 5 steps, got %d", len(steps))
	}
	for i, st := range steps {
		if st.Score != float64(i+1) {
			t.Fatalf("position %d: expected score %d, got %f", i, i+1, st.Score)
		}
	}
	head, _ := w.Head()
	if head.ActionKey != "a1" {
		t.Fatalf("expected a1 at head, got %s", head.ActionKey)
	}
	second, _ := w.SecondOldest()
	if second.StateKey != "s2" {
		t.Fatalf("expected s2 second, got %s", second.StateKey)
	}
}

func TestEvictionWrapsRepeatedly(t *testing.T) {
	w := newWindow(t, 3, 2)
	for i := 0; i < 10; i++ {
		w.AddStep("a", "s", float64(i))
	}
	steps := w.Steps()
	for i, want := range []float64{7, 8, 9} {
		if steps[i].Score != want {
			t.Fatalf("position %d: expected %f, got %f", i, want, steps[i].Score)
		}
	}
}

func TestIsMinimallyFull(t *testing.T) {
	w := newWindow(t, 10, 6, 3)
	if got := w.Horizons(); got[0] != 3 || got[1] != 6 {
		t.Fatalf("horizons not sorted: %v", got)
	}
	w.AddStep("a", "s", 1)
	w.AddStep("a", "s", 1)
	if w.IsMinimallyFull() {
		t.Fatal("2 steps should not satisfy horizon 3")
	}
	w.AddStep("a", "s", 1)
	if !w.IsMinimallyFull() {
		t.Fatal("3 steps should satisfy horizon 3")
	}
}

func TestAverageScoreWeights(t *testing.T) {
	w := newWindow(t, 10, 4)
	for _, s := range []float64{100, 1, 2, 3} {
		w.AddStep("a", "s", s)
	}

	// slice [1,4) = {1,2,3}, L=3, weights 1.5, 1.0, 0.5
	want := (1*1.5 + 2*1.0 + 3*0.5) / 3
	got, err := w.AverageScore(4, 1)
	if err != nil {
		t.Fatalf("AverageScore: %v", err)
	}
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("expected %f, got %f", want, got)
	}

	single, err := w.AverageScore(2, 1)
	if err != nil || single != 1 {
		t.Fatalf("single-term slice should carry weight 1, got %f err=%v", single, err)
	}
}

func TestAverageScoreErrors(t *testing.T) {
	w := newWindow(t, 10, 2)
	w.AddStep("a", "s", 1)
	w.AddStep("a", "s", 1)

	if _, err := w.AverageScore(3, 1); !errors.Is(err, errs.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	if _, err := w.AverageScore(2, 2); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAllAverageScoresShrinks(t *testing.T) {
	w := newWindow(t, 10, 2, 3, 8)
	for _, s := range []float64{0, 4, 6} {
		w.AddStep("a", "s", s)
	}
	scores := w.AllAverageScores()
	if len(scores) != 2 {
		t.Fatalf("expected 2 horizons to fit, got %d", len(scores))
	}
	if scores[0] != 4 {
		t.Fatalf("horizon 2: expected 4, got %f", scores[0])
	}
	// {4,6}, weights 1.5, 0.5
	if want := (4*1.5 + 6*0.5) / 2; scores[1] != want {
		t.Fatalf("horizon 3: expected %f, got %f", want, scores[1])
	}
}

func TestCredit(t *testing.T) {
	w := newWindow(t, 10, 2)
	if _, _, _, err := w.Credit(); !errors.Is(err, errs.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
	w.AddStep("a0", "s0", 9)
	w.AddStep("a1", "s1", 2)

	head, second, scores, err := w.Credit()
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if head.StateKey != "s0" || second.ActionKey != "a1" || len(scores) != 1 || scores[0] != 2 {
		t.Fatalf("unexpected credit: head=%+v second=%+v scores=%v", head, second, scores)
	}
}

func TestFlushKeepsConfig(t *testing.T) {
	w := newWindow(t, 4, 2)
	w.AddStep("a", "s", 1)
	w.AddStep("a", "s", 1)
	w.Flush()
	if w.Len() != 0 {
		t.Fatalf("expected empty window, got %d", w.Len())
	}
	if _, err := w.Head(); !errors.Is(err, errs.ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory on empty head, got %v", err)
	}
	if w.Capacity() != 4 || len(w.Horizons()) != 1 {
		t.Fatal("flush must keep capacity and horizons")
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		capacity int
		horizons []int
	}{
		{1, []int{2}},
		{5, nil},
		{5, []int{1}},
		{5, []int{6}},
		{5, []int{3, 3}},
	}
	for _, c := range cases {
		if _, err := New(c.capacity, c.horizons); !errors.Is(err, errs.ErrValidation) {
			t.Fatalf("New(%d, %v): expected ErrValidation, got %v", c.capacity, c.horizons, err)
		}
	}
}
