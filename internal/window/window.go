package window

import (
	"fmt"
	"sort"
	"sync"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

// #region time-step
// TimeStep is one experience record: the action taken, the cell it was taken from, and
// the immediate score observed afterwards. Never mutated once appended.
type TimeStep struct {
	ActionKey string  `json:"actionKey"`
	StateKey  string  `json:"stateKey"`
	Score     float64 `json:"score"`
}

// #endregion time-step

// #region sliding-window
// SlidingWindow is a bounded FIFO of TimeSteps backed by a ring buffer. Index 0 is the
// oldest retained step.
type SlidingWindow struct {
	mu       sync.Mutex
	buf      []TimeStep
	start    int
	n        int
	horizons []int
}

// New builds a window of the given capacity. Horizons are sorted ascending; each must
// be at least 2 and no larger than the capacity.
func New(capacity int, horizons []int) (*SlidingWindow, error) {
	if capacity < 2 {
		return nil, fmt.Errorf("%w: window capacity must be >= 2, got %d", errs.ErrValidation, capacity)
	}
	if len(horizons) == 0 {
		return nil, fmt.Errorf("%w: at least one horizon is required", errs.ErrValidation)
	}
	hs := append([]int{}, horizons...)
	sort.Ints(hs)
	for i, h := range hs {
		if h < 2 || h > capacity {
			return nil, fmt.Errorf("%w: horizon %d outside [2, %d]", errs.ErrValidation, h, capacity)
		}
		if i > 0 && hs[i-1] == h {
			return nil, fmt.Errorf("%w: duplicate horizon %d", errs.ErrValidation, h)
		}
	}
	return &SlidingWindow{buf: make([]TimeStep, capacity), horizons: hs}, nil
}

// #endregion sliding-window

// #region mutation
// AddStep appends a step, evicting the oldest once capacity is exceeded.
func (w *SlidingWindow) AddStep(actionKey, stateKey string, score float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	step := TimeStep{ActionKey: actionKey, StateKey: stateKey, Score: score}
	if w.n < len(w.buf) {
		w.buf[(w.start+w.n)%len(w.buf)] = step
		w.n++
		return
	}
	w.buf[w.start] = step
	w.start = (w.start + 1) % len(w.buf)
}

// Flush empties the window. Capacity and horizons are kept.
func (w *SlidingWindow) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.start, w.n = 0, 0
}

// #endregion mutation

// #region queries
// IsMinimallyFull reports whether the smallest horizon can be aggregated.
func (w *SlidingWindow) IsMinimallyFull() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n >= w.horizons[0]
}

// AverageScore averages scores over [start, horizon) with a linear recency weight running
// from 1.5 on the first term down to 0.5 on the last.
func (w *SlidingWindow) AverageScore(horizon, start int) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.averageLocked(horizon, start)
}

func (w *SlidingWindow) averageLocked(horizon, start int) (float64, error) {
	if horizon > w.n {
		return 0, fmt.Errorf("%w: horizon %d exceeds window length %d", errs.ErrInsufficientHistory, horizon, w.n)
	}
	if start < 0 || start >= horizon {
		return 0, fmt.Errorf("%w: start %d must be in [0, %d)", errs.ErrValidation, start, horizon)
	}

	l := horizon - start
	if l == 1 {
		return w.at(start).Score, nil
	}
	var sum float64
	for idx := 0; idx < l; idx++ {
		weight := float64(l-1-idx)/float64(l-1) + 0.5
		sum += w.at(start+idx).Score * weight
	}
	return sum / float64(l), nil
}

// AllAverageScores returns AverageScore(h, 1) for every horizon that fits in the current
// window. Horizons are ascending, so the result only ever loses its tail.
func (w *SlidingWindow) AllAverageScores() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]float64, 0, len(w.horizons))
	for _, h := range w.horizons {
		if h > w.n {
			break
		}
		avg, err := w.averageLocked(h, 1)
		if err != nil {
			break
		}
		out = append(out, avg)
	}
	return out
}

// Head returns the oldest retained step.
func (w *SlidingWindow) Head() (TimeStep, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n < 1 {
		return TimeStep{}, fmt.Errorf("%w: window is empty", errs.ErrInsufficientHistory)
	}
	return w.at(0), nil
}

// SecondOldest returns the step after the head, whose action the head's outcome credits.
func (w *SlidingWindow) SecondOldest() (TimeStep, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.n < 2 {
		return TimeStep{}, fmt.Errorf("%w: window holds %d steps", errs.ErrInsufficientHistory, w.n)
	}
	return w.at(1), nil
}

// Credit returns the head, the second-oldest step and the aggregated scores under one
// lock, so a concurrent append cannot shift the window between the three reads.
func (w *SlidingWindow) Credit() (head, second TimeStep, scores []float64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.n < w.horizons[0] {
		return TimeStep{}, TimeStep{}, nil, fmt.Errorf("%w: window holds %d of %d steps", errs.ErrInsufficientHistory, w.n, w.horizons[0])
	}
	for _, h := range w.horizons {
		if h > w.n {
			break
		}
		avg, err := w.averageLocked(h, 1)
		if err != nil {
			return TimeStep{}, TimeStep{}, nil, err
		}
		scores = append(scores, avg)
	}
	return w.at(0), w.at(1), scores, nil
}

// Steps returns a snapshot, oldest first.
func (w *SlidingWindow) Steps() []TimeStep {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TimeStep, w.n)
	for i := range out {
		out[i] = w.at(i)
	}
	return out
}

func (w *SlidingWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

func (w *SlidingWindow) Capacity() int { return len(w.buf) }

func (w *SlidingWindow) Horizons() []int { return append([]int{}, w.horizons...) }

func (w *SlidingWindow) at(i int) TimeStep {
	return w.buf[(w.start+i)%len(w.buf)]
}

// #endregion queries
