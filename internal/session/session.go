// Package session runs the decision/update cycle for one learning agent: it owns the
// quantizer index and the sliding window of recent experience.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/quantizer"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/window"
)

// #region session
// Session couples an index with the window of time steps that feeds it rewards.
type Session struct {
	id     string
	index  *quantizer.Index
	window *window.SlidingWindow
	logger *slog.Logger

	// cycle serializes Step and UpdateScore so credit is assigned once per append.
	cycle  sync.Mutex
	cycles atomic.Uint64
}

// New wraps an index and a window. A nil logger uses slog.Default.
func New(ix *quantizer.Index, w *window.SlidingWindow, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:     id,
		index:  ix,
		window: w,
		logger: logger.With("session", id),
	}
}

func (s *Session) ID() string                    { return s.id }
func (s *Session) Index() *quantizer.Index       { return s.index }
func (s *Session) Window() *window.SlidingWindow { return s.window }
func (s *Session) Cycles() uint64                { return s.cycles.Load() }

// #endregion session

// #region lifecycle
// Initialize seeds the index with points and fixes the action alphabet.
func (s *Session) Initialize(ctx context.Context, points []point.Point, alphabet point.Alphabet) ([]bool, error) {
	return s.index.Initialize(ctx, points, alphabet)
}

// InitializeFromStore restores every persisted cell.
func (s *Session) InitializeFromStore(ctx context.Context, alphabet point.Alphabet) (int, error) {
	return s.index.InitializeFromStore(ctx, alphabet)
}

// Clear wipes every cell and the window, returning to the uninitialized state.
func (s *Session) Clear(ctx context.Context) error {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	if err := s.index.Reset(ctx); err != nil {
		return err
	}
	s.window.Flush()
	s.cycles.Store(0)
	s.logger.Info("session cleared")
	return nil
}

// #endregion lifecycle

// #region step
// Step runs one full interaction: nearest lookup, window append, reward credit when the
// window is minimally full, an optional split of the nearest cell toward the reported
// point, and the best next action of the resulting cell.
func (s *Session) Step(ctx context.Context, in StepInput) (StepResult, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	var res StepResult
	nearest, err := s.index.NearestCell(ctx, in.Point)
	if err != nil {
		return res, fmt.Errorf("nearest cell: %w", err)
	}
	res.NearestKey = nearest
	res.CellKey = nearest
	res.Cycle = s.cycles.Add(1)

	action := in.ActionTaken
	if action == "" {
		action = in.Point.ActionKey()
	}
	s.window.AddStep(action, nearest, in.Score)

	if s.window.IsMinimallyFull() {
		credit, err := s.creditLocked(ctx)
		switch {
		case err == nil:
			res.Credit = &credit
		case errors.Is(err, errs.ErrNoSuchCell):
			// the head's cell was deleted; its steps age out of the window
			s.logger.Warn("credit skipped", "error", err)
		default:
			return res, err
		}
	}

	if split := s.maybeSplit(ctx, nearest, in.Point); split != nil {
		res.Split = split
		if split.Error == "" {
			res.CellKey = split.New
		}
	}

	best, err := s.index.BestNextAction(ctx, res.CellKey)
	if err != nil {
		return res, fmt.Errorf("best next action: %w", err)
	}
	res.Action = best
	return res, nil
}

// maybeSplit asks the split policy about the nearest cell. Split failures are reported
// in the outcome rather than failing the cycle.
func (s *Session) maybeSplit(ctx context.Context, nearest string, p point.Point) *SplitOutcome {
	target := p.Key()
	if target == nearest {
		return nil
	}
	ok, rate, err := s.index.ShouldSplit(ctx, nearest)
	if err != nil {
		s.logger.Warn("split policy check failed", "cell", nearest, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	out := &SplitOutcome{Original: nearest, New: target, UpdatesPerMinute: rate}
	if _, err := s.index.Split(ctx, nearest, p); err != nil {
		// a concurrent request may already have created the target
		if errors.Is(err, errs.ErrAlreadyExists) {
			if _, exists := s.index.Cell(target); exists {
				return out
			}
		}
		s.logger.Warn("split failed", "original", nearest, "target", target, "error", err)
		out.Error = err.Error()
	}
	return out
}

// #endregion step

// #region requests
// Nearest returns the key of the cell closest to p.
func (s *Session) Nearest(ctx context.Context, p point.Point) (string, error) {
	return s.index.NearestCell(ctx, p)
}

// AddTimeStep appends a step and returns the window length afterwards.
func (s *Session) AddTimeStep(actionKey, stateKey string, score float64) int {
	s.window.AddStep(actionKey, point.NormalizeKey(stateKey), score)
	return s.window.Len()
}

// UpdateScore credits the aggregated window scores to the head's cell under the action
// of the second-oldest step.
func (s *Session) UpdateScore(ctx context.Context) (Credit, error) {
	s.cycle.Lock()
	defer s.cycle.Unlock()

	s.cycles.Add(1)
	return s.creditLocked(ctx)
}

func (s *Session) creditLocked(ctx context.Context) (Credit, error) {
	if !s.index.Initialized() {
		return Credit{}, errs.ErrNotInitialized
	}
	head, second, rewards, err := s.window.Credit()
	if err != nil {
		return Credit{}, err
	}
	key := point.NormalizeKey(head.StateKey)
	best, err := s.index.UpdateScores(ctx, key, second.ActionKey, rewards)
	if err != nil {
		return Credit{}, fmt.Errorf("update %s: %w", key, err)
	}
	s.logger.Debug("scores updated", "cell", key, "action", second.ActionKey, "best", best)
	return Credit{CellKey: key, ActionKey: second.ActionKey, Rewards: rewards, BestScore: best}, nil
}

// BestNextAction returns the lowest-cost action of the named cell.
func (s *Session) BestNextAction(ctx context.Context, key string) (store.ActionRow, error) {
	return s.index.BestNextAction(ctx, point.NormalizeKey(key))
}

// Split carves a new cell at p out of the named cell.
func (s *Session) Split(ctx context.Context, originalKey string, p point.Point) (string, error) {
	cell, err := s.index.Split(ctx, point.NormalizeKey(originalKey), p)
	if err != nil {
		return "", err
	}
	return cell.Key(), nil
}

func (s *Session) DeleteCell(ctx context.Context, key string) error {
	return s.index.DeleteCell(ctx, point.NormalizeKey(key))
}

// AccessRate is the named cell's updates per minute since its last reset.
func (s *Session) AccessRate(ctx context.Context, key string) (float64, error) {
	return s.index.AccessRate(ctx, point.NormalizeKey(key))
}

// #endregion requests

// #region diagnostics
// Cells lists every cell with its access statistics, ordered by key.
func (s *Session) Cells(ctx context.Context) ([]CellSummary, error) {
	keys := s.index.Keys()
	out := make([]CellSummary, 0, len(keys))
	for _, k := range keys {
		cell, ok := s.index.Cell(k)
		if !ok {
			continue // deleted since Keys
		}
		rec, err := cell.Stats(ctx)
		if errors.Is(err, errs.ErrNoSuchCell) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rate, err := cell.UpdatesPerMinute(ctx)
		if err != nil && !errors.Is(err, errs.ErrNoSuchCell) {
			return nil, err
		}
		out = append(out, CellSummary{
			Key:              k,
			Point:            cell.Point(),
			UpdateCount:      rec.UpdateCount,
			UpdatesPerMinute: rate,
			LastResetAt:      rec.LastResetAt,
			CreatedAt:        rec.CreatedAt,
		})
	}
	return out, nil
}

// Actions lists the named cell's full action table.
func (s *Session) Actions(ctx context.Context, key string) ([]store.ActionRow, error) {
	cell, ok := s.index.Cell(point.NormalizeKey(key))
	if !ok {
		return nil, fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
	}
	return cell.Rows(ctx)
}

// Journal lists recent structural changes, newest first.
func (s *Session) Journal(ctx context.Context, limit int) ([]store.JournalEntry, error) {
	return s.index.Journal(ctx, limit)
}

// #endregion diagnostics
