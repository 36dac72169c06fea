// Package valuetable owns one quantization cell: its registered point and the
// per-(signature, horizon) score table kept in the store.
package valuetable

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/update"
)

// #region cell
// Cell is one region of state space. All score writes on a Cell are serialized by its
// mutex, so concurrent updates to the same row never lose each other.
type Cell struct {
	key   string
	point point.Point
	store store.Store

	mu      sync.Mutex
	now     func() time.Time
	banding update.RubberBanding
}

// Option configures a Cell.
type Option func(*Cell)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cell) { c.now = now }
}

// WithRubberBanding applies banding after every score update.
func WithRubberBanding(rb update.RubberBanding) Option {
	return func(c *Cell) { c.banding = rb }
}

// New binds a Cell to its point. Nothing is written until Initialize or Register.
func New(s store.Store, p point.Point, opts ...Option) *Cell {
	c := &Cell{key: p.Key(), point: p, store: s, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cell) Key() string        { return c.key }
func (c *Cell) Point() point.Point { return c.point }

// #endregion cell

// #region lifecycle
// Register records the point with its split offsets. ErrAlreadyExists if the key is taken.
func (c *Cell) Register(ctx context.Context) error {
	fa, fd := c.point.Offsets()
	now := c.now().UTC()
	err := c.store.InsertPoint(ctx, store.PointRecord{
		Key:              c.key,
		Coords:           c.point.Vector(),
		FirstActionIndex: fa,
		FirstDriveIndex:  fd,
		LastResetAt:      now,
		CreatedAt:        now,
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", c.key, err)
	}
	return nil
}

// Initialize registers the point and seeds one horizon-0 row per signature in the
// Cartesian product of the alphabet, each with score 0.
func (c *Cell) Initialize(ctx context.Context, alphabet point.Alphabet) error {
	if err := alphabet.Validate(); err != nil {
		return err
	}
	if err := c.Register(ctx); err != nil {
		return err
	}

	sigs := alphabet.Signatures()
	rows := make([]store.ActionRow, len(sigs))
	for i, sig := range sigs {
		rows[i] = store.ActionRow{Signature: sig, Horizon: 0}
	}
	if err := c.store.InsertRows(ctx, c.key, rows); err != nil {
		_ = c.store.DeletePoint(ctx, c.key)
		return fmt.Errorf("seed actions %s: %w", c.key, err)
	}
	return nil
}

// CloneInto copies every row of c into dst with update counts reset. dst must be
// registered and empty.
func (c *Cell) CloneInto(ctx context.Context, dst *Cell) error {
	c.mu.Lock()
	rows, err := c.store.Rows(ctx, c.key)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("clone %s: %w", c.key, err)
	}

	for i := range rows {
		rows[i].UpdateCount = 0
	}
	if err := c.store.InsertRows(ctx, dst.key, rows); err != nil {
		return fmt.Errorf("clone %s into %s: %w", c.key, dst.key, err)
	}
	return nil
}

// ResetAccessStats zeroes the cell update count and stamps lastResetAt.
func (c *Cell) ResetAccessStats(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.ResetAccessStats(ctx, c.key, c.now().UTC())
}

// #endregion lifecycle

// #region scoring
// BestNextAction returns the horizon-0 row with the lowest score. Scores are costs.
func (c *Cell) BestNextAction(ctx context.Context) (store.ActionRow, error) {
	row, ok, err := c.store.BestRow(ctx, c.key, 0)
	if err != nil {
		return store.ActionRow{}, err
	}
	if !ok {
		return store.ActionRow{}, fmt.Errorf("%w: %s has no actions", errs.ErrNoSuchCell, c.key)
	}
	return row, nil
}

// UpdateScores folds rewards[i] into the (signature, i) row and returns the lowest new
// score across horizons.
func (c *Cell) UpdateScores(ctx context.Context, signature string, rewards []float64) (float64, error) {
	if signature == "" || len(rewards) == 0 {
		return 0, fmt.Errorf("%w: update needs a signature and at least one reward", errs.ErrValidation)
	}
	for i, r := range rewards {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return 0, fmt.Errorf("%w: reward %d is not finite", errs.ErrValidation, i)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok, err := c.store.GetPoint(ctx, c.key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", errs.ErrNoSuchCell, c.key)
	}

	rows, err := c.store.Rows(ctx, c.key)
	if err != nil {
		return 0, err
	}
	existing := make(map[int]update.Row)
	for _, r := range rows {
		if r.Signature == signature {
			existing[r.Horizon] = update.Row{Horizon: r.Horizon, Score: r.Score, UpdateCount: r.UpdateCount}
		}
	}

	res := update.Apply(existing, rewards, rec.UpdateCount)
	out := make([]store.ActionRow, len(res.Rows))
	for i, r := range res.Rows {
		out[i] = store.ActionRow{Signature: signature, Horizon: r.Horizon, Score: r.Score, UpdateCount: r.UpdateCount}
	}
	if err := c.store.SaveScores(ctx, c.key, out, res.CellIncrement); err != nil {
		return 0, fmt.Errorf("save scores %s: %w", c.key, err)
	}

	if c.banding.Enabled {
		if _, err := c.bandLocked(ctx, c.banding); err != nil {
			return 0, err
		}
	}
	return res.BestScore, nil
}

// RubberBand pulls every score above rb.TargetScore toward it and returns the number of
// rows moved.
func (c *Cell) RubberBand(ctx context.Context, rb update.RubberBanding) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bandLocked(ctx, rb)
}

func (c *Cell) bandLocked(ctx context.Context, rb update.RubberBanding) (int, error) {
	rows, err := c.store.Rows(ctx, c.key)
	if err != nil {
		return 0, err
	}
	var moved []store.ActionRow
	for _, r := range rows {
		if s, changed := update.Band(r.Score, rb); changed {
			r.Score = s
			moved = append(moved, r)
		}
	}
	if len(moved) == 0 {
		return 0, nil
	}
	if err := c.store.SaveScores(ctx, c.key, moved, 0); err != nil {
		return 0, fmt.Errorf("rubber band %s: %w", c.key, err)
	}
	return len(moved), nil
}

// #endregion scoring

// #region structure
// AddActionSignature gives c a row for sig at every horizon copied from copyScoreFrom.
func (c *Cell) AddActionSignature(ctx context.Context, sig, copyScoreFrom string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.CopySignature(ctx, c.key, sig, copyScoreFrom)
}

// RemoveActionSignature drops every row for sig from c.
func (c *Cell) RemoveActionSignature(ctx context.Context, sig string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.RemoveSignature(ctx, c.key, sig)
}

// #endregion structure

// #region diagnostics
// Rows lists the whole action table ordered by signature then horizon.
func (c *Cell) Rows(ctx context.Context) ([]store.ActionRow, error) {
	return c.store.Rows(ctx, c.key)
}

// Stats returns the stored index entry.
func (c *Cell) Stats(ctx context.Context) (store.PointRecord, error) {
	rec, ok, err := c.store.GetPoint(ctx, c.key)
	if err != nil {
		return store.PointRecord{}, err
	}
	if !ok {
		return store.PointRecord{}, fmt.Errorf("%w: %s", errs.ErrNoSuchCell, c.key)
	}
	return rec, nil
}

// UpdatesPerMinute is the cell update count divided by minutes since the last reset.
// Elapsed time is floored at one second.
func (c *Cell) UpdatesPerMinute(ctx context.Context) (float64, error) {
	rec, err := c.Stats(ctx)
	if err != nil {
		return 0, err
	}
	elapsed := c.now().Sub(rec.LastResetAt)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	return float64(rec.UpdateCount) / elapsed.Minutes(), nil
}

// #endregion diagnostics
