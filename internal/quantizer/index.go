// Package quantizer owns the set of cells that partition state space: nearest-cell
// lookup, cell creation and deletion, and the split that refines the partition.
package quantizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/danielpatrickdp/ihtai/internal/cache"
	"github.com/danielpatrickdp/ihtai/internal/errs"
	"github.com/danielpatrickdp/ihtai/internal/logging"
	"github.com/danielpatrickdp/ihtai/internal/metrics"
	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/store"
	"github.com/danielpatrickdp/ihtai/internal/update"
	"github.com/danielpatrickdp/ihtai/internal/valuetable"
)

// DefaultMaxCells caps how many cells splits may create.
const DefaultMaxCells = 4000

// #region options
// Options configures an Index. Zero values pick the defaults.
type Options struct {
	Cache         cache.Cache
	Logger        *slog.Logger
	MaxCells      int
	SplitPolicy   *SplitPolicy
	RubberBanding update.RubberBanding
	Clock         func() time.Time
}

// #endregion options

// #region index
// Index maps canonical keys to cells. Structural changes hold mu for writing; lookups
// and score updates hold it for reading.
type Index struct {
	mu          sync.RWMutex
	store       store.Store
	cache       cache.Cache
	journal     *logging.Journal
	logger      *slog.Logger
	policy      *SplitPolicy
	maxCells    int
	cellOpts    []valuetable.Option
	cells       map[string]*valuetable.Cell
	alphabet    point.Alphabet
	shape       point.Shape
	hasShape    bool
	initialized bool

	// generation qualifies cache keys so answers from before a mutation are unreachable.
	generation atomic.Uint64
	lookups    singleflight.Group
}

func New(s store.Store, opts Options) *Index {
	ix := &Index{
		store:    s,
		cache:    opts.Cache,
		journal:  logging.NewJournal(s),
		logger:   opts.Logger,
		policy:   opts.SplitPolicy,
		maxCells: opts.MaxCells,
		cells:    make(map[string]*valuetable.Cell),
	}
	if ix.cache == nil {
		ix.cache = cache.None{}
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	if ix.maxCells == 0 {
		ix.maxCells = DefaultMaxCells
	}
	if opts.Clock != nil {
		ix.cellOpts = append(ix.cellOpts, valuetable.WithClock(opts.Clock))
	}
	if opts.RubberBanding.Enabled {
		ix.cellOpts = append(ix.cellOpts, valuetable.WithRubberBanding(opts.RubberBanding))
	}
	return ix
}

// #endregion index

// #region initialize
// Initialize creates one cell per point and fixes the action alphabet. The result holds
// true for every point that created a new cell. A second call returns
// ErrAlreadyInitialized and changes nothing.
func (ix *Index) Initialize(ctx context.Context, points []point.Point, alphabet point.Alphabet) ([]bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.initialized {
		return nil, errs.ErrAlreadyInitialized
	}
	if err := alphabet.Validate(); err != nil {
		return nil, err
	}
	for i, p := range points {
		if err := ix.checkShapeFor(p, alphabet); err != nil {
			return nil, err
		}
		if i > 0 && p.Dimensions() != points[0].Dimensions() {
			return nil, fmt.Errorf("%w: point %s does not match the shape of %s",
				errs.ErrValidation, p.Key(), points[0].Key())
		}
	}

	created := make([]bool, len(points))
	for i, p := range points {
		key := p.Key()
		if _, ok := ix.cells[key]; ok {
			continue
		}
		cell := valuetable.New(ix.store, p, ix.cellOpts...)
		err := cell.Initialize(ctx, alphabet)
		switch {
		case err == nil:
			created[i] = true
		case errors.Is(err, errs.ErrAlreadyExists):
			// already persisted by an earlier run; adopt it
		default:
			ix.rollbackCells(ctx, points[:i], created)
			return nil, fmt.Errorf("initialize %s: %w", key, err)
		}
		ix.cells[key] = cell
		ix.adoptShape(p)
	}

	ix.alphabet = alphabet
	ix.initialized = true
	ix.invalidateLocked(ctx)

	n := 0
	for _, c := range created {
		if c {
			n++
		}
	}
	ix.record(ctx, logging.KindInitialize, "", logging.InitializeDetail{
		Source: "points", Cells: len(ix.cells), Created: n, Signatures: len(alphabet.Signatures()),
	})
	metrics.RecordStructural(logging.KindInitialize, nil)
	ix.logger.Info("index initialized", "cells", len(ix.cells), "created", n)
	return created, nil
}

// InitializeFromStore rebuilds every cell from the stored coordinates and split offsets.
func (ix *Index) InitializeFromStore(ctx context.Context, alphabet point.Alphabet) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.initialized {
		return 0, errs.ErrAlreadyInitialized
	}
	if err := alphabet.Validate(); err != nil {
		return 0, err
	}
	recs, err := ix.store.ListPoints(ctx)
	if err != nil {
		return 0, fmt.Errorf("load points: %w", err)
	}

	restored := false
	defer func() {
		if !restored {
			ix.hasShape = false
		}
	}()

	cells := make(map[string]*valuetable.Cell, len(recs))
	for _, rec := range recs {
		p, err := point.FromVector(rec.Coords, rec.FirstActionIndex, rec.FirstDriveIndex)
		if err != nil {
			return 0, fmt.Errorf("rebuild %s: %w", rec.Key, err)
		}
		if p.Key() != rec.Key {
			return 0, fmt.Errorf("%w: stored key %s does not match coordinates %s", errs.ErrStore, rec.Key, p.Key())
		}
		if err := ix.checkShapeFor(p, alphabet); err != nil {
			return 0, err
		}
		cells[rec.Key] = valuetable.New(ix.store, p, ix.cellOpts...)
		ix.adoptShape(p)
	}

	restored = len(cells) > 0
	ix.cells = cells
	ix.alphabet = alphabet
	ix.initialized = true
	ix.invalidateLocked(ctx)

	ix.record(ctx, logging.KindInitialize, "", logging.InitializeDetail{
		Source: "store", Cells: len(cells), Signatures: len(alphabet.Signatures()),
	})
	metrics.RecordStructural(logging.KindInitialize, nil)
	ix.logger.Info("index restored from store", "cells", len(cells))
	return len(cells), nil
}

func (ix *Index) rollbackCells(ctx context.Context, points []point.Point, created []bool) {
	for i, p := range points {
		if !created[i] {
			continue
		}
		key := p.Key()
		_ = ix.store.DropRows(ctx, key)
		_ = ix.store.DeletePoint(ctx, key)
	}
	ix.cells = make(map[string]*valuetable.Cell)
	ix.hasShape = false
}

// #endregion initialize

// #region add-cell
// AddCell creates a cell for p seeded from the alphabet. It returns false when p is
// already a cell.
func (ix *Index) AddCell(ctx context.Context, p point.Point) (bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if !ix.initialized {
		return false, errs.ErrNotInitialized
	}
	if err := ix.checkShapeFor(p, ix.alphabet); err != nil {
		return false, err
	}
	key := p.Key()
	if _, ok := ix.cells[key]; ok {
		return false, nil
	}

	cell := valuetable.New(ix.store, p, ix.cellOpts...)
	err := cell.Initialize(ctx, ix.alphabet)
	metrics.RecordStructural(logging.KindAdd, err)
	if err != nil {
		return false, err
	}
	ix.cells[key] = cell
	ix.adoptShape(p)
	ix.invalidateLocked(ctx)
	ix.record(ctx, logging.KindAdd, key, nil)
	return true, nil
}

// #endregion add-cell

// #region nearest
// NearestCell returns the key of the cell closest to p by summed squared difference,
// breaking ties by key. Answers are cached per index generation.
func (ix *Index) NearestCell(ctx context.Context, p point.Point) (string, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if !ix.initialized {
		return "", errs.ErrNotInitialized
	}
	if len(ix.cells) == 0 {
		return "", fmt.Errorf("%w: index has no cells", errs.ErrNoSuchCell)
	}
	if ix.hasShape {
		if err := ix.shape.Check(p); err != nil {
			return "", err
		}
	}

	cacheKey := fmt.Sprintf("%d:%s", ix.generation.Load(), p.Key())
	if key, ok, err := ix.cache.Get(ctx, cacheKey); err != nil {
		metrics.RecordCacheError("get")
		ix.logger.Warn("nearest cache get failed", "key", cacheKey, "error", err)
	} else if ok {
		if _, exists := ix.cells[key]; exists {
			metrics.RecordNearest("hit")
			return key, nil
		}
	}

	v, err, _ := ix.lookups.Do(cacheKey, func() (interface{}, error) {
		start := time.Now()
		key := ix.scanLocked(p.Vector())
		metrics.ObserveNearestScan(time.Since(start))
		if err := ix.cache.Set(ctx, cacheKey, key); err != nil {
			metrics.RecordCacheError("set")
			ix.logger.Warn("nearest cache set failed", "key", cacheKey, "error", err)
		}
		return key, nil
	})
	if err != nil {
		return "", err
	}
	metrics.RecordNearest("miss")
	return v.(string), nil
}

func (ix *Index) scanLocked(q []float64) string {
	best := ""
	bestDist := math.Inf(1)
	for key, cell := range ix.cells {
		d := point.SquaredDistance(q, cell.Point().Vector())
		if d < bestDist || (d == bestDist && key < best) {
			best, bestDist = key, d
		}
	}
	return best
}

// #endregion nearest

// #region split
// Split carves a new cell at newPoint out of the cell named by originalKey. The new cell
// starts with a copy of the original's table. When the original has no row for the new
// cell's action signature, every cell gains one copied from its own row for the
// original's action signature. On store failure every partial write is undone.
func (ix *Index) Split(ctx context.Context, originalKey string, newPoint point.Point) (*valuetable.Cell, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cell, detail, err := ix.splitLocked(ctx, originalKey, newPoint)
	metrics.RecordStructural(logging.KindSplit, err)
	if err != nil {
		return nil, err
	}
	ix.record(ctx, logging.KindSplit, cell.Key(), detail)
	ix.logger.Info("cell split", "original", originalKey, "new", cell.Key(), "signature_added", detail.SignatureAdded)
	return cell, nil
}

func (ix *Index) splitLocked(ctx context.Context, originalKey string, newPoint point.Point) (*valuetable.Cell, logging.SplitDetail, error) {
	var detail logging.SplitDetail
	if !ix.initialized {
		return nil, detail, errs.ErrNotInitialized
	}
	if err := ix.checkShapeFor(newPoint, ix.alphabet); err != nil {
		return nil, detail, err
	}
	orig, ok := ix.cells[originalKey]
	if !ok {
		return nil, detail, fmt.Errorf("%w: %s", errs.ErrNoSuchCell, originalKey)
	}
	newKey := newPoint.Key()
	if _, exists := ix.cells[newKey]; exists {
		return nil, detail, fmt.Errorf("%w: split target %s", errs.ErrAlreadyExists, newKey)
	}
	if ix.maxCells > 0 && len(ix.cells) >= ix.maxCells {
		return nil, detail, fmt.Errorf("%w: %d cells", errs.ErrCapacity, len(ix.cells))
	}

	fresh := valuetable.New(ix.store, newPoint, ix.cellOpts...)
	if err := fresh.Register(ctx); err != nil {
		return nil, detail, err
	}
	if err := orig.CloneInto(ctx, fresh); err != nil {
		ix.undoSplit(ctx, newKey, "")
		return nil, detail, err
	}

	newSig := newPoint.ActionKey()
	fromSig := orig.Point().ActionKey()
	detail = logging.SplitDetail{Original: originalKey, New: newKey, NewSignature: newSig}

	_, has, err := ix.store.Row(ctx, originalKey, newSig, 0)
	if err != nil {
		ix.undoSplit(ctx, newKey, "")
		return nil, detail, err
	}
	if !has {
		n, err := ix.store.CopySignature(ctx, "", newSig, fromSig)
		if err != nil {
			ix.undoSplit(ctx, newKey, newSig)
			return nil, detail, fmt.Errorf("add signature %s to all cells: %w", newSig, err)
		}
		if n > 0 {
			detail.CopiedFrom = fromSig
		}
		seeded, err := ix.seedSignatureLocked(ctx, newSig, newKey)
		if err != nil {
			ix.undoSplit(ctx, newKey, newSig)
			return nil, detail, fmt.Errorf("seed signature %s: %w", newSig, err)
		}
		detail.RowsAdded = n + seeded
		detail.SignatureAdded = detail.RowsAdded > 0
	}

	if err := orig.ResetAccessStats(ctx); err != nil {
		sig := ""
		if detail.SignatureAdded {
			sig = newSig
		}
		ix.undoSplit(ctx, newKey, sig)
		return nil, detail, fmt.Errorf("reset %s: %w", originalKey, err)
	}

	ix.cells[newKey] = fresh
	ix.invalidateLocked(ctx)
	detail.CellsAfterSplit = len(ix.cells)
	return fresh, detail, nil
}

// seedSignatureLocked gives every registered cell, plus newKey, a horizon-0 row for sig
// where the copy left none, at the same zero score Initialize uses.
func (ix *Index) seedSignatureLocked(ctx context.Context, sig, newKey string) (int64, error) {
	keys := make([]string, 0, len(ix.cells)+1)
	for key := range ix.cells {
		keys = append(keys, key)
	}
	keys = append(keys, newKey)

	var added int64
	for _, key := range keys {
		_, ok, err := ix.store.Row(ctx, key, sig, 0)
		if err != nil {
			return added, err
		}
		if ok {
			continue
		}
		if err := ix.store.InsertRows(ctx, key, []store.ActionRow{{Signature: sig, Horizon: 0}}); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// undoSplit removes a partially created cell. A non-empty signature is also stripped
// from every cell, since the fan-out may have reached some of them.
func (ix *Index) undoSplit(ctx context.Context, newKey, signature string) {
	if signature != "" {
		if _, err := ix.store.DeleteSignature(ctx, signature, ""); err != nil {
			ix.logger.Error("split rollback: delete signature", "signature", signature, "error", err)
		}
	}
	if err := ix.store.DropRows(ctx, newKey); err != nil {
		ix.logger.Error("split rollback: drop rows", "cell", newKey, "error", err)
	}
	if err := ix.store.DeletePoint(ctx, newKey); err != nil {
		ix.logger.Error("split rollback: delete point", "cell", newKey, "error", err)
	}
}

// ShouldSplit reports whether the policy wants key split now, with its access rate.
func (ix *Index) ShouldSplit(ctx context.Context, key string) (bool, float64, error) {
	r, err := ix.AccessRate(ctx, key)
	if err != nil {
		return false, 0, err
	}
	ix.mu.RLock()
	full := ix.maxCells > 0 && len(ix.cells) >= ix.maxCells
	ix.mu.RUnlock()
	if full {
		return false, r, nil
	}
	return ix.policy.Allow(r), r, nil
}

// #endregion split

// #region delete
// DeleteCell removes the cell, its table, and its action signature from every other cell.
func (ix *Index) DeleteCell(ctx context.Context, key string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cell, ok := ix.cells[key]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
	}
	sig := cell.Point().ActionKey()

	removed, err := ix.store.DeleteSignature(ctx, sig, key)
	if err == nil {
		err = ix.store.DropRows(ctx, key)
	}
	if err == nil {
		err = ix.store.DeletePoint(ctx, key)
	}
	metrics.RecordStructural(logging.KindDelete, err)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}

	delete(ix.cells, key)
	if len(ix.cells) == 0 {
		ix.hasShape = false
	}
	ix.invalidateLocked(ctx)
	ix.record(ctx, logging.KindDelete, key, logging.DeleteDetail{Signature: sig, RowsRemoved: removed})
	return nil
}

// #endregion delete

// #region reset
// Reset clears every cell, table and journal entry and returns the index to its
// uninitialized state.
func (ix *Index) Reset(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	err := ix.store.Clear(ctx)
	metrics.RecordStructural(logging.KindClear, err)
	if err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	ix.cells = make(map[string]*valuetable.Cell)
	ix.alphabet = nil
	ix.hasShape = false
	ix.initialized = false
	ix.invalidateLocked(ctx)
	ix.record(ctx, logging.KindClear, "", nil)
	ix.logger.Info("index reset")
	return nil
}

// #endregion reset

// #region cell-access
// UpdateScores forwards to the named cell while holding off structural changes.
func (ix *Index) UpdateScores(ctx context.Context, key, signature string, rewards []float64) (float64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	cell, ok := ix.cells[key]
	if !ok {
		err := fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
		metrics.RecordScoreUpdate(err)
		return 0, err
	}
	best, err := cell.UpdateScores(ctx, signature, rewards)
	metrics.RecordScoreUpdate(err)
	return best, err
}

// BestNextAction returns the lowest-cost horizon-0 row of the named cell.
func (ix *Index) BestNextAction(ctx context.Context, key string) (store.ActionRow, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	cell, ok := ix.cells[key]
	if !ok {
		return store.ActionRow{}, fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
	}
	return cell.BestNextAction(ctx)
}

// AccessRate is the named cell's updates per minute since its last reset.
func (ix *Index) AccessRate(ctx context.Context, key string) (float64, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	cell, ok := ix.cells[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
	}
	return cell.UpdatesPerMinute(ctx)
}

func (ix *Index) Cell(key string) (*valuetable.Cell, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.cells[key]
	return c, ok
}

func (ix *Index) CellCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.cells)
}

// Keys lists every cell key in ascending order.
func (ix *Index) Keys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	keys := make([]string, 0, len(ix.cells))
	for k := range ix.cells {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (ix *Index) Initialized() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.initialized
}

// Alphabet returns the action alphabet fixed at initialization.
func (ix *Index) Alphabet() point.Alphabet {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.alphabet
}

// Journal lists recent structural events, newest first.
func (ix *Index) Journal(ctx context.Context, limit int) ([]store.JournalEntry, error) {
	return ix.journal.Recent(ctx, limit)
}

// #endregion cell-access

// #region helpers
func (ix *Index) checkShapeFor(p point.Point, alphabet point.Alphabet) error {
	if len(p.Action) != alphabet.Width() {
		return fmt.Errorf("%w: point %s has %d action dimensions, alphabet has %d",
			errs.ErrValidation, p.Key(), len(p.Action), alphabet.Width())
	}
	if ix.hasShape {
		return ix.shape.Check(p)
	}
	return nil
}

func (ix *Index) adoptShape(p point.Point) {
	if !ix.hasShape {
		ix.shape = p.Dimensions()
		ix.hasShape = true
	}
}

// invalidateLocked must run under the write lock.
func (ix *Index) invalidateLocked(ctx context.Context) {
	ix.generation.Add(1)
	if err := ix.cache.Flush(ctx); err != nil {
		metrics.RecordCacheError("flush")
		ix.logger.Warn("nearest cache flush failed", "error", err)
	}
	metrics.SetCells(len(ix.cells))
}

func (ix *Index) record(ctx context.Context, kind, key string, detail interface{}) {
	if _, err := ix.journal.Record(ctx, kind, key, detail); err != nil {
		ix.logger.Warn("journal write failed", "kind", kind, "cell", key, "error", err)
	}
}

// #endregion helpers
