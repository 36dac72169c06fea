package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/danielpatrickdp/ihtai/internal/errs"
)

type rowKey struct {
	signature string
	horizon   int
}

// MemoryStore keeps everything in process. Used by tests, replay and the "memory" backend.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	points      map[string]PointRecord
	rows        map[string]map[rowKey]ActionRow
	journal     []JournalEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.points = make(map[string]PointRecord)
	s.rows = make(map[string]map[rowKey]ActionRow)
	return nil
}

func (s *MemoryStore) ready() error {
	if !s.initialized {
		return fmt.Errorf("%w: memory store not initialized", errs.ErrStore)
	}
	return nil
}

func (s *MemoryStore) InsertPoint(_ context.Context, rec PointRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if _, ok := s.points[rec.Key]; ok {
		return fmt.Errorf("%w: point %s", errs.ErrAlreadyExists, rec.Key)
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastResetAt.IsZero() {
		rec.LastResetAt = now
	}
	rec.Coords = append([]float64{}, rec.Coords...)
	s.points[rec.Key] = rec
	return nil
}

func (s *MemoryStore) GetPoint(_ context.Context, key string) (PointRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return PointRecord{}, false, err
	}
	rec, ok := s.points[key]
	if !ok {
		return PointRecord{}, false, nil
	}
	rec.Coords = append([]float64{}, rec.Coords...)
	return rec, true, nil
}

func (s *MemoryStore) ListPoints(_ context.Context) ([]PointRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make([]PointRecord, 0, len(s.points))
	for _, rec := range s.points {
		rec.Coords = append([]float64{}, rec.Coords...)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) DeletePoint(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	delete(s.points, key)
	return nil
}

func (s *MemoryStore) ResetAccessStats(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	rec, ok := s.points[key]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrNoSuchCell, key)
	}
	rec.UpdateCount = 0
	rec.LastResetAt = at
	s.points[key] = rec
	return nil
}

func (s *MemoryStore) InsertRows(_ context.Context, cellKey string, rows []ActionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	table := s.rows[cellKey]
	for _, r := range rows {
		if _, ok := table[rowKey{r.Signature, r.Horizon}]; ok {
			return fmt.Errorf("%w: row %s/%s/%d", errs.ErrAlreadyExists, cellKey, r.Signature, r.Horizon)
		}
	}
	if table == nil {
		table = make(map[rowKey]ActionRow, len(rows))
		s.rows[cellKey] = table
	}
	for _, r := range rows {
		table[rowKey{r.Signature, r.Horizon}] = r
	}
	return nil
}

func (s *MemoryStore) Rows(_ context.Context, cellKey string) ([]ActionRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	table := s.rows[cellKey]
	out := make([]ActionRow, 0, len(table))
	for _, r := range table {
		out = append(out, r)
	}
	sortRows(out)
	return out, nil
}

func (s *MemoryStore) Row(_ context.Context, cellKey, signature string, horizon int) (ActionRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return ActionRow{}, false, err
	}
	r, ok := s.rows[cellKey][rowKey{signature, horizon}]
	return r, ok, nil
}

func (s *MemoryStore) BestRow(_ context.Context, cellKey string, horizon int) (ActionRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return ActionRow{}, false, err
	}
	var best ActionRow
	found := false
	for k, r := range s.rows[cellKey] {
		if k.horizon != horizon {
			continue
		}
		if !found || r.Score < best.Score || (r.Score == best.Score && r.Signature < best.Signature) {
			best = r
			found = true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) SaveScores(_ context.Context, cellKey string, rows []ActionRow, cellIncrement uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	rec, ok := s.points[cellKey]
	if !ok {
		return fmt.Errorf("%w: %s", errs.ErrNoSuchCell, cellKey)
	}
	table := s.rows[cellKey]
	if table == nil {
		table = make(map[rowKey]ActionRow, len(rows))
		s.rows[cellKey] = table
	}
	for _, r := range rows {
		table[rowKey{r.Signature, r.Horizon}] = r
	}
	rec.UpdateCount += cellIncrement
	s.points[cellKey] = rec
	return nil
}

func (s *MemoryStore) CopySignature(_ context.Context, cellKey, newSig, fromSig string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	var added int64
	for key, table := range s.rows {
		if cellKey != "" && key != cellKey {
			continue
		}
		var copies []ActionRow
		for k, r := range table {
			if k.signature != fromSig {
				continue
			}
			if _, exists := table[rowKey{newSig, k.horizon}]; exists {
				continue
			}
			copies = append(copies, ActionRow{Signature: newSig, Horizon: k.horizon, Score: r.Score})
		}
		for _, c := range copies {
			table[rowKey{c.Signature, c.Horizon}] = c
			added++
		}
	}
	return added, nil
}

func (s *MemoryStore) DeleteSignature(_ context.Context, signature, exceptCell string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	var removed int64
	for key, table := range s.rows {
		if key == exceptCell {
			continue
		}
		for k := range table {
			if k.signature == signature {
				delete(table, k)
				removed++
			}
		}
	}
	return removed, nil
}

func (s *MemoryStore) RemoveSignature(_ context.Context, cellKey, signature string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return 0, err
	}
	var removed int64
	table := s.rows[cellKey]
	for k := range table {
		if k.signature == signature {
			delete(table, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) DropRows(_ context.Context, cellKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	delete(s.rows, cellKey)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.points = make(map[string]PointRecord)
	s.rows = make(map[string]map[rowKey]ActionRow)
	s.journal = nil
	return nil
}

func (s *MemoryStore) AppendJournal(_ context.Context, entry JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	s.journal = append(s.journal, entry)
	return nil
}

func (s *MemoryStore) ListJournal(_ context.Context, limit int) ([]JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	n := len(s.journal)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]JournalEntry, 0, n)
	for i := len(s.journal) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.journal[i])
	}
	return out, nil
}

func sortRows(rows []ActionRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Signature != rows[j].Signature {
			return rows[i].Signature < rows[j].Signature
		}
		return rows[i].Horizon < rows[j].Horizon
	})
}
