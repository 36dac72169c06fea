package store

import (
	"context"
	"time"
)

// Store is the persistence contract consumed by cells and the index. Action rows live in a
// single logical table keyed by (cell key, signature, horizon).
type Store interface {
	Init(ctx context.Context) error

	InsertPoint(ctx context.Context, rec PointRecord) error
	GetPoint(ctx context.Context, key string) (PointRecord, bool, error)
	ListPoints(ctx context.Context) ([]PointRecord, error)
	DeletePoint(ctx context.Context, key string) error
	ResetAccessStats(ctx context.Context, key string, at time.Time) error

	InsertRows(ctx context.Context, cellKey string, rows []ActionRow) error
	Rows(ctx context.Context, cellKey string) ([]ActionRow, error)
	Row(ctx context.Context, cellKey, signature string, horizon int) (ActionRow, bool, error)
	BestRow(ctx context.Context, cellKey string, horizon int) (ActionRow, bool, error)
	// SaveScores upserts rows and adds cellIncrement to the cell's update count atomically.
	SaveScores(ctx context.Context, cellKey string, rows []ActionRow, cellIncrement uint64) error
	// CopySignature adds newSig rows to cellKey (or every cell when cellKey is empty), each
	// copied from the same cell's fromSig row at the same horizon. Existing rows are kept.
	CopySignature(ctx context.Context, cellKey, newSig, fromSig string) (int64, error)
	// DeleteSignature removes signature rows from every cell except exceptCell.
	DeleteSignature(ctx context.Context, signature, exceptCell string) (int64, error)
	// RemoveSignature removes signature rows from cellKey alone.
	RemoveSignature(ctx context.Context, cellKey, signature string) (int64, error)
	DropRows(ctx context.Context, cellKey string) error

	Clear(ctx context.Context) error

	AppendJournal(ctx context.Context, entry JournalEntry) error
	ListJournal(ctx context.Context, limit int) ([]JournalEntry, error)
}
