package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/ihtai/internal/store"
)

// #region journal
// Journal writes structural index events to the store with a fresh event ID each.
type Journal struct {
	store store.Store
	now   func() time.Time
}

func NewJournal(s store.Store) *Journal {
	return &Journal{store: s, now: time.Now}
}

// Record appends one event. detail is serialized as JSON; nil leaves it empty.
func (j *Journal) Record(ctx context.Context, kind, cellKey string, detail interface{}) (string, error) {
	entry := store.JournalEntry{
		ID:        uuid.New().String(),
		Kind:      kind,
		CellKey:   cellKey,
		CreatedAt: j.now().UTC(),
	}
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return "", fmt.Errorf("marshal %s detail: %w", kind, err)
		}
		entry.DetailJSON = string(b)
	}
	if err := j.store.AppendJournal(ctx, entry); err != nil {
		return "", fmt.Errorf("log %s: %w", kind, err)
	}
	return entry.ID, nil
}

// Recent lists the newest entries first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]store.JournalEntry, error) {
	return j.store.ListJournal(ctx, limit)
}

// #endregion journal
