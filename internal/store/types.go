package store

import "time"

// #region point-record
// PointRecord is one registered cell in the global index: its flattened coordinates, the
// offsets needed to split them back into input/action/drive, and access statistics.
type PointRecord struct {
	Key              string
	Coords           []float64
	FirstActionIndex int
	FirstDriveIndex  int
	UpdateCount      uint64
	LastResetAt      time.Time
	CreatedAt        time.Time
}

// #endregion point-record

// #region action-row
// ActionRow is one (signature, horizon) score estimate inside a cell's action table.
type ActionRow struct {
	Signature   string  `json:"signature"`
	Horizon     int     `json:"horizon"`
	Score       float64 `json:"score"`
	UpdateCount uint64  `json:"updateCount"`
}

// #endregion action-row

// #region journal-entry
// JournalEntry is a single row in the structural change journal.
type JournalEntry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"` // "initialize" | "add" | "split" | "delete" | "clear"
	CellKey    string    `json:"cellKey,omitempty"`
	DetailJSON string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// #endregion journal-entry
