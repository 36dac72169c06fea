package logging

// #region event-kinds
// Journal event kinds.
const (
	KindInitialize = "initialize"
	KindAdd        = "add"
	KindSplit      = "split"
	KindDelete     = "delete"
	KindClear      = "clear"
)

// #endregion event-kinds

// #region details
// InitializeDetail is serialized into the journal for an initialize event.
type InitializeDetail struct {
	Source     string `json:"source"` // "points" | "store"
	Cells      int    `json:"cells"`
	Created    int    `json:"created"`
	Signatures int    `json:"signatures"`
}

// SplitDetail captures everything needed to explain a split after the fact.
type SplitDetail struct {
	Original        string  `json:"original"`
	New             string  `json:"new"`
	NewSignature    string  `json:"new_signature"`
	CopiedFrom      string  `json:"copied_from,omitempty"`
	SignatureAdded  bool    `json:"signature_added"`
	RowsAdded       int64   `json:"rows_added"`
	UpdatesPerMin   float64 `json:"updates_per_minute,omitempty"`
	CellsAfterSplit int     `json:"cells_after_split"`
}

// DeleteDetail records how many rows a deletion removed from other cells.
type DeleteDetail struct {
	Signature   string `json:"signature"`
	RowsRemoved int64  `json:"rows_removed"`
}

// #endregion details
