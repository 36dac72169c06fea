package session

import (
	"time"

	"github.com/danielpatrickdp/ihtai/internal/point"
	"github.com/danielpatrickdp/ihtai/internal/store"
)

// #region step
// StepInput is one report from the agent. ActionTaken defaults to the action
// sub-vector of Point when empty.
type StepInput struct {
	Point       point.Point
	ActionTaken string
	Score       float64
}

// StepResult describes everything one cycle did.
type StepResult struct {
	Cycle      uint64
	NearestKey string
	// CellKey is the cell whose best action was returned: NearestKey or the split target.
	CellKey string
	Credit  *Credit
	Split   *SplitOutcome
	Action  store.ActionRow
}

// Credit is the reward pushed into the cell that was active at the window head.
type Credit struct {
	CellKey   string    `json:"startPattern"`
	ActionKey string    `json:"actionKey"`
	Rewards   []float64 `json:"driveScores"`
	BestScore float64   `json:"bestScore"`
}

// SplitOutcome reports a split attempted during a cycle.
type SplitOutcome struct {
	Original         string  `json:"original"`
	New              string  `json:"new"`
	UpdatesPerMinute float64 `json:"updatesPerMinute"`
	Error            string  `json:"error,omitempty"`
}

// #endregion step

// #region cell-summary
// CellSummary is one row of the cell listing.
type CellSummary struct {
	Key              string      `json:"key"`
	Point            point.Point `json:"point"`
	UpdateCount      uint64      `json:"updateCount"`
	UpdatesPerMinute float64     `json:"updatesPerMinute"`
	LastResetAt      time.Time   `json:"lastResetAt"`
	CreatedAt        time.Time   `json:"createdAt"`
}

// #endregion cell-summary
