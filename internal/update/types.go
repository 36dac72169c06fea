package update

// #region rubber-banding
// RubberBanding pulls scores above TargetScore back toward it after every update.
type RubberBanding struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	TargetScore float64 `yaml:"targetScore" json:"targetScore"`
	Decay       float64 `yaml:"decay" json:"decay" validate:"gte=0,lte=1"`
}

// #endregion rubber-banding

// #region update-config
// Config holds the parameters for one cell's score update.
type Config struct {
	RubberBanding RubberBanding `yaml:"rubberBanding" json:"rubberBanding"`
}

// DefaultConfig mirrors the shipped defaults: banding off, target 10, decay 0.05.
func DefaultConfig() Config {
	return Config{
		RubberBanding: RubberBanding{
			Enabled:     false,
			TargetScore: 10,
			Decay:       0.05,
		},
	}
}

// #endregion update-config

// #region decision
// Decision records what happened to one (signature, horizon) row.
type Decision struct {
	Horizon int
	Action  string // "create" | "update"
	Before  float64
	After   float64
}

// #endregion decision

// #region update-result
// Result bundles everything returned by Apply.
type Result struct {
	Rows          []Row
	Decisions     []Decision
	BestScore     float64
	CellIncrement uint64
}

// Row is the new value for one horizon of the updated signature.
type Row struct {
	Horizon     int
	Score       float64
	UpdateCount uint64
}

// #endregion update-result
