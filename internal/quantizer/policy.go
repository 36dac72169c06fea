package quantizer

import (
	"golang.org/x/time/rate"
)

// #region policy
// SplitPolicyConfig decides when a hot cell is refined.
type SplitPolicyConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// MinUpdatesPerMinute is the access rate a cell must exceed to split.
	MinUpdatesPerMinute float64 `yaml:"minUpdatesPerMinute" json:"minUpdatesPerMinute" validate:"gte=0"`
	// SplitsPerSecond caps the global split rate; zero disables the cap.
	SplitsPerSecond float64 `yaml:"splitsPerSecond" json:"splitsPerSecond" validate:"gte=0"`
	Burst           int     `yaml:"burst" json:"burst" validate:"gte=0"`
}

// DefaultSplitPolicyConfig splits any cell updated more than once a minute, at most
// ten times a second.
func DefaultSplitPolicyConfig() SplitPolicyConfig {
	return SplitPolicyConfig{
		Enabled:             true,
		MinUpdatesPerMinute: 1,
		SplitsPerSecond:     10,
		Burst:               10,
	}
}

// SplitPolicy applies SplitPolicyConfig with a token bucket for the global cap.
type SplitPolicy struct {
	cfg     SplitPolicyConfig
	limiter *rate.Limiter
}

func NewSplitPolicy(cfg SplitPolicyConfig) *SplitPolicy {
	p := &SplitPolicy{cfg: cfg}
	if cfg.SplitsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.SplitsPerSecond), burst)
	}
	return p
}

// Allow reports whether a cell with the given access rate may split now. A true result
// consumes a token.
func (p *SplitPolicy) Allow(updatesPerMinute float64) bool {
	if p == nil || !p.cfg.Enabled || updatesPerMinute <= p.cfg.MinUpdatesPerMinute {
		return false
	}
	return p.limiter == nil || p.limiter.Allow()
}

func (p *SplitPolicy) Config() SplitPolicyConfig {
	if p == nil {
		return SplitPolicyConfig{}
	}
	return p.cfg
}

// #endregion policy
