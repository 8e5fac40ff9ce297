package catalog

// #region imports
import (
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region action-tag

// ActionTag names one policy-mandated action the supervisors must take at a
// tick boundary.
type ActionTag string

const (
	ActionDowngradeMode    ActionTag = "downgrade_mode"
	ActionForceCloseBlock  ActionTag = "force_close_block"
	ActionRunResetProtocol ActionTag = "run_reset_protocol"
)

// IsValid reports whether t is a known action tag.
func (t ActionTag) IsValid() bool {
	return t == ActionDowngradeMode || t == ActionForceCloseBlock || t == ActionRunResetProtocol
}

// #endregion action-tag

// #region classifier-config

// ClassifierConfig holds the fail-count thresholds for fatigue banding.
// A count at or above NearLimitAt classifies NEAR_LIMIT, at or above RisingAt
// classifies RISING, below that OK.
type ClassifierConfig struct {
	RisingAt    int `yaml:"rising_at"`
	NearLimitAt int `yaml:"near_limit_at"`
}

// #endregion classifier-config

// #region action-cell

// ActionCell is one (band, mode) entry of the action table. ContextWindow
// overrides Default when the tick lands inside a scheduled context block or
// deferred window; a nil ContextWindow inherits Default at Normalize.
type ActionCell struct {
	Default       []ActionTag `yaml:"default"`
	ContextWindow []ActionTag `yaml:"context_window,omitempty"`
}

// #endregion action-cell

// #region reset-config

// ResetConfig declares the reset protocol: the escalation chain selects the
// phase for the n-th reset of a session (clamped to the last entry), and the
// durations are declarative policy for the operator, not timers.
type ResetConfig struct {
	Escalation   []state.TimerPhase `yaml:"escalation"`
	ShortMinutes int                `yaml:"short_minutes"`
	LongMinutes  int                `yaml:"long_minutes"`
}

// #endregion reset-config

// #region catalog

// Catalog is the full policy table set: pure data, deterministic lookups, no
// clock and no I/O after load.
type Catalog struct {
	Version        string                                             `yaml:"version"`
	Classifier     ClassifierConfig                                   `yaml:"classifier"`
	Actions        map[state.FatigueBand]map[state.Mode]ActionCell    `yaml:"actions"`
	PreflightModes map[state.FatigueBand]state.Mode                   `yaml:"preflight_modes"`
	NextCeilings   map[state.FatigueBand]state.Mode                   `yaml:"next_ceilings"`
	Reset          ResetConfig                                        `yaml:"reset"`
	Procedures     []otest.Procedure                                  `yaml:"procedures"`
}

// #endregion catalog
