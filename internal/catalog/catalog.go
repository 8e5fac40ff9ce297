package catalog

// #region imports
import (
	"fmt"
	"time"

	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region classify

// Classify maps a FAIL count (UNCERTAIN already folded in by the caller) to a
// fatigue band using the configured thresholds.
func (c *Catalog) Classify(failCount int) state.FatigueBand {
	switch {
	case failCount >= c.Classifier.NearLimitAt:
		return state.BandNearLimit
	case failCount >= c.Classifier.RisingAt:
		return state.BandRising
	}
	return state.BandOK
}

// #endregion classify

// #region required-actions

// RequiredActions looks up the action set for a (band, mode) cell. The table
// is total after Validate, so lookups never miss at runtime.
func (c *Catalog) RequiredActions(band state.FatigueBand, mode state.Mode, isContextWindow bool) []ActionTag {
	cell := c.Actions[band][mode]
	if isContextWindow {
		return cell.ContextWindow
	}
	return cell.Default
}

// #endregion required-actions

// #region mode-tables

// PreflightMode is the policy mode for a freshly classified band, before the
// cross-session ceiling clamp.
func (c *Catalog) PreflightMode(band state.FatigueBand) state.Mode {
	return c.PreflightModes[band]
}

// NextSessionCeiling is the most permissive mode the next session may start
// in, given the band a block closed at.
func (c *Catalog) NextSessionCeiling(band state.FatigueBand) state.Mode {
	return c.NextCeilings[band]
}

// #endregion mode-tables

// #region reset

// ResetPhase selects the phase for the n-th reset of a session (0-based),
// walking the escalation chain and holding at its last entry.
func (c *Catalog) ResetPhase(resetCount int) state.TimerPhase {
	chain := c.Reset.Escalation
	if resetCount >= len(chain) {
		return chain[len(chain)-1]
	}
	return chain[resetCount]
}

// ResetDuration is the declared length of a reset phase. Declarative policy
// for the operator; nothing in the controller sleeps on it.
func (c *Catalog) ResetDuration(phase state.TimerPhase) time.Duration {
	switch phase {
	case state.PhaseResetShort:
		return time.Duration(c.Reset.ShortMinutes) * time.Minute
	case state.PhaseResetLong:
		return time.Duration(c.Reset.LongMinutes) * time.Minute
	}
	return 0
}

// #endregion reset

// #region procedure-lookup

// Procedure returns the catalog procedure with the given id.
func (c *Catalog) Procedure(id string) (otest.Procedure, bool) {
	for _, p := range c.Procedures {
		if p.ID == id {
			return p, true
		}
	}
	return otest.Procedure{}, false
}

// #endregion procedure-lookup

// #region normalize

// Normalize fills derived fields: a cell without a context-window override
// inherits its default actions.
func (c *Catalog) Normalize() {
	for band, row := range c.Actions {
		for mode, cell := range row {
			if cell.ContextWindow == nil {
				cell.ContextWindow = cell.Default
				c.Actions[band][mode] = cell
			}
		}
	}
}

// #endregion normalize

// #region validate

var allBands = []state.FatigueBand{state.BandOK, state.BandRising, state.BandNearLimit}
var allModes = []state.Mode{state.ModeGreen, state.ModeYellow, state.ModeRed}

// Validate checks enum membership and table totality. Any failure here is a
// configuration error and must abort startup.
func (c *Catalog) Validate() error {
	if c.Classifier.RisingAt < 1 {
		return fmt.Errorf("classifier: rising_at %d must be >= 1", c.Classifier.RisingAt)
	}
	if c.Classifier.NearLimitAt < c.Classifier.RisingAt {
		return fmt.Errorf("classifier: near_limit_at %d below rising_at %d", c.Classifier.NearLimitAt, c.Classifier.RisingAt)
	}

	for band := range c.Actions {
		if !band.IsValid() {
			return fmt.Errorf("actions: out-of-enum band %q", band)
		}
		for mode, cell := range c.Actions[band] {
			if !mode.IsValid() {
				return fmt.Errorf("actions[%s]: out-of-enum mode %q", band, mode)
			}
			for _, tag := range cell.Default {
				if !tag.IsValid() {
					return fmt.Errorf("actions[%s][%s]: out-of-enum action %q", band, mode, tag)
				}
			}
			for _, tag := range cell.ContextWindow {
				if !tag.IsValid() {
					return fmt.Errorf("actions[%s][%s]: out-of-enum context action %q", band, mode, tag)
				}
			}
		}
	}
	// The action table must be total: all nine (band, mode) cells present.
	for _, band := range allBands {
		row, ok := c.Actions[band]
		if !ok {
			return fmt.Errorf("actions: missing band %s", band)
		}
		for _, mode := range allModes {
			if _, ok := row[mode]; !ok {
				return fmt.Errorf("actions[%s]: missing mode %s", band, mode)
			}
		}
	}

	for _, band := range allBands {
		m, ok := c.PreflightModes[band]
		if !ok {
			return fmt.Errorf("preflight_modes: missing band %s", band)
		}
		if !m.IsValid() {
			return fmt.Errorf("preflight_modes[%s]: out-of-enum mode %q", band, m)
		}
		n, ok := c.NextCeilings[band]
		if !ok {
			return fmt.Errorf("next_ceilings: missing band %s", band)
		}
		if !n.IsValid() {
			return fmt.Errorf("next_ceilings[%s]: out-of-enum mode %q", band, n)
		}
	}
	for band := range c.PreflightModes {
		if !band.IsValid() {
			return fmt.Errorf("preflight_modes: out-of-enum band %q", band)
		}
	}
	// RED mode is only meaningful under fatigue; an OK band may not map to it.
	if c.PreflightModes[state.BandOK] == state.ModeRed {
		return fmt.Errorf("preflight_modes[OK]: RED requires a fatigued band")
	}
	for band := range c.NextCeilings {
		if !band.IsValid() {
			return fmt.Errorf("next_ceilings: out-of-enum band %q", band)
		}
	}

	if len(c.Reset.Escalation) == 0 {
		return fmt.Errorf("reset: empty escalation chain")
	}
	for i, phase := range c.Reset.Escalation {
		if !phase.IsReset() {
			return fmt.Errorf("reset: escalation[%d] %q is not a reset phase", i, phase)
		}
	}
	if c.Reset.ShortMinutes <= 0 || c.Reset.LongMinutes < c.Reset.ShortMinutes {
		return fmt.Errorf("reset: durations short=%dm long=%dm out of order", c.Reset.ShortMinutes, c.Reset.LongMinutes)
	}

	seen := make(map[string]bool, len(c.Procedures))
	for _, p := range c.Procedures {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("procedures: %w", err)
		}
		if seen[p.ID] {
			return fmt.Errorf("procedures: duplicate id %s", p.ID)
		}
		seen[p.ID] = true
	}

	return nil
}

// #endregion validate
