package state

import (
	"fmt"
	"time"
)

// #region mode

// Mode is the permission ceiling a session operates under. Ordering is by
// restrictiveness: GREEN < YELLOW < RED.
type Mode string

const (
	ModeGreen  Mode = "GREEN"
	ModeYellow Mode = "YELLOW"
	ModeRed    Mode = "RED"
)

func (m Mode) rank() int {
	switch m {
	case ModeGreen:
		return 0
	case ModeYellow:
		return 1
	case ModeRed:
		return 2
	}
	return -1
}

// IsValid reports whether m is one of the three known modes.
func (m Mode) IsValid() bool { return m.rank() >= 0 }

// Exceeds reports whether m is more permissive than ceiling.
func (m Mode) Exceeds(ceiling Mode) bool { return m.rank() < ceiling.rank() }

// MoreRestrictive returns whichever of a and b sits higher on the
// GREEN→YELLOW→RED ladder.
func MoreRestrictive(a, b Mode) Mode {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// Downgrade returns the next step up the restrictiveness ladder. RED has
// nowhere further to go.
func (m Mode) Downgrade() Mode {
	switch m {
	case ModeGreen:
		return ModeYellow
	case ModeYellow:
		return ModeRed
	}
	return ModeRed
}

// ClampMode bounds requested by ceiling: the result is never more
// permissive than ceiling.
func ClampMode(requested, ceiling Mode) Mode {
	if requested.Exceeds(ceiling) {
		return ceiling
	}
	return requested
}

// ParseMode converts a wire token into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown mode %q", s)
	}
	return m, nil
}

// #endregion mode

// #region fatigue-band

// FatigueBand is the classified fatigue level. Ordering is by risk:
// OK < RISING < NEAR_LIMIT.
type FatigueBand string

const (
	BandOK        FatigueBand = "OK"
	BandRising    FatigueBand = "RISING"
	BandNearLimit FatigueBand = "NEAR_LIMIT"
)

func (b FatigueBand) rank() int {
	switch b {
	case BandOK:
		return 0
	case BandRising:
		return 1
	case BandNearLimit:
		return 2
	}
	return -1
}

// IsValid reports whether b is one of the three known bands.
func (b FatigueBand) IsValid() bool { return b.rank() >= 0 }

// WorseThan reports whether b carries strictly more risk than other.
func (b FatigueBand) WorseThan(other FatigueBand) bool { return b.rank() > other.rank() }

// MaxBand returns whichever of a and b carries more risk.
func MaxBand(a, b FatigueBand) FatigueBand {
	if a.rank() >= b.rank() {
		return a
	}
	return b
}

// ParseBand converts a wire token into a FatigueBand.
func ParseBand(s string) (FatigueBand, error) {
	b := FatigueBand(s)
	if !b.IsValid() {
		return "", fmt.Errorf("unknown fatigue band %q", s)
	}
	return b, nil
}

// #endregion fatigue-band

// #region timer-phase

// TimerPhase tracks where the session sits in the work/reset cycle.
type TimerPhase string

const (
	PhaseWork       TimerPhase = "WORK"
	PhaseResetShort TimerPhase = "RESET_SHORT"
	PhaseResetLong  TimerPhase = "RESET_LONG"
)

// IsValid reports whether p is one of the three known phases.
func (p TimerPhase) IsValid() bool {
	return p == PhaseWork || p == PhaseResetShort || p == PhaseResetLong
}

// IsReset reports whether p is one of the reset phases.
func (p TimerPhase) IsReset() bool { return p == PhaseResetShort || p == PhaseResetLong }

// #endregion timer-phase

// #region work-pattern

// WorkPattern classifies the kind of work a block contract covers.
// SYL is ordinary syllabus work; CTX is context work, legal only inside
// scheduled context blocks or deferred windows.
type WorkPattern string

const (
	PatternSYL WorkPattern = "SYL"
	PatternCTX WorkPattern = "CTX"
)

// IsValid reports whether w is a known pattern.
func (w WorkPattern) IsValid() bool { return w == PatternSYL || w == PatternCTX }

// ParseWorkPattern converts a wire token into a WorkPattern.
func ParseWorkPattern(s string) (WorkPattern, error) {
	w := WorkPattern(s)
	if !w.IsValid() {
		return "", fmt.Errorf("unknown work pattern %q", s)
	}
	return w, nil
}

// #endregion work-pattern

// #region block-state

// BlockState is the lifecycle state of a block contract.
type BlockState string

const (
	BlockUndefined BlockState = "UNDEFINED"
	BlockDefined   BlockState = "DEFINED"
	BlockClosed    BlockState = "CLOSED"
)

// IsValid reports whether s is a known lifecycle state.
func (s BlockState) IsValid() bool {
	return s == BlockUndefined || s == BlockDefined || s == BlockClosed
}

// IsTerminal reports whether s admits no further transitions.
func (s BlockState) IsTerminal() bool { return s == BlockClosed }

// #endregion block-state

// #region plant-state

// PlantState is the full fatigue/mode state of one session. StartMode is the
// ceiling fixed at preflight; Mode never rises above it again, even across a
// reset boundary.
type PlantState struct {
	SessionID  string
	Mode       Mode
	Band       FatigueBand
	Phase      TimerPhase
	StartMode  Mode
	ResetCount int
	UpdatedAt  time.Time
}

// Validate checks enum membership and the RED-implies-fatigue invariant.
func (s PlantState) Validate() error {
	if !s.Mode.IsValid() || !s.Band.IsValid() || !s.Phase.IsValid() || !s.StartMode.IsValid() {
		return fmt.Errorf("plant state %s: out-of-enum field", s.SessionID)
	}
	if s.Mode == ModeRed && s.Band == BandOK {
		return fmt.Errorf("plant state %s: RED mode with OK band", s.SessionID)
	}
	if s.Mode.Exceeds(s.StartMode) {
		return fmt.Errorf("plant state %s: mode %s above session ceiling %s", s.SessionID, s.Mode, s.StartMode)
	}
	return nil
}

// #endregion plant-state

// #region end-pointer

// EndPointer is the immutable cross-session handoff written when a block
// closes. The next session's starting mode may not exceed
// RecommendedNextMode.
type EndPointer struct {
	BlockID             string
	ModeAtEnd           Mode
	BandAtEnd           FatigueBand
	RecommendedNextMode Mode
	Timestamp           time.Time
}

// Validate checks enum membership and required fields.
func (p EndPointer) Validate() error {
	if p.BlockID == "" {
		return fmt.Errorf("end pointer: empty block_id")
	}
	if !p.ModeAtEnd.IsValid() || !p.BandAtEnd.IsValid() || !p.RecommendedNextMode.IsValid() {
		return fmt.Errorf("end pointer %s: out-of-enum field", p.BlockID)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("end pointer %s: zero timestamp", p.BlockID)
	}
	return nil
}

// #endregion end-pointer
