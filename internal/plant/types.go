package plant

// #region imports
import (
	"fmt"

	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region actions

// Actions is what a tick demands of the session. The tags come from the
// policy table plus the hard rule that reaching NEAR_LIMIT always mandates a
// reset.
type Actions struct {
	DowngradeMode    bool
	ForceCloseBlock  bool
	RunResetProtocol bool
	// ResetPhase is the protocol phase entered when RunResetProtocol is set.
	ResetPhase state.TimerPhase
}

// None reports whether the tick demanded nothing.
func (a Actions) None() bool {
	return !a.DowngradeMode && !a.ForceCloseBlock && !a.RunResetProtocol
}

func (a Actions) String() string {
	if a.None() {
		return "none"
	}
	out := ""
	if a.DowngradeMode {
		out += "downgrade_mode "
	}
	if a.ForceCloseBlock {
		out += "force_close_block "
	}
	if a.RunResetProtocol {
		out += fmt.Sprintf("run_reset_protocol(%s) ", a.ResetPhase)
	}
	return out[:len(out)-1]
}

// #endregion actions

// #region errors

// InvalidPriorStateError reports that the previous end pointer is missing or
// malformed where the cross-session clamp requires one. Fatal: preflight
// stops rather than guessing a ceiling.
type InvalidPriorStateError struct {
	SessionID string
	Reason    string
	Err       error
}

func (e *InvalidPriorStateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s: invalid prior state: %s: %v", e.SessionID, e.Reason, e.Err)
	}
	return fmt.Sprintf("session %s: invalid prior state: %s", e.SessionID, e.Reason)
}

func (e *InvalidPriorStateError) Unwrap() error { return e.Err }

// #endregion errors
