package block

// #region imports
import (
	"fmt"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/plant"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region proposal

// Proposal is an operator's request for a new block contract. ModeAtStart is
// the ceiling the operator intends to work under; the supervisor refuses a
// proposal more permissive than the session's current mode.
type Proposal struct {
	Pattern      state.WorkPattern
	ModeAtStart  state.Mode
	AllowedPaths []string
	IllegalMoves []string
	Budgets      artifact.Budgets
}

// #endregion proposal

// #region decision

// DecisionKind tags the outcome of a legality-checked operation.
type DecisionKind string

const (
	KindGranted  DecisionKind = "GRANTED"
	KindDenied   DecisionKind = "DENIED"
	KindFallback DecisionKind = "FALLBACK"
)

// Decision is the tagged result of a block proposal. Denied and Fallback are
// expected, ledgered outcomes, not errors; Reason carries the ledgered
// explanation for both.
type Decision struct {
	Kind     DecisionKind
	BlockID  string
	Reason   string
	Contract *artifact.TimeBlock
}

// Allowed reports whether the proposal was granted.
func (d Decision) Allowed() bool { return d.Kind == KindGranted }

func (d Decision) String() string {
	if d.Allowed() {
		return fmt.Sprintf("%s %s", d.Kind, d.BlockID)
	}
	return fmt.Sprintf("%s %s: %s", d.Kind, d.BlockID, d.Reason)
}

// #endregion decision

// #region tick-report

// TickReport describes everything one tick did: the policy actions taken and
// any blocks the supervisor force-closed on the way.
type TickReport struct {
	Actions     plant.Actions
	ForceClosed []string
}

// #endregion tick-report

// #region errors

// UnknownBlockError reports an operation against a block that is not DEFINED:
// either never defined, or already closed. Closed blocks accept nothing.
type UnknownBlockError struct {
	BlockID string
	State   state.BlockState
}

func (e *UnknownBlockError) Error() string {
	if e.State == state.BlockUndefined || e.State == "" {
		return fmt.Sprintf("block %s: never defined", e.BlockID)
	}
	return fmt.Sprintf("block %s: in state %s, want DEFINED", e.BlockID, e.State)
}

// #endregion errors
