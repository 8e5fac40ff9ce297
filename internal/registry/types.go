package registry

// #region imports
import (
	"fmt"
	"time"

	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region block-row

// BlockRow is the registry's view of one block contract: the columns needed
// for legality queries. The full contract lives in the time_block artifact;
// the ledger stays the source of truth and the registry is rebuildable.
type BlockRow struct {
	BlockID            string
	SessionID          string
	WorkPattern        state.WorkPattern
	ModeAtStart        state.Mode
	State              state.BlockState
	Day                string
	BoundaryViolations int
	DefinedAt          time.Time
	ClosedAt           *time.Time
}

// #endregion block-row

// #region errors

// ErrNoSession reports that the registry has no session row to serve.
type ErrNoSession struct {
	SessionID string
}

func (e *ErrNoSession) Error() string {
	if e.SessionID == "" {
		return "registry: no session recorded"
	}
	return fmt.Sprintf("registry: unknown session %s", e.SessionID)
}

// #endregion errors
