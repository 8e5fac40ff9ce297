package ledger

// #region imports
import (
	"fmt"
	"time"

	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region event-type

// EventType names one kind of ledger entry. The set is closed: new behavior
// gets a reason string, not a new type.
type EventType string

const (
	EventTickEnd           EventType = "TICK_END"
	EventResetStart        EventType = "RESET_START"
	EventResetEnd          EventType = "RESET_END"
	EventBlockDefined      EventType = "BLOCK_DEFINED"
	EventBlockDenied       EventType = "BLOCK_DENIED"
	EventBlockClosed       EventType = "BLOCK_CLOSED"
	EventCheckpointEmitted EventType = "CHECKPOINT_EMITTED"
)

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventTickEnd, EventResetStart, EventResetEnd,
		EventBlockDefined, EventBlockDenied, EventBlockClosed,
		EventCheckpointEmitted:
		return true
	}
	return false
}

// BlockScoped reports whether events of this type must reference a block.
func (t EventType) BlockScoped() bool {
	return t == EventBlockDefined || t == EventBlockDenied || t == EventBlockClosed
}

// #endregion event-type

// #region event

// Event is one ledger entry. Seq, PrevHash, and Hash are assigned by the
// store on append; everything else is the caller's statement of fact at the
// moment of the event.
type Event struct {
	Seq      uint64            `json:"seq"`
	TS       time.Time         `json:"ts"`
	Phase    state.TimerPhase  `json:"timer_phase"`
	Mode     state.Mode        `json:"mode"`
	Band     state.FatigueBand `json:"fatigue_band"`
	BlockID  string            `json:"block_id,omitempty"`
	Type     EventType         `json:"event_type"`
	Summary  *otest.Summary    `json:"otest_summary,omitempty"`
	Reason   string            `json:"reason,omitempty"`
	PrevHash string            `json:"prev_hash"`
	Hash     string            `json:"hash"`
}

// Validate checks the caller-supplied fields of an event. Store-assigned
// fields are checked by chain verification instead.
func (e *Event) Validate() error {
	if e.TS.IsZero() {
		return fmt.Errorf("event %s: zero ts", e.Type)
	}
	if !e.Phase.IsValid() {
		return fmt.Errorf("event %s: out-of-enum timer_phase %q", e.Type, e.Phase)
	}
	if !e.Mode.IsValid() {
		return fmt.Errorf("event %s: out-of-enum mode %q", e.Type, e.Mode)
	}
	if !e.Band.IsValid() {
		return fmt.Errorf("event %s: out-of-enum fatigue_band %q", e.Type, e.Band)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("unknown event_type %q", e.Type)
	}
	if e.Type.BlockScoped() && e.BlockID == "" {
		return fmt.Errorf("event %s: missing block_id", e.Type)
	}
	return nil
}

// #endregion event

// #region config

// Config tunes lock acquisition. Lock contention is expected to be rare and
// brief; anything past Timeout means a second writer holds the session.
type Config struct {
	LockTimeout   time.Duration
	RetryInterval time.Duration
	StaleAfter    time.Duration
}

// DefaultConfig returns the standard lock tuning.
func DefaultConfig() Config {
	return Config{
		LockTimeout:   5 * time.Second,
		RetryInterval: 100 * time.Millisecond,
		StaleAfter:    10 * time.Minute,
	}
}

// #endregion config

// #region errors

// ConcurrentSessionError reports that another writer held the session lock
// for the whole acquisition window. The ledger stays untouched.
type ConcurrentSessionError struct {
	SessionID string
	LockPath  string
	Waited    time.Duration
	Attempts  int
}

func (e *ConcurrentSessionError) Error() string {
	return fmt.Sprintf("session %s: ledger locked by another writer (waited %s over %d attempts, lock %s)",
		e.SessionID, e.Waited, e.Attempts, e.LockPath)
}

// ChainError reports a broken hash chain or sequence gap: the ledger was
// edited, truncated, or interleaved. Always fatal.
type ChainError struct {
	Seq    uint64
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("ledger chain broken at seq %d: %s", e.Seq, e.Reason)
}

// #endregion errors
