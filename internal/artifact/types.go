// Package artifact defines the durable JSON surfaces of the controller:
// preflight snapshots, time blocks, end pointers, O-test records, and
// checkpoints. Each kind carries its own schema id and version so consumers
// can evolve independently; decoding is strict and validation failures are
// typed so callers can fall back instead of dying.
package artifact

// #region imports
import (
	"fmt"
	"time"

	"github.com/fatb4f/neuroctrl/internal/boundary"
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region schema-header

const (
	SchemaPreflightSnapshot = "neuroctrl.preflight_snapshot"
	SchemaTimeBlock         = "neuroctrl.time_block"
	SchemaEndPointer        = "neuroctrl.end_pointer"
	SchemaOTestRecord       = "neuroctrl.otest_result"
	SchemaCheckpoint        = "neuroctrl.checkpoint"

	// SchemaVersion is shared across kinds for now; kinds may diverge later
	// without touching each other.
	SchemaVersion = "1.0.0"
)

// Header identifies and versions an artifact independently of its siblings.
type Header struct {
	SchemaID      string `json:"schema_id"`
	SchemaVersion string `json:"schema_version"`
}

func (h Header) check(wantID string) error {
	if h.SchemaID != wantID {
		return fmt.Errorf("schema_id %q, want %q", h.SchemaID, wantID)
	}
	if h.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version %q, want %q", h.SchemaVersion, SchemaVersion)
	}
	return nil
}

// NewHeader stamps an artifact kind with the current schema version.
func NewHeader(schemaID string) Header {
	return Header{SchemaID: schemaID, SchemaVersion: SchemaVersion}
}

// Stamp canonicalizes a timestamp for artifact storage: UTC, second
// precision, so encoding is reproducible byte for byte.
func Stamp(t time.Time) time.Time { return t.UTC().Truncate(time.Second) }

// #endregion schema-header

// #region preflight-snapshot

// PreflightSnapshot is the immutable record of one session-entry evaluation.
// SnapshotID is a content hash, so replaying the same inputs reproduces the
// identical artifact.
type PreflightSnapshot struct {
	Header
	SnapshotID   string            `json:"snapshot_id"`
	SessionID    string            `json:"session_id"`
	Results      []otest.Result    `json:"results"`
	FailCount    int               `json:"fail_count"`
	Band         state.FatigueBand `json:"fatigue_band"`
	Mode         state.Mode        `json:"mode"`
	PriorBlockID string            `json:"prior_block_id,omitempty"`
	PriorCeiling state.Mode        `json:"prior_ceiling,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Validate applies the storage rules for snapshots.
func (s *PreflightSnapshot) Validate() error {
	if err := s.Header.check(SchemaPreflightSnapshot); err != nil {
		return err
	}
	if s.SnapshotID == "" {
		return fmt.Errorf("empty snapshot_id")
	}
	if s.SessionID == "" {
		return fmt.Errorf("empty session_id")
	}
	if len(s.Results) == 0 {
		return fmt.Errorf("snapshot without results")
	}
	for _, r := range s.Results {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if !s.Band.IsValid() || !s.Mode.IsValid() {
		return fmt.Errorf("out-of-enum band or mode")
	}
	if s.PriorCeiling != "" && !s.PriorCeiling.IsValid() {
		return fmt.Errorf("out-of-enum prior_ceiling %q", s.PriorCeiling)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("zero timestamp")
	}
	return nil
}

// #endregion preflight-snapshot

// #region time-block

// Budgets caps the change surface of one block. Zero means unlimited.
type Budgets struct {
	MaxChangedFiles int `json:"max_changed_files,omitempty"`
	MaxChangedLines int `json:"max_changed_lines,omitempty"`
}

// TimeBlock is the stored form of a block contract.
type TimeBlock struct {
	Header
	BlockID      string            `json:"block_id"`
	SessionID    string            `json:"session_id"`
	WorkPattern  state.WorkPattern `json:"work_pattern"`
	ModeAtStart  state.Mode        `json:"mode_at_start"`
	AllowedPaths []string          `json:"allowed_paths,omitempty"`
	IllegalMoves []string          `json:"declared_illegal_moves,omitempty"`
	Budgets      Budgets           `json:"budgets"`
	State        state.BlockState  `json:"state"`
	DefinedAt    time.Time         `json:"defined_at"`
	ClosedAt     *time.Time        `json:"closed_at,omitempty"`
}

// Validate applies the storage rules for block contracts.
func (b *TimeBlock) Validate() error {
	if err := b.Header.check(SchemaTimeBlock); err != nil {
		return err
	}
	if b.BlockID == "" || b.SessionID == "" {
		return fmt.Errorf("empty block_id or session_id")
	}
	if !b.WorkPattern.IsValid() {
		return fmt.Errorf("out-of-enum work_pattern %q", b.WorkPattern)
	}
	if !b.ModeAtStart.IsValid() {
		return fmt.Errorf("out-of-enum mode_at_start %q", b.ModeAtStart)
	}
	if !b.State.IsValid() || b.State == state.BlockUndefined {
		return fmt.Errorf("stored block in state %q", b.State)
	}
	if err := boundary.ValidatePatterns(b.AllowedPaths); err != nil {
		return fmt.Errorf("allowed_paths: %w", err)
	}
	if err := boundary.ValidatePatterns(b.IllegalMoves); err != nil {
		return fmt.Errorf("declared_illegal_moves: %w", err)
	}
	if b.DefinedAt.IsZero() {
		return fmt.Errorf("zero defined_at")
	}
	if b.State == state.BlockClosed && b.ClosedAt == nil {
		return fmt.Errorf("closed block without closed_at")
	}
	return nil
}

// Limits projects the contract's boundary surface for the checker.
func (b *TimeBlock) Limits() boundary.Limits {
	return boundary.Limits{
		AllowedPaths:    b.AllowedPaths,
		IllegalMoves:    b.IllegalMoves,
		MaxChangedFiles: b.Budgets.MaxChangedFiles,
		MaxChangedLines: b.Budgets.MaxChangedLines,
	}
}

// #endregion time-block

// #region end-pointer

// EndPointerRecord is the stored form of a cross-session end pointer.
type EndPointerRecord struct {
	Header
	BlockID             string            `json:"block_id"`
	ModeAtEnd           state.Mode        `json:"mode_at_end"`
	BandAtEnd           state.FatigueBand `json:"fatigue_band_at_end"`
	RecommendedNextMode state.Mode        `json:"recommended_next_mode"`
	Timestamp           time.Time         `json:"timestamp"`
}

// NewEndPointerRecord wraps a domain pointer for storage.
func NewEndPointerRecord(p state.EndPointer) *EndPointerRecord {
	return &EndPointerRecord{
		Header:              NewHeader(SchemaEndPointer),
		BlockID:             p.BlockID,
		ModeAtEnd:           p.ModeAtEnd,
		BandAtEnd:           p.BandAtEnd,
		RecommendedNextMode: p.RecommendedNextMode,
		Timestamp:           Stamp(p.Timestamp),
	}
}

// Pointer converts back to the domain type.
func (r *EndPointerRecord) Pointer() state.EndPointer {
	return state.EndPointer{
		BlockID:             r.BlockID,
		ModeAtEnd:           r.ModeAtEnd,
		BandAtEnd:           r.BandAtEnd,
		RecommendedNextMode: r.RecommendedNextMode,
		Timestamp:           r.Timestamp,
	}
}

// Validate applies the storage rules for end pointers.
func (r *EndPointerRecord) Validate() error {
	if err := r.Header.check(SchemaEndPointer); err != nil {
		return err
	}
	return r.Pointer().Validate()
}

// #endregion end-pointer

// #region otest-record

// OTestRecord stores one batch of mid-session O-test observations.
type OTestRecord struct {
	Header
	SessionID  string         `json:"session_id"`
	Results    []otest.Result `json:"results"`
	Summary    otest.Summary  `json:"summary"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// NewOTestRecord builds the stored form of a batch. RecordedAt derives from
// the observations, not the wall clock.
func NewOTestRecord(sessionID string, results []otest.Result) *OTestRecord {
	return &OTestRecord{
		Header:     NewHeader(SchemaOTestRecord),
		SessionID:  sessionID,
		Results:    results,
		Summary:    otest.Summarize(results),
		RecordedAt: Stamp(otest.Latest(results)),
	}
}

// Validate applies the storage rules for O-test records.
func (r *OTestRecord) Validate() error {
	if err := r.Header.check(SchemaOTestRecord); err != nil {
		return err
	}
	if r.SessionID == "" {
		return fmt.Errorf("empty session_id")
	}
	if len(r.Results) == 0 {
		return fmt.Errorf("record without results")
	}
	for _, res := range r.Results {
		if err := res.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// #endregion otest-record

// #region checkpoint

// Actuator operations an external consumer may perform on behalf of a
// checkpoint. Anything else is out of contract.
const (
	OpComment        = "comment"
	OpLabelAdd       = "label_add"
	OpLabelRemove    = "label_remove"
	OpCloseViaPROnly = "close_via_pr_only"
	OpProjectUpdate  = "project_update"
)

// DefaultAllowedOps returns the full actuator allow-list.
func DefaultAllowedOps() []string {
	return []string{OpComment, OpLabelAdd, OpLabelRemove, OpCloseViaPROnly, OpProjectUpdate}
}

// SessionSummary aggregates one session for the checkpoint consumer.
type SessionSummary struct {
	BlocksDefined      int `json:"blocks_defined"`
	BlocksDenied       int `json:"blocks_denied"`
	BlocksClosed       int `json:"blocks_closed"`
	Ticks              int `json:"ticks"`
	Resets             int `json:"resets"`
	Fallbacks          int `json:"fallbacks"`
	BoundaryViolations int `json:"boundary_violations"`
}

// Checkpoint is the emission artifact an external actuator consumes. The
// controller writes it and stops; it never calls the actuator.
type Checkpoint struct {
	Header
	SessionID  string            `json:"session_id"`
	Pointer    *EndPointerRecord `json:"end_pointer,omitempty"`
	Summary    SessionSummary    `json:"summary"`
	AllowedOps []string          `json:"allowed_ops"`
	EmittedAt  time.Time         `json:"emitted_at"`
}

// Validate applies the storage rules for checkpoints.
func (c *Checkpoint) Validate() error {
	if err := c.Header.check(SchemaCheckpoint); err != nil {
		return err
	}
	if c.SessionID == "" {
		return fmt.Errorf("empty session_id")
	}
	if len(c.AllowedOps) == 0 {
		return fmt.Errorf("empty allowed_ops")
	}
	if c.Pointer != nil {
		if err := c.Pointer.Validate(); err != nil {
			return fmt.Errorf("end_pointer: %w", err)
		}
	}
	if c.EmittedAt.IsZero() {
		return fmt.Errorf("zero emitted_at")
	}
	return nil
}

// #endregion checkpoint
