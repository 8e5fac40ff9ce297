// Package block is the execution-ledger supervisor: it grants or refuses
// block contracts against the plant's mode ceiling and the schedule's window
// verdicts, journals every outcome, and emits the end pointer that carries
// mode state into the next session. Refusals are ledgered outcomes; errors
// are reserved for integrity and machinery failures.
package block

// #region imports
import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/boundary"
	"github.com/fatb4f/neuroctrl/internal/ledger"
	"github.com/fatb4f/neuroctrl/internal/notes"
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/plant"
	"github.com/fatb4f/neuroctrl/internal/registry"
	"github.com/fatb4f/neuroctrl/internal/schedule"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region supervisor

const (
	blocksDir   = "blocks"
	pointersDir = "pointers"
)

// Deps are the collaborators one session supervisor runs against.
type Deps struct {
	Schedule *schedule.Template
	Journal  *ledger.Store
	Registry *registry.Store
	Notes    *notes.Store
	Plant    *plant.Supervisor
	// Dir is the session's artifact directory; contracts and pointers are
	// written beneath it.
	Dir string
}

// Supervisor gates one session's block lifecycle.
type Supervisor struct {
	sessionID string
	sched     *schedule.Template
	journal   *ledger.Store
	reg       *registry.Store
	notes     *notes.Store
	hps       *plant.Supervisor
	dir       string

	fallbackReason string
}

// New wires a session supervisor around an already-preflighted plant.
func New(sessionID string, d Deps) *Supervisor {
	return &Supervisor{
		sessionID: sessionID,
		sched:     d.Schedule,
		journal:   d.Journal,
		reg:       d.Registry,
		notes:     d.Notes,
		hps:       d.Plant,
		dir:       d.Dir,
	}
}

// SessionID returns the session this supervisor gates.
func (s *Supervisor) SessionID() string { return s.sessionID }

// Plant returns the current plant state.
func (s *Supervisor) Plant() state.PlantState { return s.hps.State() }

// MintBlockID names a new proposal. Refused proposals keep theirs as an
// audit handle in the ledger.
func MintBlockID() string { return "blk-" + uuid.NewString()[:8] }

// #endregion supervisor

// #region fallback

// EnterFallback drops the session to notes-only: definitions are refused from
// here on, while ticks, closes, and notes keep working so the operator can
// wind down safely. Entering twice is a no-op.
func (s *Supervisor) EnterFallback(reason string, at time.Time) error {
	if s.fallbackReason != "" {
		return nil
	}
	s.fallbackReason = reason
	log.Printf("[BLOCK] notes-only fallback: %s", reason)
	return s.notes.Add(s.sessionID, "entered notes-only fallback: "+reason, at)
}

// InFallback reports whether the session is notes-only, and why.
func (s *Supervisor) InFallback() (bool, string) {
	return s.fallbackReason != "", s.fallbackReason
}

// #endregion fallback

// #region define

// DefineBlock runs the legality gates over a proposal. A refused proposal is
// a Decision, not an error: it lands in the ledger as BLOCK_DENIED with its
// reason and the caller reports it to the operator.
func (s *Supervisor) DefineBlock(p Proposal, at time.Time) (Decision, error) {
	if !p.Pattern.IsValid() {
		return Decision{}, fmt.Errorf("define: unknown work pattern %q", p.Pattern)
	}
	if !p.ModeAtStart.IsValid() {
		return Decision{}, fmt.Errorf("define: unknown mode %q", p.ModeAtStart)
	}
	if err := boundary.ValidatePatterns(p.AllowedPaths); err != nil {
		return Decision{}, fmt.Errorf("define: allowed_paths: %w", err)
	}
	if err := boundary.ValidatePatterns(p.IllegalMoves); err != nil {
		return Decision{}, fmt.Errorf("define: declared_illegal_moves: %w", err)
	}

	id := MintBlockID()
	if s.fallbackReason != "" {
		return s.refuse(KindFallback, id, "fallback: "+s.fallbackReason, at)
	}
	st := s.hps.State()
	if st.Phase.IsReset() {
		return s.refuse(KindDenied, id, fmt.Sprintf("reset protocol in progress (%s)", st.Phase), at)
	}
	if p.ModeAtStart.Exceeds(st.Mode) {
		return s.refuse(KindDenied, id, fmt.Sprintf("mode_at_start %s above current mode %s", p.ModeAtStart, st.Mode), at)
	}
	if p.Pattern == state.PatternCTX {
		if !s.sched.Verdict(at).PermitsCTX() {
			return s.refuse(KindDenied, id, "CTX outside legal window", at)
		}
		day := s.day(at)
		n, err := s.reg.CTXCountForDay(day)
		if err != nil {
			return Decision{}, err
		}
		if n > 0 {
			return s.refuse(KindDenied, id, fmt.Sprintf("CTX block already used for %s", day), at)
		}
	}

	contract := &artifact.TimeBlock{
		Header:       artifact.NewHeader(artifact.SchemaTimeBlock),
		BlockID:      id,
		SessionID:    s.sessionID,
		WorkPattern:  p.Pattern,
		ModeAtStart:  p.ModeAtStart,
		AllowedPaths: p.AllowedPaths,
		IllegalMoves: p.IllegalMoves,
		Budgets:      p.Budgets,
		State:        state.BlockDefined,
		DefinedAt:    artifact.Stamp(at),
	}
	if err := contract.Validate(); err != nil {
		return Decision{}, fmt.Errorf("define: %w", err)
	}
	if err := s.writeContract(contract); err != nil {
		return Decision{}, err
	}
	if err := s.reg.InsertBlock(registry.BlockRow{
		BlockID:     id,
		SessionID:   s.sessionID,
		WorkPattern: p.Pattern,
		ModeAtStart: p.ModeAtStart,
		State:       state.BlockDefined,
		Day:         s.day(at),
		DefinedAt:   contract.DefinedAt,
	}); err != nil {
		return Decision{}, err
	}
	if err := s.appendEvent(s.event(ledger.EventBlockDefined, id, at)); err != nil {
		return Decision{}, err
	}
	log.Printf("[BLOCK] defined %s pattern=%s mode=%s", id, p.Pattern, p.ModeAtStart)
	return Decision{Kind: KindGranted, BlockID: id, Contract: contract}, nil
}

// refuse ledgers one denial or fallback and returns the matching decision.
// The error return covers journal machinery only.
func (s *Supervisor) refuse(kind DecisionKind, blockID, reason string, at time.Time) (Decision, error) {
	e := s.event(ledger.EventBlockDenied, blockID, at)
	e.Reason = reason
	if err := s.appendEvent(e); err != nil {
		return Decision{}, err
	}
	log.Printf("[BLOCK] %s %s: %s", kind, blockID, reason)
	return Decision{Kind: kind, BlockID: blockID, Reason: reason}, nil
}

// #endregion define

// #region tick

// Tick folds one tick's O-test results through the plant, journals the
// transition, and enforces the coupling rule: no block continues above the
// ceiling the plant now reports, and a policy force-close sweeps whatever is
// open. A mandated reset protocol starts before the call returns.
func (s *Supervisor) Tick(results []otest.Result, at time.Time) (TickReport, error) {
	inWindow := s.sched.Verdict(at).PermitsCTX()
	acts, err := s.hps.OnTickEnd(results, at, inWindow)
	if err != nil {
		return TickReport{}, err
	}
	summary := otest.Summarize(results)
	e := s.event(ledger.EventTickEnd, "", at)
	e.Summary = &summary
	if err := s.appendEvent(e); err != nil {
		return TickReport{}, err
	}
	if err := s.reg.SaveSession(s.hps.State()); err != nil {
		return TickReport{}, err
	}

	report := TickReport{Actions: acts}
	defined, err := s.reg.DefinedBlocks(s.sessionID)
	if err != nil {
		return report, err
	}
	mode := s.hps.State().Mode
	for _, row := range defined {
		var reason string
		switch {
		case acts.ForceCloseBlock:
			reason = "forced: policy force_close_block"
		case row.ModeAtStart.Exceeds(mode):
			reason = fmt.Sprintf("forced: mode_at_start %s above current mode %s", row.ModeAtStart, mode)
		default:
			continue
		}
		if _, err := s.closeDefined(row, reason, at); err != nil {
			return report, err
		}
		report.ForceClosed = append(report.ForceClosed, row.BlockID)
	}

	if acts.RunResetProtocol {
		if _, err := s.BeginReset(at); err != nil {
			return report, err
		}
	}
	return report, nil
}

// #endregion tick

// #region reset

// BeginReset enters the reset protocol, whether mandated by a tick or chosen
// by the operator.
func (s *Supervisor) BeginReset(at time.Time) (state.TimerPhase, error) {
	phase, err := s.hps.BeginReset(at)
	if err != nil {
		return "", err
	}
	if err := s.appendEvent(s.event(ledger.EventResetStart, "", at)); err != nil {
		return "", err
	}
	if err := s.reg.SaveSession(s.hps.State()); err != nil {
		return "", err
	}
	log.Printf("[BLOCK] reset started: %s", phase)
	return phase, nil
}

// EndReset closes the reset protocol with fresh O-test results and journals
// the re-derived state.
func (s *Supervisor) EndReset(results []otest.Result, at time.Time) error {
	if err := s.hps.EndReset(results, at); err != nil {
		return err
	}
	summary := otest.Summarize(results)
	e := s.event(ledger.EventResetEnd, "", at)
	e.Summary = &summary
	if err := s.appendEvent(e); err != nil {
		return err
	}
	if err := s.reg.SaveSession(s.hps.State()); err != nil {
		return err
	}
	st := s.hps.State()
	log.Printf("[BLOCK] reset complete: band=%s mode=%s resets=%d", st.Band, st.Mode, st.ResetCount)
	return nil
}

// #endregion reset

// #region boundary

// EnforceBoundary checks one intended path against the active block's
// contract. Violations are advisory: tallied and logged, never blocking.
// With no active block there is nothing to enforce.
func (s *Supervisor) EnforceBoundary(path string) (*boundary.Violation, error) {
	row, limits, err := s.activeLimits()
	if err != nil || row == nil {
		return nil, err
	}
	v := limits.CheckPath(path)
	if v == nil {
		return nil, nil
	}
	if err := s.reg.AddBoundaryViolation(row.BlockID); err != nil {
		return nil, err
	}
	log.Printf("[BLOCK] boundary violation on %s: %s %v", row.BlockID, v.Code, v.Paths)
	return v, nil
}

// AuditDiff checks a whole change set against the active contract, budgets
// included. Each violation tallies once.
func (s *Supervisor) AuditDiff(changedPaths []string, changedLines int) ([]boundary.Violation, error) {
	row, limits, err := s.activeLimits()
	if err != nil || row == nil {
		return nil, err
	}
	vs := limits.CheckDiff(changedPaths, changedLines)
	for range vs {
		if err := s.reg.AddBoundaryViolation(row.BlockID); err != nil {
			return nil, err
		}
	}
	if len(vs) > 0 {
		log.Printf("[BLOCK] diff audit on %s: %d violation(s)", row.BlockID, len(vs))
	}
	return vs, nil
}

// activeLimits resolves the active block and the limits of its stored
// contract.
func (s *Supervisor) activeLimits() (*registry.BlockRow, boundary.Limits, error) {
	row, err := s.reg.ActiveBlock(s.sessionID)
	if err != nil || row == nil {
		return nil, boundary.Limits{}, err
	}
	contract, err := artifact.ReadTimeBlock(s.blockPath(row.BlockID))
	if err != nil {
		return nil, boundary.Limits{}, err
	}
	return row, contract.Limits(), nil
}

// #endregion boundary

// #region close

// CloseBlock closes one DEFINED block and returns its end pointer.
func (s *Supervisor) CloseBlock(blockID string, at time.Time) (state.EndPointer, error) {
	row, err := s.lookup(blockID)
	if err != nil {
		return state.EndPointer{}, err
	}
	return s.closeDefined(row, "", at)
}

// lookup fetches a block row, mapping absence and non-DEFINED states to
// UnknownBlockError.
func (s *Supervisor) lookup(blockID string) (registry.BlockRow, error) {
	row, err := s.reg.GetBlock(blockID)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.BlockRow{}, &UnknownBlockError{BlockID: blockID}
	}
	if err != nil {
		return registry.BlockRow{}, err
	}
	if row.SessionID != s.sessionID {
		return registry.BlockRow{}, fmt.Errorf("block %s belongs to session %s", blockID, row.SessionID)
	}
	if row.State != state.BlockDefined {
		return registry.BlockRow{}, &UnknownBlockError{BlockID: row.BlockID, State: row.State}
	}
	return row, nil
}

// closeDefined runs the close sequence for a row already known DEFINED:
// pointer artifact, contract rewrite, ledger event, then the registry
// transaction. The registry is derived data, so it commits last; artifacts
// and journal are the source of truth.
func (s *Supervisor) closeDefined(row registry.BlockRow, reason string, at time.Time) (state.EndPointer, error) {
	st := s.hps.State()
	ptr := state.EndPointer{
		BlockID:             row.BlockID,
		ModeAtEnd:           st.Mode,
		BandAtEnd:           st.Band,
		RecommendedNextMode: s.hps.RecommendNextMode(),
		Timestamp:           artifact.Stamp(at),
	}
	if err := s.writePointer(artifact.NewEndPointerRecord(ptr)); err != nil {
		return state.EndPointer{}, err
	}
	if err := s.closeContract(row.BlockID, ptr.Timestamp); err != nil {
		return state.EndPointer{}, err
	}
	e := s.event(ledger.EventBlockClosed, row.BlockID, at)
	e.Reason = reason
	if err := s.appendEvent(e); err != nil {
		return state.EndPointer{}, err
	}
	if err := s.reg.CloseBlock(ptr, at); err != nil {
		return state.EndPointer{}, err
	}
	if reason == "" {
		log.Printf("[BLOCK] closed %s: next ceiling %s", row.BlockID, ptr.RecommendedNextMode)
	} else {
		log.Printf("[BLOCK] closed %s (%s): next ceiling %s", row.BlockID, reason, ptr.RecommendedNextMode)
	}
	return ptr, nil
}

// closeContract rewrites the stored contract as CLOSED. The lifecycle state
// is the one field a contract may change.
func (s *Supervisor) closeContract(blockID string, closedAt time.Time) error {
	contract, err := artifact.ReadTimeBlock(s.blockPath(blockID))
	if err != nil {
		return err
	}
	contract.State = state.BlockClosed
	contract.ClosedAt = &closedAt
	return artifact.WriteFile(s.blockPath(blockID), contract)
}

// #endregion close

// #region journal

// event snapshots the plant state into a ledger entry. Callers fill Reason
// and Summary as needed.
func (s *Supervisor) event(t ledger.EventType, blockID string, at time.Time) *ledger.Event {
	st := s.hps.State()
	return &ledger.Event{
		TS:      artifact.Stamp(at),
		Phase:   st.Phase,
		Mode:    st.Mode,
		Band:    st.Band,
		BlockID: blockID,
		Type:    t,
	}
}

// NoteCheckpoint journals a CHECKPOINT_EMITTED event after the bundle lands.
func (s *Supervisor) NoteCheckpoint(at time.Time) error {
	return s.appendEvent(s.event(ledger.EventCheckpointEmitted, "", at))
}

// appendEvent applies the referential rule before the journal write: a
// block-scoped event must reference a block the registry knows as DEFINED.
// Denials are exempt; the id they carry names a refused proposal, not a
// contract.
func (s *Supervisor) appendEvent(e *ledger.Event) error {
	if e.BlockID != "" && e.Type != ledger.EventBlockDenied {
		row, err := s.reg.GetBlock(e.BlockID)
		if errors.Is(err, sql.ErrNoRows) {
			return &UnknownBlockError{BlockID: e.BlockID}
		}
		if err != nil {
			return fmt.Errorf("append %s: %w", e.Type, err)
		}
		if row.State != state.BlockDefined {
			return &UnknownBlockError{BlockID: e.BlockID, State: row.State}
		}
	}
	return s.journal.Append(e)
}

// #endregion journal

// #region paths

// day buckets a timestamp into the schedule's calendar day. CTX exclusivity
// counts days where the operator's schedule lives, not where the host does.
func (s *Supervisor) day(at time.Time) string {
	return at.In(s.sched.Location()).Format("2006-01-02")
}

func (s *Supervisor) blockPath(id string) string {
	return filepath.Join(s.dir, blocksDir, id+".json")
}

func (s *Supervisor) pointerPath(id string) string {
	return filepath.Join(s.dir, pointersDir, id+".json")
}

func (s *Supervisor) writeContract(b *artifact.TimeBlock) error {
	if err := os.MkdirAll(filepath.Join(s.dir, blocksDir), 0o755); err != nil {
		return fmt.Errorf("blocks dir: %w", err)
	}
	return artifact.WriteFile(s.blockPath(b.BlockID), b)
}

func (s *Supervisor) writePointer(r *artifact.EndPointerRecord) error {
	if err := os.MkdirAll(filepath.Join(s.dir, pointersDir), 0o755); err != nil {
		return fmt.Errorf("pointers dir: %w", err)
	}
	return artifact.WriteFile(s.pointerPath(r.BlockID), r)
}

// #endregion paths
