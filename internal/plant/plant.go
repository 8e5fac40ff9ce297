// Package plant is the human-plant supervisor: it owns the fatigue/mode state
// of one session and applies the policy catalog at every control point.
// Transitions only ever tighten within a work period; the reset boundary is
// the single place band and mode may be re-derived from fresh observations.
// The supervisor is pure state plus catalog lookups: persistence and ledger
// writes belong to callers.
package plant

// #region imports
import (
	"fmt"
	"log"
	"time"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #endregion

// #region preflight

// DeriveEntry classifies a batch and derives the entry mode under an
// optional ceiling (empty means unbounded). Preflight and the replay
// auditor's snapshot recompute share it, so the two can never drift.
func DeriveEntry(cat *catalog.Catalog, results []otest.Result, ceiling state.Mode) (band state.FatigueBand, mode state.Mode, failCount int) {
	failCount = otest.Summarize(results).FailCount()
	band = cat.Classify(failCount)
	mode = cat.PreflightMode(band)
	if ceiling != "" {
		mode = state.ClampMode(mode, ceiling)
	}
	// A RED ceiling inherited from a fatigued predecessor may not force RED
	// onto a rested operator: RED without fatigue is not a valid state, so the
	// clamp lands on YELLOW instead.
	if mode == state.ModeRed && band == state.BandOK {
		mode = state.ModeYellow
	}
	return band, mode, failCount
}

// Preflight evaluates session-entry O-test results into an immutable snapshot
// and the session's starting plant state. The prior end pointer, when
// present, caps the starting mode; when priorRequired is set a missing or
// invalid pointer is fatal rather than ignorable.
func Preflight(cat *catalog.Catalog, sessionID string, results []otest.Result, prior *state.EndPointer, priorRequired bool) (*artifact.PreflightSnapshot, state.PlantState, error) {
	if sessionID == "" {
		return nil, state.PlantState{}, fmt.Errorf("preflight: empty session id")
	}
	if len(results) == 0 {
		return nil, state.PlantState{}, fmt.Errorf("preflight %s: no o-test results", sessionID)
	}
	stamped := stampResults(results)
	for _, r := range stamped {
		if err := r.Validate(); err != nil {
			return nil, state.PlantState{}, fmt.Errorf("preflight %s: %w", sessionID, err)
		}
	}

	if priorRequired && prior == nil {
		return nil, state.PlantState{}, &InvalidPriorStateError{SessionID: sessionID, Reason: "no usable end pointer"}
	}
	var priorBlockID string
	var priorCeiling state.Mode
	if prior != nil {
		if err := prior.Validate(); err != nil {
			return nil, state.PlantState{}, &InvalidPriorStateError{SessionID: sessionID, Reason: "malformed end pointer", Err: err}
		}
		priorBlockID = prior.BlockID
		priorCeiling = prior.RecommendedNextMode
	}
	band, mode, failCount := DeriveEntry(cat, stamped, priorCeiling)

	snap := &artifact.PreflightSnapshot{
		Header:       artifact.NewHeader(artifact.SchemaPreflightSnapshot),
		SessionID:    sessionID,
		Results:      stamped,
		FailCount:    failCount,
		Band:         band,
		Mode:         mode,
		PriorBlockID: priorBlockID,
		PriorCeiling: priorCeiling,
		Timestamp:    artifact.Stamp(otest.Latest(stamped)),
	}
	id, err := artifact.ComputeSnapshotID(*snap)
	if err != nil {
		return nil, state.PlantState{}, fmt.Errorf("preflight %s: %w", sessionID, err)
	}
	snap.SnapshotID = id

	st := state.PlantState{
		SessionID: sessionID,
		Mode:      mode,
		Band:      band,
		Phase:     state.PhaseWork,
		StartMode: mode,
		UpdatedAt: snap.Timestamp,
	}
	if err := st.Validate(); err != nil {
		return nil, state.PlantState{}, fmt.Errorf("preflight %s: %w", sessionID, err)
	}
	log.Printf("[PLANT] preflight %s: %d fail, band %s, mode %s", sessionID, failCount, band, mode)
	return snap, st, nil
}

// stampResults canonicalizes observation timestamps so the snapshot hash is a
// pure function of the observations.
func stampResults(results []otest.Result) []otest.Result {
	out := make([]otest.Result, len(results))
	for i, r := range results {
		r.Timestamp = artifact.Stamp(r.Timestamp)
		out[i] = r
	}
	return out
}

// #endregion preflight

// #region supervisor

// Supervisor drives one session's plant state through ticks and resets.
type Supervisor struct {
	cat *catalog.Catalog
	st  state.PlantState
}

// NewSupervisor wraps an existing plant state, rejecting one that already
// violates the state invariants.
func NewSupervisor(cat *catalog.Catalog, st state.PlantState) (*Supervisor, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}
	return &Supervisor{cat: cat, st: st}, nil
}

// State returns the current plant state.
func (s *Supervisor) State() state.PlantState { return s.st }

// OnTickEnd folds a batch of tick-boundary O-test results into the session
// state and reports the actions the policy table mandates. Band only ratchets
// upward here; mode only tightens. The returned actions are demands on the
// caller, not effects already applied, except for the mode downgrade which is
// applied before returning.
func (s *Supervisor) OnTickEnd(results []otest.Result, at time.Time, inContextWindow bool) (Actions, error) {
	if s.st.Phase.IsReset() {
		return Actions{}, fmt.Errorf("tick %s: session is in %s", s.st.SessionID, s.st.Phase)
	}
	if len(results) == 0 {
		return Actions{}, fmt.Errorf("tick %s: no o-test results", s.st.SessionID)
	}

	band := state.MaxBand(s.st.Band, s.cat.Classify(otest.Summarize(results).FailCount()))
	tags := s.cat.RequiredActions(band, s.st.Mode, inContextWindow)

	var acts Actions
	mode := s.st.Mode
	for _, t := range tags {
		switch t {
		case catalog.ActionDowngradeMode:
			acts.DowngradeMode = true
			mode = mode.Downgrade()
		case catalog.ActionForceCloseBlock:
			acts.ForceCloseBlock = true
		case catalog.ActionRunResetProtocol:
			acts.RunResetProtocol = true
			acts.ResetPhase = s.cat.ResetPhase(s.st.ResetCount)
		}
	}
	// NEAR_LIMIT mandates a reset regardless of what the table says.
	if band == state.BandNearLimit && !acts.RunResetProtocol {
		acts.RunResetProtocol = true
		acts.ResetPhase = s.cat.ResetPhase(s.st.ResetCount)
	}

	next := s.st
	next.Band = band
	next.Mode = mode
	next.UpdatedAt = artifact.Stamp(at)
	if err := next.Validate(); err != nil {
		return Actions{}, fmt.Errorf("tick %s: %w", s.st.SessionID, err)
	}
	s.st = next
	if !acts.None() {
		log.Printf("[PLANT] tick %s: band %s, mode %s, actions %s", s.st.SessionID, band, mode, acts)
	}
	return acts, nil
}

// BeginReset moves the session into the reset phase the escalation chain
// selects for this reset count.
func (s *Supervisor) BeginReset(at time.Time) (state.TimerPhase, error) {
	if s.st.Phase.IsReset() {
		return "", fmt.Errorf("reset %s: already in %s", s.st.SessionID, s.st.Phase)
	}
	phase := s.cat.ResetPhase(s.st.ResetCount)
	s.st.Phase = phase
	s.st.UpdatedAt = artifact.Stamp(at)
	return phase, nil
}

// EndReset closes the reset protocol with fresh O-test results. This is the
// one boundary where band may drop and mode may relax, though never above the
// session's starting ceiling.
func (s *Supervisor) EndReset(results []otest.Result, at time.Time) error {
	if !s.st.Phase.IsReset() {
		return fmt.Errorf("reset %s: not in a reset phase", s.st.SessionID)
	}
	if len(results) == 0 {
		return fmt.Errorf("reset %s: no o-test results", s.st.SessionID)
	}

	band := s.cat.Classify(otest.Summarize(results).FailCount())
	// A session whose ceiling is already RED stays RED after the reset, and
	// RED presumes fatigue: the re-derived band floors at RISING.
	if s.st.StartMode == state.ModeRed && band == state.BandOK {
		band = state.BandRising
	}
	mode := state.ClampMode(s.cat.PreflightMode(band), s.st.StartMode)

	next := s.st
	next.Band = band
	next.Mode = mode
	next.Phase = state.PhaseWork
	next.ResetCount++
	next.UpdatedAt = artifact.Stamp(at)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("reset %s: %w", s.st.SessionID, err)
	}
	s.st = next
	return nil
}

// RecommendNextMode is the ceiling handed to the next session when a block
// closes under the current band.
func (s *Supervisor) RecommendNextMode() state.Mode {
	return s.cat.NextSessionCeiling(s.st.Band)
}

// #endregion supervisor
