package plant

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

var testBase = time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)

func res(id string, outcome otest.Outcome, min int) otest.Result {
	return otest.Result{TestID: id, Outcome: outcome, Timestamp: testBase.Add(time.Duration(min) * time.Minute)}
}

func passBatch() []otest.Result {
	return []otest.Result{
		res("vis-track", otest.OutcomePass, 0),
		res("recall-3", otest.OutcomePass, 1),
	}
}

func failBatch(fails int) []otest.Result {
	out := []otest.Result{res("vis-track", otest.OutcomePass, 0)}
	for i := 0; i < fails; i++ {
		out = append(out, res("recall-3", otest.OutcomeFail, i+1))
	}
	return out
}

func greenPointer() *state.EndPointer {
	return &state.EndPointer{
		BlockID:             "blk-prev",
		ModeAtEnd:           state.ModeGreen,
		BandAtEnd:           state.BandOK,
		RecommendedNextMode: state.ModeGreen,
		Timestamp:           testBase.Add(-12 * time.Hour),
	}
}

func TestPreflightCleanEntry(t *testing.T) {
	cat := catalog.DefaultCatalog()
	snap, st, err := Preflight(cat, "ses-1", passBatch(), nil, false)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if st.Band != state.BandOK || st.Mode != state.ModeGreen {
		t.Fatalf("clean entry: got %s/%s, want OK/GREEN", st.Band, st.Mode)
	}
	if st.Phase != state.PhaseWork || st.ResetCount != 0 {
		t.Fatalf("fresh session: phase %s resets %d", st.Phase, st.ResetCount)
	}
	if st.StartMode != state.ModeGreen {
		t.Fatalf("start ceiling: got %s, want GREEN", st.StartMode)
	}
	if snap.FailCount != 0 {
		t.Fatalf("fail count: got %d, want 0", snap.FailCount)
	}
	if err := snap.Validate(); err != nil {
		t.Fatalf("snapshot does not validate: %v", err)
	}
}

func TestPreflightTwoFailsNearLimit(t *testing.T) {
	// Two fails out of three classify NEAR_LIMIT, and a permissive pointer
	// from yesterday does not soften that: ceilings cap permissiveness, they
	// never grant it.
	cat := catalog.DefaultCatalog()
	batch := []otest.Result{
		res("vis-track", otest.OutcomeFail, 0),
		res("recall-3", otest.OutcomeFail, 1),
		res("stand-steady", otest.OutcomePass, 2),
	}
	snap, st, err := Preflight(cat, "ses-1", batch, greenPointer(), true)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if snap.FailCount != 2 || st.Band != state.BandNearLimit {
		t.Fatalf("got %d fails/%s, want 2/NEAR_LIMIT", snap.FailCount, st.Band)
	}
	if st.Mode != state.ModeYellow {
		t.Fatalf("mode: got %s, want YELLOW", st.Mode)
	}
	if snap.PriorBlockID != "blk-prev" || snap.PriorCeiling != state.ModeGreen {
		t.Fatalf("prior provenance missing: %q/%s", snap.PriorBlockID, snap.PriorCeiling)
	}
}

func TestPreflightUncertainCountsAsFail(t *testing.T) {
	cat := catalog.DefaultCatalog()
	batch := []otest.Result{res("vis-track", otest.OutcomeUncertain, 0)}
	snap, st, err := Preflight(cat, "ses-1", batch, nil, false)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if snap.FailCount != 1 || st.Band != state.BandRising {
		t.Fatalf("UNCERTAIN must classify as FAIL: got %d/%s", snap.FailCount, st.Band)
	}
}

func TestPreflightPointerCapsMode(t *testing.T) {
	cat := catalog.DefaultCatalog()
	ptr := greenPointer()
	ptr.RecommendedNextMode = state.ModeYellow
	_, st, err := Preflight(cat, "ses-1", passBatch(), ptr, true)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if st.Mode != state.ModeYellow || st.StartMode != state.ModeYellow {
		t.Fatalf("YELLOW pointer must cap a clean entry: got %s/%s", st.Mode, st.StartMode)
	}
	if st.Band != state.BandOK {
		t.Fatalf("band is observation-derived, not pointer-derived: got %s", st.Band)
	}
}

func TestPreflightRedPointerRestedOperator(t *testing.T) {
	// RED without fatigue is not a representable state, so a RED ceiling over
	// an OK band lands on YELLOW.
	cat := catalog.DefaultCatalog()
	ptr := greenPointer()
	ptr.BandAtEnd = state.BandNearLimit
	ptr.ModeAtEnd = state.ModeRed
	ptr.RecommendedNextMode = state.ModeRed
	_, st, err := Preflight(cat, "ses-1", passBatch(), ptr, true)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if st.Mode != state.ModeYellow || st.Band != state.BandOK {
		t.Fatalf("got %s/%s, want YELLOW/OK", st.Mode, st.Band)
	}
}

func TestPreflightMissingPointerFatal(t *testing.T) {
	cat := catalog.DefaultCatalog()
	_, _, err := Preflight(cat, "ses-1", passBatch(), nil, true)
	var inv *InvalidPriorStateError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidPriorStateError, got %v", err)
	}
	if inv.SessionID != "ses-1" {
		t.Fatalf("error names wrong session: %s", inv.SessionID)
	}
}

func TestPreflightMalformedPointerFatal(t *testing.T) {
	cat := catalog.DefaultCatalog()
	ptr := greenPointer()
	ptr.BlockID = ""
	_, _, err := Preflight(cat, "ses-1", passBatch(), ptr, true)
	var inv *InvalidPriorStateError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidPriorStateError, got %v", err)
	}
}

func TestPreflightSnapshotIdempotent(t *testing.T) {
	// Same observations, same prior: byte-identical artifact, same id.
	cat := catalog.DefaultCatalog()
	first, _, err := Preflight(cat, "ses-1", failBatch(1), greenPointer(), true)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	second, _, err := Preflight(cat, "ses-1", failBatch(1), greenPointer(), true)
	if err != nil {
		t.Fatalf("replay preflight: %v", err)
	}
	if first.SnapshotID != second.SnapshotID {
		t.Fatalf("snapshot ids differ: %s vs %s", first.SnapshotID, second.SnapshotID)
	}
	a, _ := artifact.Encode(first)
	b, _ := artifact.Encode(second)
	if !bytes.Equal(a, b) {
		t.Fatal("replayed snapshot is not byte-identical")
	}

	third, _, err := Preflight(cat, "ses-1", failBatch(2), greenPointer(), true)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if third.SnapshotID == first.SnapshotID {
		t.Fatal("different inputs hashed to the same snapshot id")
	}
}

func TestPreflightRejectsEmptyBatch(t *testing.T) {
	cat := catalog.DefaultCatalog()
	if _, _, err := Preflight(cat, "ses-1", nil, nil, false); err == nil {
		t.Fatal("expected error for empty result batch")
	}
}

func newTestSupervisor(t *testing.T, st state.PlantState) *Supervisor {
	t.Helper()
	s, err := NewSupervisor(catalog.DefaultCatalog(), st)
	if err != nil {
		t.Fatalf("supervisor: %v", err)
	}
	return s
}

func freshState() state.PlantState {
	return state.PlantState{
		SessionID: "ses-1",
		Mode:      state.ModeGreen,
		Band:      state.BandOK,
		Phase:     state.PhaseWork,
		StartMode: state.ModeGreen,
		UpdatedAt: testBase,
	}
}

func TestTickBandRatchet(t *testing.T) {
	s := newTestSupervisor(t, freshState())

	acts, err := s.OnTickEnd(failBatch(1), testBase.Add(30*time.Minute), false)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !acts.DowngradeMode {
		t.Fatalf("RISING/GREEN must downgrade: got %s", acts)
	}
	if got := s.State(); got.Band != state.BandRising || got.Mode != state.ModeYellow {
		t.Fatalf("after tick: %s/%s, want RISING/YELLOW", got.Band, got.Mode)
	}

	// A clean later batch does not lower the band mid-session.
	acts, err = s.OnTickEnd(passBatch(), testBase.Add(60*time.Minute), false)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !acts.None() {
		t.Fatalf("RISING/YELLOW cell is quiet: got %s", acts)
	}
	if got := s.State(); got.Band != state.BandRising || got.Mode != state.ModeYellow {
		t.Fatalf("band relaxed mid-session: %s/%s", got.Band, got.Mode)
	}
}

func TestTickNearLimitDemandsReset(t *testing.T) {
	s := newTestSupervisor(t, freshState())
	acts, err := s.OnTickEnd(failBatch(2), testBase.Add(30*time.Minute), false)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !acts.DowngradeMode || !acts.RunResetProtocol {
		t.Fatalf("NEAR_LIMIT/GREEN: got %s", acts)
	}
	if acts.ResetPhase != state.PhaseResetShort {
		t.Fatalf("first reset phase: got %s, want RESET_SHORT", acts.ResetPhase)
	}
	if got := s.State(); got.Mode != state.ModeYellow {
		t.Fatalf("mode after downgrade: got %s", got.Mode)
	}
}

func TestTickContextWindowForceClose(t *testing.T) {
	// The RED row only force-closes inside a context window.
	st := freshState()
	st.Mode, st.StartMode = state.ModeRed, state.ModeRed
	st.Band = state.BandNearLimit

	s := newTestSupervisor(t, st)
	acts, err := s.OnTickEnd(failBatch(2), testBase.Add(time.Hour), true)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !acts.ForceCloseBlock || !acts.RunResetProtocol {
		t.Fatalf("NEAR_LIMIT/RED in context window: got %s", acts)
	}

	s = newTestSupervisor(t, st)
	acts, err = s.OnTickEnd(failBatch(2), testBase.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if acts.ForceCloseBlock {
		t.Fatalf("outside the window force-close must not fire: got %s", acts)
	}
}

func TestTickModeNeverRelaxes(t *testing.T) {
	st := freshState()
	st.Mode = state.ModeYellow
	st.Band = state.BandRising
	s := newTestSupervisor(t, st)

	if _, err := s.OnTickEnd(passBatch(), testBase.Add(time.Hour), false); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := s.State().Mode; got != state.ModeYellow {
		t.Fatalf("mode relaxed on a clean tick: %s", got)
	}
}

func TestTickRejectedDuringReset(t *testing.T) {
	st := freshState()
	st.Phase = state.PhaseResetShort
	s := newTestSupervisor(t, st)
	if _, err := s.OnTickEnd(passBatch(), testBase, false); err == nil {
		t.Fatal("expected error for tick inside a reset phase")
	}
}

func TestResetLifecycle(t *testing.T) {
	s := newTestSupervisor(t, freshState())
	if _, err := s.OnTickEnd(failBatch(2), testBase.Add(30*time.Minute), false); err != nil {
		t.Fatalf("tick: %v", err)
	}

	phase, err := s.BeginReset(testBase.Add(31 * time.Minute))
	if err != nil {
		t.Fatalf("begin reset: %v", err)
	}
	if phase != state.PhaseResetShort {
		t.Fatalf("phase: got %s, want RESET_SHORT", phase)
	}
	if got := s.State().Phase; got != state.PhaseResetShort {
		t.Fatalf("state phase: got %s", got)
	}

	// Fresh clean observations after the reset may relax band and mode, up to
	// the session ceiling.
	if err := s.EndReset(passBatch(), testBase.Add(40*time.Minute)); err != nil {
		t.Fatalf("end reset: %v", err)
	}
	got := s.State()
	if got.Band != state.BandOK || got.Mode != state.ModeGreen {
		t.Fatalf("after reset: %s/%s, want OK/GREEN", got.Band, got.Mode)
	}
	if got.Phase != state.PhaseWork || got.ResetCount != 1 {
		t.Fatalf("after reset: phase %s resets %d", got.Phase, got.ResetCount)
	}
}

func TestSecondResetEscalates(t *testing.T) {
	s := newTestSupervisor(t, freshState())

	for i, want := range []state.TimerPhase{state.PhaseResetShort, state.PhaseResetLong} {
		at := testBase.Add(time.Duration(i+1) * time.Hour)
		if _, err := s.OnTickEnd(failBatch(2), at, false); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
		phase, err := s.BeginReset(at.Add(time.Minute))
		if err != nil {
			t.Fatalf("begin reset %d: %v", i, err)
		}
		if phase != want {
			t.Fatalf("reset %d: got %s, want %s", i, phase, want)
		}
		if err := s.EndReset(passBatch(), at.Add(10*time.Minute)); err != nil {
			t.Fatalf("end reset %d: %v", i, err)
		}
	}
}

func TestEndResetHonorsCeiling(t *testing.T) {
	// A session that started YELLOW cannot relax past it, however clean the
	// post-reset observations.
	st := freshState()
	st.Mode, st.StartMode = state.ModeYellow, state.ModeYellow
	st.Band = state.BandNearLimit
	st.Phase = state.PhaseResetShort
	s := newTestSupervisor(t, st)

	if err := s.EndReset(passBatch(), testBase.Add(time.Hour)); err != nil {
		t.Fatalf("end reset: %v", err)
	}
	got := s.State()
	if got.Mode != state.ModeYellow {
		t.Fatalf("mode rose past the session ceiling: %s", got.Mode)
	}
	if got.Band != state.BandOK {
		t.Fatalf("band: got %s, want OK", got.Band)
	}
}

func TestEndResetRedCeilingFloorsBand(t *testing.T) {
	st := freshState()
	st.Mode, st.StartMode = state.ModeRed, state.ModeRed
	st.Band = state.BandNearLimit
	st.Phase = state.PhaseResetLong
	s := newTestSupervisor(t, st)

	if err := s.EndReset(passBatch(), testBase.Add(time.Hour)); err != nil {
		t.Fatalf("end reset: %v", err)
	}
	got := s.State()
	if got.Mode != state.ModeRed || got.Band != state.BandRising {
		t.Fatalf("RED-ceiling reset: got %s/%s, want RED/RISING", got.Mode, got.Band)
	}
}

func TestResetPhaseDiscipline(t *testing.T) {
	st := freshState()
	st.Phase = state.PhaseResetShort
	s := newTestSupervisor(t, st)
	if _, err := s.BeginReset(testBase); err == nil {
		t.Fatal("expected error: reset already underway")
	}

	s = newTestSupervisor(t, freshState())
	if err := s.EndReset(passBatch(), testBase); err == nil {
		t.Fatal("expected error: no reset underway")
	}
}

func TestRecommendNextMode(t *testing.T) {
	tests := []struct {
		band state.FatigueBand
		want state.Mode
	}{
		{state.BandOK, state.ModeGreen},
		{state.BandRising, state.ModeYellow},
		{state.BandNearLimit, state.ModeYellow},
	}
	for _, tt := range tests {
		st := freshState()
		st.Band = tt.band
		if tt.band != state.BandOK {
			st.Mode, st.StartMode = state.ModeYellow, state.ModeYellow
		}
		s := newTestSupervisor(t, st)
		if got := s.RecommendNextMode(); got != tt.want {
			t.Errorf("band %s: got %s, want %s", tt.band, got, tt.want)
		}
	}
}

func TestNewSupervisorRejectsInvalidState(t *testing.T) {
	st := freshState()
	st.Mode = state.ModeRed // RED over an OK band
	st.StartMode = state.ModeRed
	if _, err := NewSupervisor(catalog.DefaultCatalog(), st); err == nil {
		t.Fatal("expected error for RED mode with OK band")
	}
}
