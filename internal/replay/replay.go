// Package replay re-derives a session from its persisted record and reports
// every property that must hold: ledger chain integrity, snapshot
// determinism, state-walk discipline, and block lifecycle consistency. It
// reads artifacts only; it never consults live supervisor state.
package replay

import (
	"bytes"
	"fmt"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/ledger"
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/plant"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #region types

// Check is the outcome of one audit property.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report aggregates all checks for one session.
type Report struct {
	SessionID string  `json:"session_id"`
	Checks    []Check `json:"checks"`
}

func (r *Report) add(c Check) { r.Checks = append(r.Checks, c) }

// Passed reports whether every check held.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failed returns only the checks that did not hold.
func (r Report) Failed() []Check {
	var out []Check
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Inputs is the persisted record of one session, loaded off disk or built
// in memory by tests.
type Inputs struct {
	Snapshot *artifact.PreflightSnapshot
	Events   []ledger.Event
	Blocks   []*artifact.TimeBlock
	Pointers []*artifact.EndPointerRecord
}

// #endregion types

// #region run

// Run audits a loaded session record against the full property set.
func Run(cat *catalog.Catalog, in Inputs) Report {
	var r Report
	if in.Snapshot != nil {
		r.SessionID = in.Snapshot.SessionID
	}

	// 1. Chain: every hash links, sequence numbers are dense.
	r.add(checkChain(in.Events))

	// 2. Snapshot: recompute from the recorded observations, byte for byte.
	r.add(checkSnapshot(cat, in.Snapshot))

	// 3. State walk: mode and band discipline over the event sequence.
	r.add(checkModeWalk(in.Snapshot, in.Events))
	r.add(checkBandWalk(in.Snapshot, in.Events))
	r.add(checkRedImpliesFatigue(in.Events))
	r.add(checkResetPairing(in.Events))

	// 4. Block record: events, contracts, and pointers tell one story.
	r.add(checkLifecycle(cat, in.Events, in.Blocks, in.Pointers))

	return r
}

// #endregion run

// #region checks

func checkChain(events []ledger.Event) Check {
	const name = "ledger_chain"
	if err := ledger.Verify(events); err != nil {
		return Check{Name: name, Detail: err.Error()}
	}
	return Check{Name: name, Passed: true, Detail: fmt.Sprintf("%d events", len(events))}
}

func checkSnapshot(cat *catalog.Catalog, snap *artifact.PreflightSnapshot) Check {
	const name = "snapshot_replay"
	if snap == nil {
		return Check{Name: name, Detail: "no snapshot in record"}
	}
	replayed, err := recomputeSnapshot(cat, snap)
	if err != nil {
		return Check{Name: name, Detail: err.Error()}
	}
	want, err := artifact.Encode(snap)
	if err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("encode stored snapshot: %v", err)}
	}
	got, err := artifact.Encode(replayed)
	if err != nil {
		return Check{Name: name, Detail: fmt.Sprintf("encode replayed snapshot: %v", err)}
	}
	if !bytes.Equal(want, got) {
		return Check{Name: name, Detail: "replayed snapshot differs from stored bytes"}
	}
	return Check{Name: name, Passed: true, Detail: snap.SnapshotID}
}

// recomputeSnapshot rebuilds the snapshot from its own recorded observations
// and prior ceiling, using the same derivation the live preflight uses.
func recomputeSnapshot(cat *catalog.Catalog, stored *artifact.PreflightSnapshot) (*artifact.PreflightSnapshot, error) {
	band, mode, failCount := plant.DeriveEntry(cat, stored.Results, stored.PriorCeiling)
	snap := &artifact.PreflightSnapshot{
		Header:       artifact.NewHeader(artifact.SchemaPreflightSnapshot),
		SessionID:    stored.SessionID,
		Results:      stored.Results,
		FailCount:    failCount,
		Band:         band,
		Mode:         mode,
		PriorBlockID: stored.PriorBlockID,
		PriorCeiling: stored.PriorCeiling,
		Timestamp:    artifact.Stamp(otest.Latest(stored.Results)),
	}
	id, err := artifact.ComputeSnapshotID(*snap)
	if err != nil {
		return nil, fmt.Errorf("recompute snapshot id: %w", err)
	}
	snap.SnapshotID = id
	return snap, nil
}

func checkModeWalk(snap *artifact.PreflightSnapshot, events []ledger.Event) Check {
	const name = "mode_monotonic"
	if snap == nil {
		return Check{Name: name, Detail: "no snapshot to anchor the walk"}
	}
	prev := snap.Mode
	for _, e := range events {
		if e.Type == ledger.EventResetEnd {
			// The reset boundary may relax mode, but never above the
			// session's entry mode.
			if e.Mode.Exceeds(snap.Mode) {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: post-reset mode %s above session entry mode %s", e.Seq, e.Mode, snap.Mode)}
			}
		} else if e.Mode.Exceeds(prev) {
			return Check{Name: name, Detail: fmt.Sprintf("seq %d: mode relaxed %s -> %s without a reset", e.Seq, prev, e.Mode)}
		}
		prev = e.Mode
	}
	return Check{Name: name, Passed: true}
}

func checkBandWalk(snap *artifact.PreflightSnapshot, events []ledger.Event) Check {
	const name = "band_monotonic"
	if snap == nil {
		return Check{Name: name, Detail: "no snapshot to anchor the walk"}
	}
	prev := snap.Band
	for _, e := range events {
		if e.Type != ledger.EventResetEnd && prev.WorseThan(e.Band) {
			return Check{Name: name, Detail: fmt.Sprintf("seq %d: band relaxed %s -> %s without a reset", e.Seq, prev, e.Band)}
		}
		prev = e.Band
	}
	return Check{Name: name, Passed: true}
}

func checkRedImpliesFatigue(events []ledger.Event) Check {
	const name = "red_implies_fatigue"
	for _, e := range events {
		if e.Mode == state.ModeRed && e.Band == state.BandOK {
			return Check{Name: name, Detail: fmt.Sprintf("seq %d: RED recorded with band OK", e.Seq)}
		}
	}
	return Check{Name: name, Passed: true}
}

func checkResetPairing(events []ledger.Event) Check {
	const name = "reset_pairing"
	inReset := false
	for _, e := range events {
		switch e.Type {
		case ledger.EventResetStart:
			if inReset {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: reset started inside a reset", e.Seq)}
			}
			if !e.Phase.IsReset() {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: reset start recorded in phase %s", e.Seq, e.Phase)}
			}
			inReset = true
		case ledger.EventResetEnd:
			if !inReset {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: reset ended without a start", e.Seq)}
			}
			if e.Phase != state.PhaseWork {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: reset end recorded in phase %s", e.Seq, e.Phase)}
			}
			inReset = false
		case ledger.EventTickEnd:
			if inReset {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: tick recorded during a reset", e.Seq)}
			}
		}
	}
	return Check{Name: name, Passed: true}
}

func checkLifecycle(cat *catalog.Catalog, events []ledger.Event, blocks []*artifact.TimeBlock, pointers []*artifact.EndPointerRecord) Check {
	const name = "block_lifecycle"

	defined := map[string]bool{}
	closedMode := map[string]state.Mode{}
	for _, e := range events {
		switch e.Type {
		case ledger.EventBlockDefined:
			if defined[e.BlockID] {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: block %s defined twice", e.Seq, e.BlockID)}
			}
			if _, done := closedMode[e.BlockID]; done {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: block %s reopened after close", e.Seq, e.BlockID)}
			}
			defined[e.BlockID] = true
		case ledger.EventBlockClosed:
			if !defined[e.BlockID] {
				return Check{Name: name, Detail: fmt.Sprintf("seq %d: block %s closed while not defined", e.Seq, e.BlockID)}
			}
			delete(defined, e.BlockID)
			closedMode[e.BlockID] = e.Mode
		}
	}

	ptrByID := map[string]*artifact.EndPointerRecord{}
	for _, p := range pointers {
		if ptrByID[p.BlockID] != nil {
			return Check{Name: name, Detail: fmt.Sprintf("duplicate pointer for block %s", p.BlockID)}
		}
		ptrByID[p.BlockID] = p
	}
	for id, mode := range closedMode {
		p := ptrByID[id]
		if p == nil {
			return Check{Name: name, Detail: fmt.Sprintf("closed block %s has no end pointer", id)}
		}
		if p.ModeAtEnd != mode {
			return Check{Name: name, Detail: fmt.Sprintf("pointer %s records mode_at_end %s, close event had %s", id, p.ModeAtEnd, mode)}
		}
		if p.RecommendedNextMode != cat.NextSessionCeiling(p.BandAtEnd) {
			return Check{Name: name, Detail: fmt.Sprintf("pointer %s recommendation %s disagrees with policy for band %s", id, p.RecommendedNextMode, p.BandAtEnd)}
		}
	}
	for id := range ptrByID {
		if _, ok := closedMode[id]; !ok {
			return Check{Name: name, Detail: fmt.Sprintf("pointer %s has no close event", id)}
		}
	}

	for _, b := range blocks {
		switch b.State {
		case state.BlockClosed:
			if _, ok := closedMode[b.BlockID]; !ok {
				return Check{Name: name, Detail: fmt.Sprintf("contract %s stored CLOSED without a close event", b.BlockID)}
			}
		case state.BlockDefined:
			if !defined[b.BlockID] {
				return Check{Name: name, Detail: fmt.Sprintf("contract %s stored DEFINED but ledger disagrees", b.BlockID)}
			}
		}
	}

	return Check{Name: name, Passed: true, Detail: fmt.Sprintf("%d closed, %d still defined", len(closedMode), len(defined))}
}

// #endregion checks
