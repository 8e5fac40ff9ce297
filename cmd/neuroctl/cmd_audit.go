package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/ledger"
	"github.com/fatb4f/neuroctrl/internal/notes"
	"github.com/fatb4f/neuroctrl/internal/replay"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #region replay

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Re-derive the session from its record and flag divergence",
	Long: `Loads the session's snapshot, ledger, contracts, and pointers, re-derives
every state transition under the catalog in force, and reports each audit
check. A clean record exits 0; any divergence (an edited ledger, a snapshot
that no longer recomputes, a relaxation outside a reset boundary) exits 1.`,
	Args: cobra.NoArgs,
	RunE: runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	sessionID, err := c.sessionID()
	if err != nil {
		return err
	}
	r := replay.Audit(c.cat, c.cfg.SessionDir(sessionID), sessionID)
	fmt.Print(replay.Render(r))
	if !r.Passed() {
		return fmt.Errorf("session %s: record diverges from its policy", sessionID)
	}
	return nil
}

// #endregion replay

// #region inspect

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the session's state, journal, and blocks",
	Long: `Shows the current plant state, the event journal, and every block of the
session. The journal is shown as written; run 'neuroctl replay' to verify it.
A snapshot reported missing or invalid means the session runs notes-only.`,
	Args: cobra.NoArgs,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "output as JSON instead of tables")
}

type plantView struct {
	Mode       state.Mode        `json:"mode"`
	Band       state.FatigueBand `json:"fatigue_band"`
	Phase      state.TimerPhase  `json:"timer_phase"`
	StartMode  state.Mode        `json:"start_mode"`
	ResetCount int               `json:"reset_count"`
}

type blockView struct {
	BlockID    string            `json:"block_id"`
	Pattern    state.WorkPattern `json:"work_pattern"`
	Mode       state.Mode        `json:"mode_at_start"`
	State      state.BlockState  `json:"state"`
	DefinedAt  string            `json:"defined_at"`
	ClosedAt   string            `json:"closed_at,omitempty"`
	Violations int               `json:"boundary_violations"`
}

type sessionView struct {
	SessionID  string         `json:"session_id"`
	SnapshotID string         `json:"snapshot_id"`
	Snapshot   string         `json:"snapshot_health"`
	Plant      plantView      `json:"plant"`
	Notes      int            `json:"notes"`
	Events     []ledger.Event `json:"events"`
	Blocks     []blockView    `json:"blocks"`
}

func runInspect(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	sessionID, err := c.sessionID()
	if err != nil {
		return err
	}
	st, snapID, err := c.reg.LoadSession(sessionID)
	if err != nil {
		return err
	}

	dir := c.cfg.SessionDir(sessionID)
	journal, err := ledger.Open(dir, sessionID, c.cfg.LedgerConfig())
	if err != nil {
		return err
	}
	events, err := journal.Read()
	if err != nil {
		return err
	}
	rows, err := c.reg.SessionBlocks(sessionID)
	if err != nil {
		return err
	}
	noteCount, err := c.notes.Count(sessionID)
	if err != nil {
		return err
	}

	view := sessionView{
		SessionID:  sessionID,
		SnapshotID: snapID,
		Snapshot:   snapshotHealth(filepath.Join(dir, "preflight.json")),
		Plant: plantView{
			Mode:       st.Mode,
			Band:       st.Band,
			Phase:      st.Phase,
			StartMode:  st.StartMode,
			ResetCount: st.ResetCount,
		},
		Notes:  noteCount,
		Events: events,
	}
	for _, row := range rows {
		bv := blockView{
			BlockID:    row.BlockID,
			Pattern:    row.WorkPattern,
			Mode:       row.ModeAtStart,
			State:      row.State,
			DefinedAt:  row.DefinedAt.Format("2006-01-02T15:04:05Z"),
			Violations: row.BoundaryViolations,
		}
		if row.ClosedAt != nil {
			bv.ClosedAt = row.ClosedAt.Format("2006-01-02T15:04:05Z")
		}
		view.Blocks = append(view.Blocks, bv)
	}

	if inspectJSON {
		return printJSON(view)
	}
	printSessionView(view)
	return nil
}

// snapshotHealth describes whether the preflight snapshot still reads back.
func snapshotHealth(path string) string {
	_, err := artifact.ReadPreflightSnapshot(path)
	var se *artifact.SchemaError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &se):
		return "invalid (notes-only)"
	case errors.Is(err, fs.ErrNotExist):
		return "missing (notes-only)"
	default:
		return err.Error()
	}
}

func printSessionView(v sessionView) {
	fmt.Printf("Session:   %s\n", v.SessionID)
	fmt.Printf("Snapshot:  %s (%s)\n", v.SnapshotID, v.Snapshot)
	fmt.Printf("Mode:      %s (session ceiling %s)\n", v.Plant.Mode, v.Plant.StartMode)
	fmt.Printf("Band:      %s\n", v.Plant.Band)
	fmt.Printf("Phase:     %s\n", v.Plant.Phase)
	fmt.Printf("Resets:    %d\n", v.Plant.ResetCount)
	fmt.Printf("Notes:     %d\n", v.Notes)

	fmt.Printf("\nEvents:\n")
	if len(v.Events) == 0 {
		fmt.Println("  (none)")
	} else {
		fmt.Printf("  %-4s  %-20s  %-19s  %-7s  %-10s  %-11s  %-12s  %s\n",
			"Seq", "Time", "Type", "Mode", "Band", "Phase", "Block", "Reason")
		for _, e := range v.Events {
			block := e.BlockID
			if block == "" {
				block = "—"
			}
			reason := e.Reason
			if reason == "" {
				reason = "—"
			}
			fmt.Printf("  %-4d  %-20s  %-19s  %-7s  %-10s  %-11s  %-12s  %s\n",
				e.Seq, e.TS.Format("2006-01-02T15:04:05Z"), e.Type, e.Mode, e.Band, e.Phase, block, reason)
		}
	}

	fmt.Printf("\nBlocks:\n")
	if len(v.Blocks) == 0 {
		fmt.Println("  (none)")
		return
	}
	fmt.Printf("  %-12s  %-7s  %-7s  %-9s  %-20s  %-20s  %s\n",
		"Block", "Pattern", "Mode", "State", "Defined", "Closed", "Violations")
	for _, b := range v.Blocks {
		closed := b.ClosedAt
		if closed == "" {
			closed = "—"
		}
		fmt.Printf("  %-12s  %-7s  %-7s  %-9s  %-20s  %-20s  %d\n",
			b.BlockID, b.Pattern, b.Mode, b.State, b.DefinedAt, closed, b.Violations)
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// #endregion inspect

// #region export

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the session record as one JSON bundle",
	Long: `Packages the session's snapshot, ledger, contracts, pointers, notes, and
final plant state into a single JSON document for archival or hand-off. A
record with unreadable pieces does not export; run 'neuroctl replay' to see
what is wrong with it.`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "write the bundle to this file instead of stdout")
}

type exportBundle struct {
	SessionID string                       `json:"session_id"`
	Plant     plantView                    `json:"plant"`
	Snapshot  *artifact.PreflightSnapshot  `json:"preflight_snapshot"`
	Events    []ledger.Event               `json:"events"`
	Blocks    []*artifact.TimeBlock        `json:"blocks"`
	Pointers  []*artifact.EndPointerRecord `json:"pointers"`
	Notes     []notes.Note                 `json:"notes"`
}

func runExport(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	sessionID, err := c.sessionID()
	if err != nil {
		return err
	}
	st, _, err := c.reg.LoadSession(sessionID)
	if err != nil {
		return err
	}

	in, problems := replay.LoadDir(c.cfg.SessionDir(sessionID), sessionID)
	if len(problems) > 0 {
		return fmt.Errorf("%s: %s", problems[0].Name, problems[0].Detail)
	}
	noteList, err := c.notes.List(sessionID)
	if err != nil {
		return err
	}

	bundle := exportBundle{
		SessionID: sessionID,
		Plant: plantView{
			Mode:       st.Mode,
			Band:       st.Band,
			Phase:      st.Phase,
			StartMode:  st.StartMode,
			ResetCount: st.ResetCount,
		},
		Snapshot: in.Snapshot,
		Events:   in.Events,
		Blocks:   in.Blocks,
		Pointers: in.Pointers,
		Notes:    noteList,
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle: %w", err)
	}
	data = append(data, '\n')

	if exportOut == "" {
		fmt.Print(string(data))
		return nil
	}
	if err := os.WriteFile(exportOut, data, 0o644); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	fmt.Printf("Wrote session bundle to %s (%d bytes, %d events)\n", exportOut, len(data), len(bundle.Events))
	return nil
}

// #endregion export
