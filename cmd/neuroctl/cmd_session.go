package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/checkpoint"
	"github.com/fatb4f/neuroctrl/internal/config"
	"github.com/fatb4f/neuroctrl/internal/ledger"
	"github.com/fatb4f/neuroctrl/internal/plant"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #region preflight

var preflightCmd = &cobra.Command{
	Use:   "preflight id=outcome [id=outcome ...]",
	Short: "Open a session from an O-test batch",
	Long: `Evaluates a session-entry O-test batch into an immutable snapshot and
opens a new session at the derived mode. The previous session's end pointer,
when one exists, caps how permissive the entry mode may be. Outcomes are PASS,
FAIL, or UNCERTAIN; anything unrecognizable counts as UNCERTAIN, and UNCERTAIN
counts as FAIL.

Example:
  neuroctl preflight vis-track=PASS recall-3=PASS`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPreflight,
}

func runPreflight(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	at := now()
	results, err := parseResults(args, at)
	if err != nil {
		return err
	}

	prior, err := c.reg.LatestPointer()
	if err != nil {
		return err
	}
	required, err := c.reg.HasClosedBlocks()
	if err != nil {
		return err
	}

	sessionID := mintSessionID(at)
	snap, st, err := plant.Preflight(c.cat, sessionID, results, prior, required)
	if err != nil {
		return err
	}

	dir := c.cfg.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session dir: %w", err)
	}
	if err := artifact.WriteFile(filepath.Join(dir, "preflight.json"), snap); err != nil {
		return err
	}
	if err := c.reg.BeginSession(st, snap.SnapshotID); err != nil {
		return err
	}

	fmt.Printf("Session %s open.\n", sessionID)
	fmt.Printf("  snapshot:  %s (%d results, %d fail)\n", snap.SnapshotID, len(snap.Results), snap.FailCount)
	fmt.Printf("  band/mode: %s / %s\n", snap.Band, snap.Mode)
	if snap.PriorCeiling != "" {
		fmt.Printf("  ceiling:   %s (from %s)\n", snap.PriorCeiling, snap.PriorBlockID)
	}
	return nil
}

// #endregion preflight

// #region otests

var otestsCmd = &cobra.Command{
	Use:   "otests [id]",
	Short: "List the catalog's O-test procedures",
	Long: `Prints the O-test procedures the active catalog defines, so the operator
knows what to run before a preflight or mid-session tick. With an id argument,
prints that procedure's full prompt. Needs no initialized plant directory: a
missing catalog file falls back to the built-in defaults.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runOTests,
}

func runOTests(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagPlantDir != "" {
		cfg.PlantDir = flagPlantDir
	}
	cat, err := catalog.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		return &config.ConfigError{Source: cfg.CatalogPath(), Err: err}
	}

	if len(args) == 1 {
		p, ok := cat.Procedure(args[0])
		if !ok {
			return fmt.Errorf("unknown o-test %q", args[0])
		}
		fmt.Printf("%s: %s (max %ds)\n", p.ID, p.Name, p.MaxSeconds)
		fmt.Printf("  %s\n", p.Prompt)
		return nil
	}

	if len(cat.Procedures) == 0 {
		fmt.Println("(none)")
		return nil
	}
	fmt.Printf("%-14s  %-20s  %4s  %s\n", "ID", "Name", "Max", "Prompt")
	for _, p := range cat.Procedures {
		fmt.Printf("%-14s  %-20s  %3ds  %s\n", p.ID, p.Name, p.MaxSeconds, p.Prompt)
	}
	return nil
}

// #endregion otests

// #region checkpoint

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Emit the checkpoint bundle for the session",
	Long: `Verifies the session ledger, folds it into a session summary, and writes
the checkpoint bundle (checkpoint.json, checkpoint.md, manifest.json,
manifest.sha256) for the external actuator. The controller only emits; it
never calls the actuator.`,
	Args: cobra.NoArgs,
	RunE: runCheckpoint,
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	sessionID, err := c.sessionID()
	if err != nil {
		return err
	}
	sup, err := c.supervisor(sessionID)
	if err != nil {
		return err
	}

	journal, err := ledger.Open(c.cfg.SessionDir(sessionID), sessionID, c.cfg.LedgerConfig())
	if err != nil {
		return err
	}
	events, err := journal.ReadVerified()
	if err != nil {
		return err
	}

	ptr, err := sessionPointer(c, events)
	if err != nil {
		return err
	}
	violations, err := c.reg.BoundaryViolations(sessionID)
	if err != nil {
		return err
	}

	at := now()
	cp := checkpoint.Build(sessionID, events, ptr, violations, at)
	path, err := checkpoint.Emit(c.cfg.CheckpointDir(sessionID), cp)
	if err != nil {
		return err
	}
	if err := sup.NoteCheckpoint(at); err != nil {
		return err
	}

	s := cp.Summary
	fmt.Printf("Checkpoint emitted: %s\n", path)
	fmt.Printf("  blocks: %d defined, %d denied, %d closed\n", s.BlocksDefined, s.BlocksDenied, s.BlocksClosed)
	fmt.Printf("  ticks:  %d (%d resets, %d fallbacks, %d boundary violations)\n", s.Ticks, s.Resets, s.Fallbacks, s.BoundaryViolations)
	if cp.Pointer != nil {
		fmt.Printf("  pointer: %s ends %s, next ceiling %s\n", cp.Pointer.BlockID, cp.Pointer.ModeAtEnd, cp.Pointer.RecommendedNextMode)
	}
	return nil
}

// sessionPointer finds the pointer for the session's most recently closed
// block, or nil when the session closed nothing.
func sessionPointer(c *controller, events []ledger.Event) (*state.EndPointer, error) {
	var lastClosed string
	for _, e := range events {
		if e.Type == ledger.EventBlockClosed {
			lastClosed = e.BlockID
		}
	}
	if lastClosed == "" {
		return nil, nil
	}
	return c.reg.PointerFor(lastClosed)
}

// #endregion checkpoint
