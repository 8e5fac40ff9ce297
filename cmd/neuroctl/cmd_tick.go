package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// #region tick

var tickCmd = &cobra.Command{
	Use:   "tick id=outcome [id=outcome ...]",
	Short: "Fold a tick-boundary O-test batch into the session",
	Long: `Folds a mid-session O-test batch into the plant state. The fatigue band
only ratchets upward between resets, and the mode only tightens. A batch that
pushes the band to NEAR_LIMIT starts the mandated reset protocol immediately;
blocks whose mode the downgrade leaves stranded are force-closed in the same
tick.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTick,
}

func runTick(cmd *cobra.Command, args []string) error {
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

	at := now()
	results, err := parseResults(args, at)
	if err != nil {
		return err
	}

	rep, err := sup.Tick(results, at)
	if err != nil {
		return err
	}
	batch, err := c.writeBatch(sessionID, results)
	if err != nil {
		return err
	}

	st := sup.Plant()
	fmt.Printf("Tick folded: band %s, mode %s, phase %s.\n", st.Band, st.Mode, st.Phase)
	if !rep.Actions.None() {
		fmt.Printf("  actions: %s\n", rep.Actions)
	}
	for _, id := range rep.ForceClosed {
		fmt.Printf("  force-closed: %s\n", id)
	}
	if rep.Actions.RunResetProtocol {
		fmt.Printf("  reset underway: %s for %s, then 'neuroctl reset end' with fresh results\n",
			st.Phase, c.cat.ResetDuration(st.Phase))
	}
	fmt.Printf("  batch: %s\n", batch)
	return nil
}

// #endregion tick

// #region reset

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Enter or leave the reset protocol",
}

var resetBeginCmd = &cobra.Command{
	Use:   "begin",
	Short: "Enter the reset protocol voluntarily",
	Long: `Moves the session timer into the policy-selected reset phase. Ticks and
block definitions are rejected until 'reset end' re-derives the state from a
fresh O-test batch. Mandated resets (band at NEAR_LIMIT) start themselves at
the tick; this command is for resting before the policy forces it.`,
	Args: cobra.NoArgs,
	RunE: runResetBegin,
}

var resetEndCmd = &cobra.Command{
	Use:   "end id=outcome [id=outcome ...]",
	Short: "Leave the reset protocol with a fresh O-test batch",
	Long: `Re-derives band and mode from a post-rest O-test batch. This is the one
boundary where state may relax, and it never relaxes past the session's
starting mode.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResetEnd,
}

func init() {
	resetCmd.AddCommand(resetBeginCmd)
	resetCmd.AddCommand(resetEndCmd)
}

func runResetBegin(cmd *cobra.Command, args []string) error {
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

	phase, err := sup.BeginReset(now())
	if err != nil {
		return err
	}
	fmt.Printf("Reset protocol entered: %s for %s.\n", phase, c.cat.ResetDuration(phase))
	fmt.Println("Run 'neuroctl reset end' with fresh O-test results when done.")
	return nil
}

func runResetEnd(cmd *cobra.Command, args []string) error {
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

	at := now()
	results, err := parseResults(args, at)
	if err != nil {
		return err
	}
	if err := sup.EndReset(results, at); err != nil {
		return err
	}
	batch, err := c.writeBatch(sessionID, results)
	if err != nil {
		return err
	}

	st := sup.Plant()
	fmt.Printf("Reset complete: band %s, mode %s (session ceiling %s).\n", st.Band, st.Mode, st.StartMode)
	fmt.Printf("  batch: %s\n", batch)
	return nil
}

// #endregion reset
