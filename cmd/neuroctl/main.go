package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// #region root

var (
	flagPlantDir string
	flagSession  string
)

// rootCmd is the single neuroctl binary; subcommands cover the whole session
// lifecycle from preflight to checkpoint, plus the record audit tooling.
var rootCmd = &cobra.Command{
	Use:   "neuroctl",
	Short: "Repo-backed supervisory control for operator work sessions",
	Long: `neuroctl gates a human operator's work sessions against a fatigue model.

A session opens with an O-test preflight that fixes the starting mode. Work
happens inside mode-capped time blocks; fatigue evidence at each tick can only
tighten the controls until a reset protocol runs. Every transition lands in an
append-only, hash-chained ledger under the plant directory, and the record
replays deterministically for audit.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagPlantDir, "plant", "", "plant directory (default $NEUROCTRL_PLANT_DIR or .neuroctrl)")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", "", "session id (default: most recently started)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(otestsCmd)
	rootCmd.AddCommand(preflightCmd)
	rootCmd.AddCommand(defineCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(closeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(noteCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion root
