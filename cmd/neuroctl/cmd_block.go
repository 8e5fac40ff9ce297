package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/block"
	"github.com/fatb4f/neuroctrl/internal/boundary"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #region define

var (
	defineFlagPattern  string
	defineFlagMode     string
	defineFlagAllow    []string
	defineFlagDeny     []string
	defineFlagMaxFiles int
	defineFlagMaxLines int
)

var defineCmd = &cobra.Command{
	Use:   "define",
	Short: "Propose a time block",
	Long: `Proposes a time block at the given mode. The proposal is granted only
when its mode is no more permissive than the session's current mode, and a CTX
block additionally needs a legal window and an unused CTX slot for the day.
A refusal is an outcome, not an error: it is appended to the ledger with its
reason and the command exits cleanly.

Example:
  neuroctl define --pattern SYL --mode GREEN --allow src/ --deny "**/*.key" --max-files 12`,
	Args: cobra.NoArgs,
	RunE: runDefine,
}

func init() {
	defineCmd.Flags().StringVar(&defineFlagPattern, "pattern", "SYL", "work pattern: SYL or CTX")
	defineCmd.Flags().StringVar(&defineFlagMode, "mode", "", "mode_at_start: GREEN, YELLOW, or RED")
	_ = defineCmd.MarkFlagRequired("mode")
	defineCmd.Flags().StringSliceVar(&defineFlagAllow, "allow", nil, "allowed path (glob or directory prefix, repeatable)")
	defineCmd.Flags().StringSliceVar(&defineFlagDeny, "deny", nil, "declared illegal move (repeatable)")
	defineCmd.Flags().IntVar(&defineFlagMaxFiles, "max-files", 0, "diff budget: max changed files (0 = unlimited)")
	defineCmd.Flags().IntVar(&defineFlagMaxLines, "max-lines", 0, "diff budget: max changed lines (0 = unlimited)")
}

func runDefine(cmd *cobra.Command, args []string) error {
	pattern, err := state.ParseWorkPattern(strings.ToUpper(defineFlagPattern))
	if err != nil {
		return err
	}
	mode, err := state.ParseMode(strings.ToUpper(defineFlagMode))
	if err != nil {
		return err
	}

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

	dec, err := sup.DefineBlock(block.Proposal{
		Pattern:      pattern,
		ModeAtStart:  mode,
		AllowedPaths: defineFlagAllow,
		IllegalMoves: defineFlagDeny,
		Budgets:      artifact.Budgets{MaxChangedFiles: defineFlagMaxFiles, MaxChangedLines: defineFlagMaxLines},
	}, now())
	if err != nil {
		return err
	}

	switch dec.Kind {
	case block.KindGranted:
		b := dec.Contract
		fmt.Printf("Block %s defined: %s at %s\n", b.BlockID, b.WorkPattern, b.ModeAtStart)
		if len(b.AllowedPaths) > 0 {
			fmt.Printf("  allowed: %s\n", strings.Join(b.AllowedPaths, ", "))
		}
		if len(b.IllegalMoves) > 0 {
			fmt.Printf("  illegal: %s\n", strings.Join(b.IllegalMoves, ", "))
		}
		if b.Budgets.MaxChangedFiles > 0 || b.Budgets.MaxChangedLines > 0 {
			fmt.Printf("  budgets: %d files, %d lines\n", b.Budgets.MaxChangedFiles, b.Budgets.MaxChangedLines)
		}
	case block.KindFallback:
		fmt.Printf("Refused (%s): %s\n", dec.BlockID, dec.Reason)
	default:
		fmt.Printf("Denied (%s): %s\n", dec.BlockID, dec.Reason)
	}
	return nil
}

// #endregion define

// #region close

var closeCmd = &cobra.Command{
	Use:   "close BLOCK_ID",
	Short: "Close a defined block and record its end pointer",
	Long: `Closes a DEFINED block at the session's current mode and band, records
the end pointer that will cap the next session's entry mode, and appends
BLOCK_CLOSED to the ledger. Closing anything but a DEFINED block is an
integrity error.`,
	Args: cobra.ExactArgs(1),
	RunE: runClose,
}

func runClose(cmd *cobra.Command, args []string) error {
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

	ptr, err := sup.CloseBlock(args[0], now())
	if err != nil {
		return err
	}
	fmt.Printf("Block %s closed at %s (band %s).\n", ptr.BlockID, ptr.ModeAtEnd, ptr.BandAtEnd)
	fmt.Printf("  next-session ceiling: %s\n", ptr.RecommendedNextMode)
	return nil
}

// #endregion close

// #region check

var checkFlagLines int

var checkCmd = &cobra.Command{
	Use:   "check PATH [PATH ...]",
	Short: "Check paths against the active block's boundary",
	Long: `Checks paths against the active block's allowed paths, declared illegal
moves, and (with --lines) its diff budgets. Violations are advisory: they are
logged, tallied into the close-time summary, and printed here, but never block
the command.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkFlagLines, "lines", 0, "audit the set as one diff with this many changed lines")
}

func runCheck(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	sessionID, err := c.sessionID()
	if err != nil {
		return err
	}
	active, err := c.reg.ActiveBlock(sessionID)
	if err != nil {
		return err
	}
	if active == nil {
		fmt.Println("No DEFINED block; nothing to check against.")
		return nil
	}
	sup, err := c.supervisor(sessionID)
	if err != nil {
		return err
	}

	var violations []boundary.Violation
	if cmd.Flags().Changed("lines") {
		violations, err = sup.AuditDiff(args, checkFlagLines)
		if err != nil {
			return err
		}
	} else {
		for _, path := range args {
			v, err := sup.EnforceBoundary(path)
			if err != nil {
				return err
			}
			if v != nil {
				violations = append(violations, *v)
			}
		}
	}

	if len(violations) == 0 {
		fmt.Printf("OK: %d path(s) within the boundary of %s.\n", len(args), active.BlockID)
		return nil
	}
	fmt.Printf("%d violation(s) against %s:\n", len(violations), active.BlockID)
	for _, v := range violations {
		switch {
		case len(v.Breaches) > 0:
			for _, b := range v.Breaches {
				fmt.Printf("  %-28s %s: %d over limit %d\n", v.Code, b.Name, b.Got, b.Limit)
			}
		default:
			fmt.Printf("  %-28s %s\n", v.Code, strings.Join(v.Paths, ", "))
		}
	}
	return nil
}

// #endregion check
