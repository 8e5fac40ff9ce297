package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// #region note

var noteListFlag bool

var noteCmd = &cobra.Command{
	Use:   "note [text ...]",
	Short: "Record or list free-form session notes",
	Long: `Appends a free-form note to the session, or lists the notes recorded so
far with --list. Notes are the one channel that always works: sessions in
notes-only fallback accept nothing else.`,
	RunE: runNote,
}

func init() {
	noteCmd.Flags().BoolVar(&noteListFlag, "list", false, "list recorded notes instead of adding one")
}

func runNote(cmd *cobra.Command, args []string) error {
	c, err := openController()
	if err != nil {
		return err
	}
	defer c.close()

	sessionID, err := c.sessionID()
	if err != nil {
		return err
	}

	if noteListFlag {
		list, err := c.notes.List(sessionID)
		if err != nil {
			return err
		}
		if len(list) == 0 {
			fmt.Println("No notes recorded.")
			return nil
		}
		fmt.Printf("%-5s %-20s %s\n", "ID", "RECORDED", "TEXT")
		for _, n := range list {
			fmt.Printf("%-5d %-20s %s\n", n.ID, n.CreatedAt.Format("2006-01-02 15:04:05"), n.Text)
		}
		return nil
	}

	if len(args) == 0 {
		return fmt.Errorf("nothing to record (pass note text, or --list)")
	}
	if err := c.notes.Add(sessionID, strings.Join(args, " "), now()); err != nil {
		return err
	}
	fmt.Printf("Note recorded for %s.\n", sessionID)
	return nil
}

// #endregion note
