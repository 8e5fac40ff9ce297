package replay

import (
	"fmt"
	"log"
	"path/filepath"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/ledger"
)

// #region record

// LoadDir gathers the persisted session record beneath dir. Artifacts that
// fail to load become failed checks rather than aborting the audit; the
// property checks still run over whatever did load.
func LoadDir(dir, sessionID string) (Inputs, []Check) {
	var in Inputs
	var failed []Check

	snap, err := artifact.ReadPreflightSnapshot(filepath.Join(dir, "preflight.json"))
	if err != nil {
		failed = append(failed, Check{Name: "load_snapshot", Detail: err.Error()})
	} else {
		in.Snapshot = snap
	}

	journal, err := ledger.Open(dir, sessionID, ledger.DefaultConfig())
	if err != nil {
		failed = append(failed, Check{Name: "load_ledger", Detail: err.Error()})
	} else if events, err := journal.Read(); err != nil {
		failed = append(failed, Check{Name: "load_ledger", Detail: err.Error()})
	} else {
		in.Events = events
	}

	for _, path := range globJSON(filepath.Join(dir, "blocks")) {
		b, err := artifact.ReadTimeBlock(path)
		if err != nil {
			failed = append(failed, Check{Name: "load_contracts", Detail: err.Error()})
			continue
		}
		in.Blocks = append(in.Blocks, b)
	}

	for _, path := range globJSON(filepath.Join(dir, "pointers")) {
		p, err := artifact.ReadEndPointer(path)
		if err != nil {
			failed = append(failed, Check{Name: "load_pointers", Detail: err.Error()})
			continue
		}
		in.Pointers = append(in.Pointers, p)
	}

	return in, failed
}

// Audit loads the record beneath dir and runs the full property set. Load
// failures appear as failed checks ahead of the property checks.
func Audit(cat *catalog.Catalog, dir, sessionID string) Report {
	in, failed := LoadDir(dir, sessionID)
	r := Run(cat, in)
	if r.SessionID == "" {
		r.SessionID = sessionID
	}
	r.Checks = append(failed, r.Checks...)
	log.Printf("[REPLAY] %s: %d check(s), %d failed", r.SessionID, len(r.Checks), len(r.Failed()))
	return r
}

func globJSON(dir string) []string {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		// The pattern is fixed, so Glob can only fail on a malformed
		// pattern. Treat it as an empty directory.
		return nil
	}
	return paths
}

// Render formats a report for terminal output, one line per check.
func Render(r Report) string {
	out := fmt.Sprintf("session %s\n", r.SessionID)
	for _, c := range r.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		out += fmt.Sprintf("  %-4s %-20s %s\n", mark, c.Name, c.Detail)
	}
	if r.Passed() {
		out += "record verified\n"
	} else {
		out += fmt.Sprintf("%d check(s) failed\n", len(r.Failed()))
	}
	return out
}

// #endregion record
