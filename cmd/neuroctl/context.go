package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fatb4f/neuroctrl/internal/artifact"
	"github.com/fatb4f/neuroctrl/internal/block"
	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/config"
	"github.com/fatb4f/neuroctrl/internal/ledger"
	"github.com/fatb4f/neuroctrl/internal/notes"
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/plant"
	"github.com/fatb4f/neuroctrl/internal/registry"
	"github.com/fatb4f/neuroctrl/internal/schedule"
)

// now is a seam for command tests.
var now = time.Now

// #region controller

// controller bundles the plant-level stores every subcommand shares: policy
// catalog, schedule template, registry, and notes.
type controller struct {
	cfg   config.Config
	cat   *catalog.Catalog
	sched *schedule.Template
	reg   *registry.Store
	notes *notes.Store
}

// openController loads configuration and opens the plant directory. Catalog
// and schedule problems are configuration errors and abort here, before any
// session state is touched.
func openController() (*controller, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagPlantDir != "" {
		cfg.PlantDir = flagPlantDir
	}

	cat, err := catalog.LoadCatalog(cfg.CatalogPath())
	if err != nil {
		return nil, &config.ConfigError{Source: cfg.CatalogPath(), Err: err}
	}
	sched, err := schedule.Load(cfg.SchedulePath())
	if err != nil {
		return nil, &config.ConfigError{Source: cfg.SchedulePath(), Err: err}
	}
	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		return nil, err
	}
	noteStore, err := notes.NewStore(reg.DB())
	if err != nil {
		reg.Close()
		return nil, err
	}
	return &controller{cfg: cfg, cat: cat, sched: sched, reg: reg, notes: noteStore}, nil
}

func (c *controller) close() { _ = c.reg.Close() }

// sessionID resolves --session, falling back to the most recently started
// session in the registry.
func (c *controller) sessionID() (string, error) {
	if flagSession != "" {
		return flagSession, nil
	}
	return c.reg.CurrentSession()
}

// supervisor rehydrates the block supervisor for one session. A preflight
// snapshot that is missing or fails schema validation drops the session into
// notes-only fallback instead of aborting: work gating needs the snapshot,
// note taking does not.
func (c *controller) supervisor(sessionID string) (*block.Supervisor, error) {
	st, _, err := c.reg.LoadSession(sessionID)
	if err != nil {
		return nil, err
	}
	dir := c.cfg.SessionDir(sessionID)
	journal, err := ledger.Open(dir, sessionID, c.cfg.LedgerConfig())
	if err != nil {
		return nil, err
	}
	hps, err := plant.NewSupervisor(c.cat, st)
	if err != nil {
		return nil, err
	}
	sup := block.New(sessionID, block.Deps{
		Schedule: c.sched,
		Journal:  journal,
		Registry: c.reg,
		Notes:    c.notes,
		Plant:    hps,
		Dir:      dir,
	})

	if _, err := artifact.ReadPreflightSnapshot(filepath.Join(dir, "preflight.json")); err != nil {
		var se *artifact.SchemaError
		switch {
		case errors.As(err, &se):
			if ferr := sup.EnterFallback("preflight snapshot failed schema validation", now()); ferr != nil {
				return nil, ferr
			}
		case errors.Is(err, fs.ErrNotExist):
			if ferr := sup.EnterFallback("preflight snapshot missing", now()); ferr != nil {
				return nil, ferr
			}
		default:
			return nil, err
		}
	}
	return sup, nil
}

// #endregion controller

// #region helpers

// mintSessionID names a new session: date for humans, random tail for
// uniqueness.
func mintSessionID(at time.Time) string {
	return "ses-" + at.UTC().Format("20060102") + "-" + uuid.NewString()[:8]
}

// parseResults turns "id=outcome" arguments into an observation batch.
// Outcome parsing is fail-safe (unknown text counts as UNCERTAIN), but a
// malformed argument is a usage error.
func parseResults(args []string, at time.Time) ([]otest.Result, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no o-test results given (want id=PASS|FAIL|UNCERTAIN)")
	}
	out := make([]otest.Result, 0, len(args))
	for _, arg := range args {
		id, raw, found := strings.Cut(arg, "=")
		if !found || id == "" {
			return nil, fmt.Errorf("malformed result %q (want id=outcome)", arg)
		}
		out = append(out, otest.NewResult(id, raw, at))
	}
	return out, nil
}

// writeBatch persists one mid-session observation batch next to the ledger.
func (c *controller) writeBatch(sessionID string, results []otest.Result) (string, error) {
	dir := c.cfg.OTestDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("otest dir: %w", err)
	}
	rec := artifact.NewOTestRecord(sessionID, results)
	name := fmt.Sprintf("ot-%s-%s.json", rec.RecordedAt.Format("20060102-150405"), uuid.NewString()[:8])
	path := filepath.Join(dir, name)
	if err := artifact.WriteFile(path, rec); err != nil {
		return "", err
	}
	return path, nil
}

// #endregion helpers
