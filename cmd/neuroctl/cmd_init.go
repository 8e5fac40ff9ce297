package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fatb4f/neuroctrl/internal/catalog"
	"github.com/fatb4f/neuroctrl/internal/config"
	"github.com/fatb4f/neuroctrl/internal/registry"
)

// #region init

const scheduleTemplate = `# neuroctl weekly window template. CTX blocks are only legal inside CONTEXT
# (or DEFERRED) windows; times are half-open [start, end) in the named
# timezone. An empty entry list means CTX work is never legal.
version: "1"
timezone: UTC
entries: []
# entries:
#   - day: MON
#     start: "09:00"
#     end: "11:00"
#     kind: CONTEXT
#   - day: THU
#     start: "14:00"
#     end: "16:00"
#     kind: DEFERRED
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the plant directory skeleton",
	Long: `Creates the plant directory with the built-in policy catalog written out
as catalog.yaml, an empty weekly schedule, and the session registry.
Existing files are left untouched.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagPlantDir != "" {
		cfg.PlantDir = flagPlantDir
	}

	if err := os.MkdirAll(cfg.SessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create plant dir: %w", err)
	}

	wroteCat, err := writeIfAbsent(cfg.CatalogPath(), func() ([]byte, error) {
		return yaml.Marshal(catalog.DefaultCatalog())
	})
	if err != nil {
		return err
	}
	wroteSched, err := writeIfAbsent(cfg.SchedulePath(), func() ([]byte, error) {
		return []byte(scheduleTemplate), nil
	})
	if err != nil {
		return err
	}

	// Opening the registry creates its schema.
	reg, err := registry.Open(cfg.RegistryPath())
	if err != nil {
		return err
	}
	defer reg.Close()

	fmt.Printf("Plant directory ready: %s\n", cfg.PlantDir)
	fmt.Printf("  catalog:  %s%s\n", cfg.CatalogPath(), marker(wroteCat))
	fmt.Printf("  schedule: %s%s\n", cfg.SchedulePath(), marker(wroteSched))
	fmt.Printf("  registry: %s\n", cfg.RegistryPath())
	return nil
}

func writeIfAbsent(path string, render func() ([]byte, error)) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := render()
	if err != nil {
		return false, fmt.Errorf("render %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}

func marker(wrote bool) string {
	if wrote {
		return " (created)"
	}
	return " (kept)"
}

// #endregion init
