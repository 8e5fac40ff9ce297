package catalog

import (
	"path/filepath"
	"testing"

	"github.com/fatb4f/neuroctrl/internal/state"
)

func TestClassifyDefaults(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		name  string
		fails int
		want  state.FatigueBand
	}{
		{"zero-fails", 0, state.BandOK},
		{"one-fail", 1, state.BandRising},
		{"two-fails", 2, state.BandNearLimit},
		{"many-fails", 7, state.BandNearLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.fails); got != tt.want {
				t.Errorf("Classify(%d): got %s, want %s", tt.fails, got, tt.want)
			}
		})
	}
}

func TestClassifyCustomThresholds(t *testing.T) {
	// Thresholds are configuration: the same fail count classifies
	// differently under a looser table.
	c := DefaultCatalog()
	c.Classifier = ClassifierConfig{RisingAt: 2, NearLimitAt: 4}

	if got := c.Classify(1); got != state.BandOK {
		t.Fatalf("1 fail under loose thresholds: got %s, want OK", got)
	}
	if got := c.Classify(3); got != state.BandRising {
		t.Fatalf("3 fails under loose thresholds: got %s, want RISING", got)
	}
	if got := c.Classify(4); got != state.BandNearLimit {
		t.Fatalf("4 fails under loose thresholds: got %s, want NEAR_LIMIT", got)
	}
}

func TestDefaultCatalogValid(t *testing.T) {
	if err := DefaultCatalog().Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
}

func TestActionTableTotality(t *testing.T) {
	c := DefaultCatalog()
	for _, band := range allBands {
		for _, mode := range allModes {
			for _, ctx := range []bool{false, true} {
				for _, tag := range c.RequiredActions(band, mode, ctx) {
					if !tag.IsValid() {
						t.Errorf("actions[%s][%s] ctx=%v: invalid tag %q", band, mode, ctx, tag)
					}
				}
			}
		}
	}
}

func TestNearLimitMandatesReset(t *testing.T) {
	// Reaching NEAR_LIMIT always requires the reset protocol, whatever the
	// mode or window.
	c := DefaultCatalog()
	for _, mode := range allModes {
		for _, ctx := range []bool{false, true} {
			tags := c.RequiredActions(state.BandNearLimit, mode, ctx)
			found := false
			for _, tag := range tags {
				if tag == ActionRunResetProtocol {
					found = true
				}
			}
			if !found {
				t.Errorf("NEAR_LIMIT/%s ctx=%v: run_reset_protocol missing from %v", mode, ctx, tags)
			}
		}
	}
}

func TestOKBandIsQuiet(t *testing.T) {
	c := DefaultCatalog()
	for _, mode := range allModes {
		if tags := c.RequiredActions(state.BandOK, mode, false); len(tags) != 0 {
			t.Errorf("OK/%s: expected no actions, got %v", mode, tags)
		}
	}
}

func TestResetEscalation(t *testing.T) {
	c := DefaultCatalog()
	if got := c.ResetPhase(0); got != state.PhaseResetShort {
		t.Fatalf("first reset: got %s, want RESET_SHORT", got)
	}
	if got := c.ResetPhase(1); got != state.PhaseResetLong {
		t.Fatalf("second reset: got %s, want RESET_LONG", got)
	}
	// The chain holds at its last entry.
	if got := c.ResetPhase(5); got != state.PhaseResetLong {
		t.Fatalf("later resets: got %s, want RESET_LONG", got)
	}
}

func TestResetDurationsDeclarative(t *testing.T) {
	c := DefaultCatalog()
	if c.ResetDuration(state.PhaseResetShort) <= 0 {
		t.Fatal("short reset duration must be positive")
	}
	if c.ResetDuration(state.PhaseResetLong) <= c.ResetDuration(state.PhaseResetShort) {
		t.Fatal("long reset must outlast short reset")
	}
	if c.ResetDuration(state.PhaseWork) != 0 {
		t.Fatal("WORK has no reset duration")
	}
}

func TestNormalizeContextInheritance(t *testing.T) {
	c := DefaultCatalog()
	// Cells without an explicit context override behave identically in and
	// out of context windows.
	def := c.RequiredActions(state.BandRising, state.ModeGreen, false)
	ctx := c.RequiredActions(state.BandRising, state.ModeGreen, true)
	if len(def) != len(ctx) {
		t.Fatalf("inherited cell differs: default %v, context %v", def, ctx)
	}
	for i := range def {
		if def[i] != ctx[i] {
			t.Fatalf("inherited cell differs at %d: %s vs %s", i, def[i], ctx[i])
		}
	}
}

func TestValidateRejectsBrokenTables(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(*Catalog)
	}{
		{"missing-band-row", func(c *Catalog) { delete(c.Actions, state.BandRising) }},
		{"missing-mode-cell", func(c *Catalog) { delete(c.Actions[state.BandOK], state.ModeRed) }},
		{"out-of-enum-band", func(c *Catalog) {
			c.Actions["EXHAUSTED"] = map[state.Mode]ActionCell{}
		}},
		{"out-of-enum-action", func(c *Catalog) {
			c.Actions[state.BandOK][state.ModeGreen] = ActionCell{Default: []ActionTag{"take_nap"}}
		}},
		{"thresholds-out-of-order", func(c *Catalog) {
			c.Classifier = ClassifierConfig{RisingAt: 3, NearLimitAt: 2}
		}},
		{"zero-rising-threshold", func(c *Catalog) {
			c.Classifier = ClassifierConfig{RisingAt: 0, NearLimitAt: 2}
		}},
		{"missing-preflight-mode", func(c *Catalog) { delete(c.PreflightModes, state.BandOK) }},
		{"missing-next-ceiling", func(c *Catalog) { delete(c.NextCeilings, state.BandNearLimit) }},
		{"empty-reset-chain", func(c *Catalog) { c.Reset.Escalation = nil }},
		{"work-in-reset-chain", func(c *Catalog) {
			c.Reset.Escalation = []state.TimerPhase{state.PhaseWork}
		}},
		{"inverted-durations", func(c *Catalog) {
			c.Reset.ShortMinutes = 30
			c.Reset.LongMinutes = 10
		}},
		{"duplicate-procedure", func(c *Catalog) {
			c.Procedures = append(c.Procedures, c.Procedures[0])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultCatalog()
			tt.corrupt(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

const validCatalogYAML = `
version: "2"
classifier:
  rising_at: 1
  near_limit_at: 3
actions:
  OK:
    GREEN: {default: []}
    YELLOW: {default: []}
    RED: {default: []}
  RISING:
    GREEN: {default: [downgrade_mode]}
    YELLOW: {default: []}
    RED: {default: []}
  NEAR_LIMIT:
    GREEN: {default: [downgrade_mode, run_reset_protocol]}
    YELLOW: {default: [downgrade_mode, run_reset_protocol]}
    RED:
      default: [run_reset_protocol]
      context_window: [run_reset_protocol, force_close_block]
preflight_modes:
  OK: GREEN
  RISING: YELLOW
  NEAR_LIMIT: YELLOW
next_ceilings:
  OK: GREEN
  RISING: YELLOW
  NEAR_LIMIT: YELLOW
reset:
  escalation: [RESET_SHORT, RESET_LONG]
  short_minutes: 5
  long_minutes: 15
procedures:
  - id: vis-track
    name: Visual tracking
    prompt: Follow a fingertip through a figure eight.
    max_seconds: 30
`

func TestParseCatalogYAML(t *testing.T) {
	c, err := ParseCatalog([]byte(validCatalogYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if c.Version != "2" {
		t.Fatalf("version: got %s, want 2", c.Version)
	}
	if got := c.Classify(2); got != state.BandRising {
		t.Fatalf("loaded thresholds not in effect: got %s", got)
	}
	// Context inheritance applies to loaded tables too.
	tags := c.RequiredActions(state.BandNearLimit, state.ModeGreen, true)
	if len(tags) != 2 {
		t.Fatalf("inherited context cell: got %v", tags)
	}
}

func TestParseCatalogRejectsUnknownField(t *testing.T) {
	bad := validCatalogYAML + "\nextra_knob: true\n"
	if _, err := ParseCatalog([]byte(bad)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseCatalogRejectsOutOfEnum(t *testing.T) {
	bad := `
version: "1"
classifier: {rising_at: 1, near_limit_at: 2}
actions:
  OK:
    GREEN: {default: [sip_coffee]}
`
	if _, err := ParseCatalog([]byte(bad)); err == nil {
		t.Fatal("expected error for out-of-enum action tag")
	}
}

func TestLoadCatalogMissingFileUsesDefaults(t *testing.T) {
	c, err := LoadCatalog(filepath.Join(t.TempDir(), "catalog.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if got := c.Classify(2); got != state.BandNearLimit {
		t.Fatalf("expected default thresholds, got %s for 2 fails", got)
	}
}
