package catalog

import (
	"github.com/fatb4f/neuroctrl/internal/otest"
	"github.com/fatb4f/neuroctrl/internal/state"
)

// #region default-catalog

// DefaultCatalog returns the built-in policy tables. Deployments override
// them with catalog.yaml; the defaults keep a bare plant directory usable.
func DefaultCatalog() *Catalog {
	c := &Catalog{
		Version: "1",
		Classifier: ClassifierConfig{
			RisingAt:    1,
			NearLimitAt: 2,
		},
		Actions: map[state.FatigueBand]map[state.Mode]ActionCell{
			state.BandOK: {
				state.ModeGreen:  {Default: nil},
				state.ModeYellow: {Default: nil},
				state.ModeRed:    {Default: nil},
			},
			state.BandRising: {
				state.ModeGreen:  {Default: []ActionTag{ActionDowngradeMode}},
				state.ModeYellow: {Default: nil},
				state.ModeRed:    {Default: nil},
			},
			state.BandNearLimit: {
				state.ModeGreen: {
					Default: []ActionTag{ActionDowngradeMode, ActionRunResetProtocol},
				},
				state.ModeYellow: {
					Default: []ActionTag{ActionDowngradeMode, ActionRunResetProtocol},
				},
				state.ModeRed: {
					Default:       []ActionTag{ActionRunResetProtocol},
					ContextWindow: []ActionTag{ActionRunResetProtocol, ActionForceCloseBlock},
				},
			},
		},
		PreflightModes: map[state.FatigueBand]state.Mode{
			state.BandOK:        state.ModeGreen,
			state.BandRising:    state.ModeYellow,
			state.BandNearLimit: state.ModeYellow,
		},
		NextCeilings: map[state.FatigueBand]state.Mode{
			state.BandOK:        state.ModeGreen,
			state.BandRising:    state.ModeYellow,
			state.BandNearLimit: state.ModeYellow,
		},
		Reset: ResetConfig{
			Escalation:   []state.TimerPhase{state.PhaseResetShort, state.PhaseResetLong},
			ShortMinutes: 7,
			LongMinutes:  20,
		},
		Procedures: []otest.Procedure{
			{ID: "vis-track", Name: "Visual tracking", Prompt: "Follow a fingertip through a figure eight without losing focus.", MaxSeconds: 30},
			{ID: "recall-3", Name: "Three-item recall", Prompt: "Recall the three anchor words set at session start, in order.", MaxSeconds: 45},
			{ID: "stand-steady", Name: "Steady stand", Prompt: "Stand on one leg, eyes open, without a correction step.", MaxSeconds: 30},
		},
	}
	c.Normalize()
	return c
}

// #endregion default-catalog
