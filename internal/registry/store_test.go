package registry

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatb4f/neuroctrl/internal/state"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testPlantState(sessionID string) state.PlantState {
	return state.PlantState{
		SessionID:  sessionID,
		Mode:       state.ModeGreen,
		Band:       state.BandOK,
		Phase:      state.PhaseWork,
		StartMode:  state.ModeGreen,
		ResetCount: 0,
		UpdatedAt:  time.Date(2026, 2, 3, 9, 0, 0, 0, time.UTC),
	}
}

func testBlockRow(blockID, sessionID, day string, pattern state.WorkPattern) BlockRow {
	return BlockRow{
		BlockID:     blockID,
		SessionID:   sessionID,
		WorkPattern: pattern,
		ModeAtStart: state.ModeGreen,
		State:       state.BlockDefined,
		Day:         day,
		DefinedAt:   time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	s := testStore(t)
	st := testPlantState("ses-20260203-aaaa")
	require.NoError(t, s.BeginSession(st, "pf-0011223344556677"))

	got, snapID, err := s.LoadSession("ses-20260203-aaaa")
	require.NoError(t, err)
	assert.Equal(t, "pf-0011223344556677", snapID)
	assert.Equal(t, st.Mode, got.Mode)
	assert.Equal(t, st.Band, got.Band)
	assert.Equal(t, st.StartMode, got.StartMode)

	// A tick worsened things; the save must stick.
	got.Mode = state.ModeYellow
	got.Band = state.BandRising
	got.UpdatedAt = got.UpdatedAt.Add(25 * time.Minute)
	require.NoError(t, s.SaveSession(got))

	again, _, err := s.LoadSession("ses-20260203-aaaa")
	require.NoError(t, err)
	assert.Equal(t, state.ModeYellow, again.Mode)
	assert.Equal(t, state.BandRising, again.Band)
}

func TestLoadSessionUnknown(t *testing.T) {
	s := testStore(t)
	_, _, err := s.LoadSession("ses-nope")
	var noSession *ErrNoSession
	assert.True(t, errors.As(err, &noSession))
}

func TestSaveSessionUnknownSession(t *testing.T) {
	s := testStore(t)
	err := s.SaveSession(testPlantState("ses-never-started"))
	var noSession *ErrNoSession
	assert.True(t, errors.As(err, &noSession))
}

func TestCurrentSessionIsLatest(t *testing.T) {
	s := testStore(t)

	_, err := s.CurrentSession()
	var noSession *ErrNoSession
	require.True(t, errors.As(err, &noSession), "empty registry should report no session")

	first := testPlantState("ses-20260203-aaaa")
	require.NoError(t, s.BeginSession(first, "pf-01"))

	second := testPlantState("ses-20260204-bbbb")
	second.UpdatedAt = first.UpdatedAt.Add(24 * time.Hour)
	require.NoError(t, s.BeginSession(second, "pf-02"))

	id, err := s.CurrentSession()
	require.NoError(t, err)
	assert.Equal(t, "ses-20260204-bbbb", id)
}

func TestActiveBlockAndDefinedBlocks(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))

	active, err := s.ActiveBlock("ses-a")
	require.NoError(t, err)
	assert.Nil(t, active, "no block defined yet")

	b1 := testBlockRow("blk-one", "ses-a", "2026-02-03", state.PatternSYL)
	require.NoError(t, s.InsertBlock(b1))
	b2 := testBlockRow("blk-two", "ses-a", "2026-02-03", state.PatternSYL)
	b2.DefinedAt = b1.DefinedAt.Add(time.Hour)
	require.NoError(t, s.InsertBlock(b2))

	active, err = s.ActiveBlock("ses-a")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "blk-two", active.BlockID)

	defined, err := s.DefinedBlocks("ses-a")
	require.NoError(t, err)
	require.Len(t, defined, 2)
	assert.Equal(t, "blk-one", defined[0].BlockID)
}

func TestSessionBlocksIncludesClosed(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))

	b1 := testBlockRow("blk-one", "ses-a", "2026-02-03", state.PatternSYL)
	require.NoError(t, s.InsertBlock(b1))
	b2 := testBlockRow("blk-two", "ses-a", "2026-02-03", state.PatternSYL)
	b2.DefinedAt = b1.DefinedAt.Add(time.Hour)
	require.NoError(t, s.InsertBlock(b2))

	closedAt := b1.DefinedAt.Add(2 * time.Hour)
	require.NoError(t, s.CloseBlock(state.EndPointer{
		BlockID:             "blk-one",
		ModeAtEnd:           state.ModeGreen,
		BandAtEnd:           state.BandOK,
		RecommendedNextMode: state.ModeGreen,
		Timestamp:           closedAt,
	}, closedAt))

	all, err := s.SessionBlocks("ses-a")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, state.BlockClosed, all[0].State)
	assert.Equal(t, state.BlockDefined, all[1].State)

	defined, err := s.DefinedBlocks("ses-a")
	require.NoError(t, err)
	require.Len(t, defined, 1)
}

func TestCloseBlockTransaction(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))
	require.NoError(t, s.InsertBlock(testBlockRow("blk-one", "ses-a", "2026-02-03", state.PatternSYL)))

	closedAt := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	ptr := state.EndPointer{
		BlockID:             "blk-one",
		ModeAtEnd:           state.ModeYellow,
		BandAtEnd:           state.BandRising,
		RecommendedNextMode: state.ModeYellow,
		Timestamp:           closedAt,
	}
	require.NoError(t, s.CloseBlock(ptr, closedAt))

	row, err := s.GetBlock("blk-one")
	require.NoError(t, err)
	assert.Equal(t, state.BlockClosed, row.State)
	require.NotNil(t, row.ClosedAt)

	latest, err := s.LatestPointer()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "blk-one", latest.BlockID)
	assert.Equal(t, state.ModeYellow, latest.RecommendedNextMode)

	has, err := s.HasClosedBlocks()
	require.NoError(t, err)
	assert.True(t, has)

	// A closed block never reopens.
	err = s.CloseBlock(ptr, closedAt)
	assert.Error(t, err)
}

func TestCloseAdvancesLatestPointer(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))

	base := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"blk-one", "blk-two"} {
		row := testBlockRow(id, "ses-a", "2026-02-03", state.PatternSYL)
		row.DefinedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, s.InsertBlock(row))
		require.NoError(t, s.CloseBlock(state.EndPointer{
			BlockID:             id,
			ModeAtEnd:           state.ModeGreen,
			BandAtEnd:           state.BandOK,
			RecommendedNextMode: state.ModeGreen,
			Timestamp:           row.DefinedAt.Add(30 * time.Minute),
		}, row.DefinedAt.Add(30*time.Minute)))
	}

	latest, err := s.LatestPointer()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "blk-two", latest.BlockID)
}

func TestLatestPointerEmptyRegistry(t *testing.T) {
	s := testStore(t)
	latest, err := s.LatestPointer()
	require.NoError(t, err)
	assert.Nil(t, latest)

	has, err := s.HasClosedBlocks()
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCTXCountForDay(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))

	n, err := s.CTXCountForDay("2026-02-03")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, s.InsertBlock(testBlockRow("blk-ctx", "ses-a", "2026-02-03", state.PatternCTX)))
	require.NoError(t, s.InsertBlock(testBlockRow("blk-syl", "ses-a", "2026-02-03", state.PatternSYL)))

	n, err = s.CTXCountForDay("2026-02-03")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "SYL blocks do not count against the CTX quota")

	// Closing the CTX block still burns the day's quota.
	ts := time.Date(2026, 2, 3, 11, 0, 0, 0, time.UTC)
	require.NoError(t, s.CloseBlock(state.EndPointer{
		BlockID:             "blk-ctx",
		ModeAtEnd:           state.ModeGreen,
		BandAtEnd:           state.BandOK,
		RecommendedNextMode: state.ModeGreen,
		Timestamp:           ts,
	}, ts))

	n, err = s.CTXCountForDay("2026-02-03")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CTXCountForDay("2026-02-04")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a new day resets the quota")
}

func TestBoundaryViolationTally(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))
	require.NoError(t, s.InsertBlock(testBlockRow("blk-one", "ses-a", "2026-02-03", state.PatternSYL)))

	require.NoError(t, s.AddBoundaryViolation("blk-one"))
	require.NoError(t, s.AddBoundaryViolation("blk-one"))

	row, err := s.GetBlock("blk-one")
	require.NoError(t, err)
	assert.Equal(t, 2, row.BoundaryViolations)

	total, err := s.BoundaryViolations("ses-a")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestGetBlockUnknown(t *testing.T) {
	s := testStore(t)
	_, err := s.GetBlock("blk-missing")
	assert.True(t, errors.Is(err, sql.ErrNoRows))
}

func TestRebuild(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.BeginSession(testPlantState("ses-a"), "pf-01"))

	// Seed rows that the rebuild must replace wholesale.
	require.NoError(t, s.InsertBlock(testBlockRow("blk-stale", "ses-a", "2026-02-01", state.PatternSYL)))

	closed := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	rows := []BlockRow{
		func() BlockRow {
			r := testBlockRow("blk-one", "ses-a", "2026-02-03", state.PatternCTX)
			r.State = state.BlockClosed
			r.ClosedAt = &closed
			return r
		}(),
		testBlockRow("blk-two", "ses-a", "2026-02-03", state.PatternSYL),
	}
	pointers := []state.EndPointer{{
		BlockID:             "blk-one",
		ModeAtEnd:           state.ModeYellow,
		BandAtEnd:           state.BandRising,
		RecommendedNextMode: state.ModeYellow,
		Timestamp:           closed,
	}}

	require.NoError(t, s.Rebuild(rows, pointers))

	_, err := s.GetBlock("blk-stale")
	assert.True(t, errors.Is(err, sql.ErrNoRows), "stale row must be gone")

	latest, err := s.LatestPointer()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "blk-one", latest.BlockID)

	n, err := s.CTXCountForDay("2026-02-03")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
