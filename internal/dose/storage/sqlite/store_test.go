package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/synthetic"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/testutil"
	"github.com/banshee-data/dose.report/internal/timeutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "dose.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRows() []run.Row {
	return []run.Row{
		{
			Collection: "phantom", Kind: scoring.Voxel,
			Global: voxel.ID{X: 0, Y: 0, Z: 1}, Local: voxel.ID{X: 2, Y: 3, Z: 0}, HasLocal: true,
			Position: r3.Vec{X: -1.5, Y: 2.5, Z: 0.5},
			Energy:   0.75, Dose: 1200, Hits: 3,
			Tags: run.Tags{InField: true, Mask: 1, Geo: 0.4, WeightedGeo: 0.2},
		},
		{
			Collection: "phantom", Kind: scoring.Voxel,
			Global: voxel.ID{X: 1, Y: 0, Z: 0}, Local: voxel.ID{X: 0, Y: 0, Z: 0}, HasLocal: true,
			Position: r3.Vec{X: 4.5, Y: -4.5, Z: -4.5},
			Energy:   0.25, Dose: 400, Hits: 1,
			Tags: run.Tags{Mask: 0.3, Geo: 0.1, WeightedGeo: 0.05},
		},
	}
}

func TestOpen_AppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateUp(), "second up is a no-op")

	require.NoError(t, s.MigrateDown())
	version, _, err = s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestSaveRun_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	created := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	s.SetClock(timeutil.NewMockClock(created))
	ctx := context.Background()

	rec := RunRecord{
		ControlPoint: 3, Label: "cp3", FieldShape: "Rectangular", FieldA: 40, FieldB: 30,
		RotationDeg: 90, SID: 1000, Events: 500, Workers: 4, Seed: 7, Steps: 1234,
		Duration: 1500 * time.Millisecond,
	}
	plan := []r3.Vec{{X: -20, Y: -15}, {X: -19.75, Y: -15}}
	sim := []r3.Vec{{X: 1, Y: 2, Z: 3}}
	id, err := s.SaveRun(ctx, rec, sampleRows(), map[string][]r3.Vec{MaskPlan: plan, MaskSim: sim})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Run(ctx, id)
	require.NoError(t, err)
	rec.RunID = id
	rec.CreatedAt = created
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("run mismatch (-want +got):\n%s", diff)
	}

	rows, err := s.Voxels(ctx, id, "phantom", scoring.Voxel)
	require.NoError(t, err)
	if diff := cmp.Diff(sampleRows(), rows); diff != "" {
		t.Errorf("voxel rows mismatch (-want +got):\n%s", diff)
	}

	none, err := s.Voxels(ctx, id, "phantom", scoring.Cell)
	require.NoError(t, err)
	assert.Empty(t, none)

	gotPlan, err := s.MaskPoints(ctx, id, MaskPlan)
	require.NoError(t, err)
	assert.Equal(t, plan, gotPlan)
	gotSim, err := s.MaskPoints(ctx, id, MaskSim)
	require.NoError(t, err)
	assert.Equal(t, sim, gotSim)
}

func TestRun_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.DeleteRun(context.Background(), "missing"), ErrRunNotFound)
}

func TestDeleteRun_Cascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	id, err := s.SaveRun(ctx, RunRecord{Label: "cp1", FieldShape: "Rectangular"}, sampleRows(),
		map[string][]r3.Vec{MaskPlan: {{}}})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRun(ctx, id))
	rows, err := s.Voxels(ctx, id, "phantom", scoring.Voxel)
	require.NoError(t, err)
	assert.Empty(t, rows)
	pts, err := s.MaskPoints(ctx, id, MaskPlan)
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestRuns_Ordered(t *testing.T) {
	s := openTestStore(t)
	clock := timeutil.NewSteppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Minute)
	s.SetClock(clock)
	ctx := context.Background()

	for _, cp := range []int{2, 1} {
		_, err := s.SaveRun(ctx, RunRecord{ControlPoint: cp, Label: "cp", FieldShape: "Rectangular"}, nil, nil)
		require.NoError(t, err)
	}
	runs, err := s.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 2, runs[0].ControlPoint)
	assert.Equal(t, 1, runs[1].ControlPoint)
	assert.True(t, runs[0].CreatedAt.Before(runs[1].CreatedAt))
}

func TestSaveControlPoint(t *testing.T) {
	reg := testutil.BoxRegistry(t, "phantom", 10, 1, 2)
	cp, err := controlpoint.New(testutil.RectControlPoint(5, 10, 10, 20, 2, 3), reg,
		synthetic.Point{Position: r3.Vec{X: 1, Y: 1, Z: 1}, Deposit: 0.5, Density: 1})
	require.NoError(t, err)

	s := openTestStore(t)
	ctx := context.Background()
	_, err = s.SaveControlPoint(ctx, cp)
	assert.Error(t, err, "not run yet")

	_, err = cp.Run(ctx)
	require.NoError(t, err)
	id, err := s.SaveControlPoint(ctx, cp)
	require.NoError(t, err)

	rec, err := s.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "cp5", rec.Label)
	assert.Equal(t, "Rectangular", rec.FieldShape)
	assert.Equal(t, 20, rec.Steps)

	for _, kind := range []scoring.ScoringKind{scoring.Cell, scoring.Voxel} {
		rows, err := s.Voxels(ctx, id, "phantom", kind)
		require.NoError(t, err)
		require.Len(t, rows, 1, kind.String())
		assert.Equal(t, 20, rows[0].Hits)
		assert.Equal(t, kind == scoring.Voxel, rows[0].HasLocal)
	}

	plan, err := s.MaskPoints(ctx, id, MaskPlan)
	require.NoError(t, err)
	assert.Len(t, plan, len(cp.PlanMask()))
	sim, err := s.MaskPoints(ctx, id, MaskSim)
	require.NoError(t, err)
	assert.Len(t, sim, 20)
}
