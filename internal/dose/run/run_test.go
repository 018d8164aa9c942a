package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/step"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

// registry holds one 20 mm cube detector of 2x2x2 cells, each voxelised
// into n x n x n.
func registry(t *testing.T, n int) *scoring.Registry {
	t.Helper()
	reg := scoring.NewRegistry()
	_, err := reg.Register(scoring.DetectorSpec{
		Name:   "phantom",
		Box:    voxel.NewBoxAt(r3.Vec{}, 20, 20, 20),
		Cells:  [3]int{2, 2, 2},
		Voxels: [3]int{n, n, n},
		Shape:  voxel.BoxShape(),
	})
	require.NoError(t, err)
	return reg
}

func deposit(pos r3.Vec, edep float64, track int) step.Step {
	return step.Step{
		Position:      pos,
		EnergyDeposit: edep,
		Density:       1.0,
		Track:         step.Track{ID: track, Particle: "gamma", KineticEnergy: 6},
	}
}

// event runs one event of steps through w.
func event(t *testing.T, w *WorkerRun, steps ...step.Step) {
	t.Helper()
	w.BeginEvent()
	for _, s := range steps {
		_, err := w.ProcessStep(s)
		require.NoError(t, err)
	}
	require.NoError(t, w.EndEvent())
}

// halfSpace is in field for x < 0.
type halfSpace struct{}

func (halfSpace) InField(p r3.Vec) bool { return p.X < 0 }
func (halfSpace) MaskTag(p r3.Vec) float64 {
	if p.X < 0 {
		return 1
	}
	return 0.5
}

var (
	vA = r3.Vec{X: -8.75, Y: -8.75, Z: -8.75} // cell (0,0,0) voxel (0,0,0)
	vB = r3.Vec{X: -6.25, Y: -8.75, Z: -8.75} // cell (0,0,0) voxel (1,0,0)
	vC = r3.Vec{X: 1.25, Y: -8.75, Z: -8.75}  // cell (1,0,0) voxel (0,0,0)
)

func TestRun_MergeIsOrderIndependent(t *testing.T) {
	build := func(order []int) (*ControlPointRun, float64) {
		r := New(registry(t, 4), Options{})
		workers := make([]*WorkerRun, 3)
		for i := range workers {
			w, err := r.Worker(i)
			require.NoError(t, err)
			workers[i] = w
		}
		event(t, workers[0], deposit(vA, 0.1, 1), deposit(vB, 0.2, 1))
		event(t, workers[1], deposit(vA, 0.37, 2))
		event(t, workers[2], deposit(vA, 2.9, 3), deposit(vC, 1, 3))
		for _, i := range order {
			require.NoError(t, r.Merge(workers[i]))
		}
		m, err := r.Canonical("phantom")
		require.NoError(t, err)
		h, ok := m.Lookup(scoring.Voxel, voxel.ID{}, voxel.ID{})
		require.True(t, ok)
		return r, h.Dose()
	}

	r1, d1 := build([]int{0, 1, 2})
	_, d2 := build([]int{2, 0, 1})
	_, d3 := build([]int{1, 2, 0})
	assert.InEpsilon(t, d1, d2, 1e-12)
	assert.InEpsilon(t, d1, d3, 1e-12)

	m, err := r1.Canonical("phantom")
	require.NoError(t, err)
	h, _ := m.Lookup(scoring.Voxel, voxel.ID{}, voxel.ID{})
	assert.InDelta(t, 0.1+0.37+2.9, h.Energy(), 1e-12)
	assert.Equal(t, 3, h.Hits())
	assert.Equal(t, 3, m.Populated(scoring.Voxel))
	assert.Equal(t, 2, m.Populated(scoring.Cell))

	cell, _ := m.Lookup(scoring.Cell, voxel.ID{}, voxel.ID{})
	assert.InDelta(t, 0.1+0.2+0.37+2.9, cell.Energy(), 1e-12)
}

func TestRun_MergeIsLinearInWorkers(t *testing.T) {
	const dose = 0.6
	merged := func(k int) ([]Row, float64) {
		r := New(registry(t, 4), Options{})
		workers := make([]*WorkerRun, k)
		for i := range workers {
			w, err := r.Worker(i)
			require.NoError(t, err)
			event(t, w, deposit(vA, dose/float64(k), i+1), deposit(vC, 2*dose/float64(k), i+1))
			workers[i] = w
		}
		require.NoError(t, r.Merge(workers...))
		total, err := r.TotalDose("phantom")
		require.NoError(t, err)
		res, err := r.Finalize()
		require.NoError(t, err)
		rows, err := res.Rows("phantom", scoring.Voxel)
		require.NoError(t, err)
		return rows, total
	}

	single, singleTotal := merged(1)
	require.Len(t, single, 2)
	for _, k := range []int{2, 3, 8} {
		rows, total := merged(k)
		require.Len(t, rows, len(single), "k=%d", k)
		for i := range single {
			assert.Equal(t, single[i].Global, rows[i].Global, "k=%d", k)
			assert.Equal(t, single[i].Local, rows[i].Local, "k=%d", k)
			assert.InEpsilon(t, single[i].Energy, rows[i].Energy, 1e-12, "k=%d", k)
			assert.InEpsilon(t, single[i].Dose, rows[i].Dose, 1e-12, "k=%d", k)
			assert.Equal(t, k, rows[i].Hits, "k=%d", k)
		}
		assert.InEpsilon(t, singleTotal, total, 1e-12, "k=%d", k)
	}
}

func TestRun_MergeReleasesWorkers(t *testing.T) {
	r := New(registry(t, 2), Options{})
	w, err := r.Worker(0)
	require.NoError(t, err)
	event(t, w, deposit(vA, 1, 1))

	require.NoError(t, r.Merge(w))
	assert.True(t, w.Released())
	m, _ := w.Map("phantom")
	assert.Equal(t, 0, m.Len(scoring.Voxel))

	assert.ErrorIs(t, r.Merge(w), ErrAlreadyMerged)
	_, err = w.ProcessStep(deposit(vA, 1, 1))
	assert.ErrorIs(t, err, ErrAlreadyMerged)
}

func TestRun_IncompatibleWorkerAborts(t *testing.T) {
	r := New(registry(t, 4), Options{})
	good, err := r.Worker(0)
	require.NoError(t, err)
	event(t, good, deposit(vA, 1, 1))

	other := New(registry(t, 2), Options{})
	foreign, err := other.Worker(0)
	require.NoError(t, err)
	event(t, foreign, deposit(vA, 1, 1))

	err = r.Merge(good, foreign)
	require.ErrorIs(t, err, ErrIncompatibleScoring)
	assert.Equal(t, Aborted, r.State())

	_, err = r.Finalize()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = r.TotalDose("phantom")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRun_StateMachine(t *testing.T) {
	r := New(registry(t, 2), Options{})
	assert.Equal(t, Created, r.State())

	_, err := r.Canonical("phantom")
	assert.ErrorIs(t, err, ErrInvalidState, "no reads before merge")
	_, err = r.Finalize()
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.ErrorIs(t, r.Tag(halfSpace{}), ErrInvalidState)

	w0, err := r.Worker(0)
	require.NoError(t, err)
	w1, err := r.Worker(1)
	require.NoError(t, err)
	_, err = r.Worker(1)
	assert.ErrorIs(t, err, ErrInvalidState, "duplicate worker id")
	assert.Equal(t, Accumulating, r.State())

	require.NoError(t, r.Merge(w0))
	assert.Equal(t, Merging, r.State())
	_, err = r.Worker(2)
	assert.ErrorIs(t, err, ErrInvalidState, "no workers after merge starts")
	assert.ErrorIs(t, r.Tag(halfSpace{}), ErrInvalidState, "tag needs every worker merged")

	require.NoError(t, r.Merge(w1))
	require.NoError(t, r.Tag(halfSpace{}))
	assert.Equal(t, Tagged, r.State())

	res, err := r.Finalize()
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, Finalized, r.State())
	assert.ErrorIs(t, r.Merge(), ErrInvalidState)
	assert.ErrorIs(t, r.Tag(halfSpace{}), ErrInvalidState)
}

func TestRun_TotalDoseScalesVoxels(t *testing.T) {
	r := New(registry(t, 4), Options{})
	w, err := r.Worker(0)
	require.NoError(t, err)
	event(t, w, deposit(vA, 1, 1), deposit(vB, 2, 1), deposit(vC, 4, 1))
	require.NoError(t, r.Merge(w))

	m, err := r.Canonical("phantom")
	require.NoError(t, err)
	c0, _ := m.Lookup(scoring.Cell, voxel.ID{}, voxel.ID{})
	c1, _ := m.Lookup(scoring.Cell, voxel.ID{X: 1}, voxel.ID{})

	// Scaling voxel doses by voxelVolume/cellVolume recovers cell doses.
	total, err := r.TotalDose("phantom")
	require.NoError(t, err)
	assert.InEpsilon(t, c0.Dose()+c1.Dose(), total, 1e-12)

	_, err = r.TotalDose("missing")
	assert.ErrorIs(t, err, scoring.ErrUnknownCollection)
}

func TestRun_TotalDoseCellOnly(t *testing.T) {
	reg := scoring.NewRegistry()
	_, err := reg.Register(scoring.DetectorSpec{
		Name:   "cells",
		Box:    voxel.NewBoxAt(r3.Vec{}, 20, 20, 20),
		Cells:  [3]int{2, 2, 2},
		Voxels: [3]int{1, 1, 1},
		Shape:  voxel.BoxShape(),
		Kinds:  []scoring.ScoringKind{scoring.Cell},
	})
	require.NoError(t, err)

	r := New(reg, Options{})
	w, err := r.Worker(0)
	require.NoError(t, err)
	event(t, w, deposit(vA, 1, 1), deposit(vC, 1, 1))
	require.NoError(t, r.Merge(w))

	total, err := r.TotalDose("cells")
	require.NoError(t, err)
	m, _ := r.Canonical("cells")
	c0, _ := m.Lookup(scoring.Cell, voxel.ID{}, voxel.ID{})
	assert.InEpsilon(t, 2*c0.Dose(), total, 1e-12)
}

func TestRun_TagAndRows(t *testing.T) {
	r := New(registry(t, 4), Options{})
	w, err := r.Worker(0)
	require.NoError(t, err)
	event(t, w, deposit(vA, 1, 1), deposit(vB, 3, 1), deposit(vC, 1, 1))
	require.NoError(t, r.Merge(w))
	require.NoError(t, r.Tag(halfSpace{}))
	res, err := r.Finalize()
	require.NoError(t, err)

	c := res.Centroids("phantom", scoring.Voxel)
	require.True(t, c.Valid)
	assert.Equal(t, 2, c.InField)
	assert.InDelta(t, -7.5, c.Geo.X, 1e-12)
	assert.InDelta(t, -6.875, c.Weighted.X, 1e-12)

	rows, err := res.Rows("phantom", scoring.Voxel)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, voxel.ID{}, rows[0].Local)
	assert.True(t, rows[0].HasLocal)
	assert.Equal(t, vA, rows[0].Position)

	assert.True(t, rows[0].Tags.InField)
	assert.Equal(t, 1.0, rows[0].Tags.Mask)
	assert.InDelta(t, 1/1.25, rows[0].Tags.Geo, 1e-12)
	assert.InDelta(t, 1/1.875, rows[0].Tags.WeightedGeo, 1e-12)
	assert.InDelta(t, rows[0].Dose/(rows[0].Tags.Geo*rows[0].Tags.Mask), rows[0].DoseOverGeo(), 1e-9)

	out := rows[2]
	assert.Equal(t, voxel.ID{X: 1}, out.Global)
	assert.False(t, out.Tags.InField)
	assert.Equal(t, 0.5, out.Tags.Mask)
	assert.InDelta(t, 1/8.75, out.Tags.Geo, 1e-12)

	cells, err := res.Rows("phantom", scoring.Cell)
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.False(t, cells[0].HasLocal)
	assert.Equal(t, 0.0, cells[0].Tags.Geo, "the only in-field cell is its own centroid")
	assert.Equal(t, 0.0, cells[0].DoseOverGeo())
	assert.InDelta(t, 1/10.0, cells[1].Tags.Geo, 1e-12)

	h, tags, ok := res.Lookup("phantom", scoring.Voxel, voxel.ID{}, voxel.ID{X: 1})
	require.True(t, ok)
	assert.InDelta(t, 3.0, h.Energy(), 1e-12)
	assert.True(t, tags.InField)
}

func TestRun_TagIsRepeatable(t *testing.T) {
	r := New(registry(t, 4), Options{})
	w, err := r.Worker(0)
	require.NoError(t, err)
	event(t, w, deposit(vA, 1, 1), deposit(vB, 3, 1), deposit(vC, 1, 1))
	require.NoError(t, r.Merge(w))

	require.NoError(t, r.Tag(halfSpace{}))
	first := r.tags
	require.NoError(t, r.Tag(halfSpace{}))
	assert.Equal(t, first.tags, r.tags.tags)
}

func TestRun_TagWithoutInFieldVoxels(t *testing.T) {
	r := New(registry(t, 4), Options{})
	w, err := r.Worker(0)
	require.NoError(t, err)
	event(t, w, deposit(vC, 1, 1))
	require.NoError(t, r.Merge(w))
	require.NoError(t, r.Tag(halfSpace{}))
	res, err := r.Finalize()
	require.NoError(t, err)

	rows, err := res.Rows("phantom", scoring.Voxel)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Zero(t, rows[0].Tags.Geo)
	assert.Zero(t, rows[0].DoseOverGeo(), "zero tags give a zero ratio")
	assert.False(t, res.Centroids("phantom", scoring.Voxel).Valid)
}

func TestRun_ProvenanceSurvivesMerge(t *testing.T) {
	r := New(registry(t, 2), Options{TrackProvenance: true})
	w0, _ := r.Worker(0)
	w1, _ := r.Worker(1)
	event(t, w0, deposit(vA, 1, 4))
	event(t, w1, deposit(vA, 1, 9), deposit(vA, 1, 4))
	require.NoError(t, r.Merge(w0, w1))

	m, _ := r.Canonical("phantom")
	h, _ := m.Lookup(scoring.Voxel, voxel.ID{}, voxel.ID{})
	require.NotNil(t, h.Tracks())
	assert.Equal(t, 2, h.Tracks().Len())
	assert.Equal(t, 4, h.Tracks().Records()[0].ID)
}
