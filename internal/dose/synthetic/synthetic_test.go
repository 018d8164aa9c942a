package synthetic

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/step"
)

type recorder struct{ steps []step.Step }

func (r *recorder) ProcessStep(s step.Step) error {
	r.steps = append(r.steps, s)
	return nil
}

func TestPoint(t *testing.T) {
	var rec recorder
	p := Point{Position: r3.Vec{X: 1}, Deposit: 0.5, StepsPerEvent: 3, Density: 1}
	require.NoError(t, p.Simulate(context.Background(), 0, nil, &rec))
	require.Len(t, rec.steps, 3)
	for _, s := range rec.steps {
		assert.Equal(t, r3.Vec{X: 1}, s.Position)
		assert.Equal(t, 0.5, s.EnergyDeposit)
		assert.True(t, s.IsPrimary())
	}
	assert.Equal(t, 1.5, rec.steps[0].Track.KineticEnergy)
}

func TestField_ConservesEnergyAndStaysInField(t *testing.T) {
	f := Field{
		Beam:              fieldmask.Beam{SID: 1000},
		Shape:             fieldmask.Rect{A: 10, B: 10},
		Energy:            6,
		PrimariesPerEvent: 20,
		StepLength:        1,
		Depth:             40,
		Attenuation:       0.1,
		SecondaryFraction: 0.3,
		Density:           1,
	}
	var rec recorder
	require.NoError(t, f.Simulate(context.Background(), 0, rand.New(rand.NewSource(3)), &rec))
	require.NotEmpty(t, rec.steps)

	perPrimary := make(map[int]float64)
	firstPos := make(map[int]r3.Vec)
	secondaries := 0
	for _, s := range rec.steps {
		id := s.Track.ID
		if !s.IsPrimary() {
			secondaries++
			id = s.Track.ParentID
		} else if _, ok := firstPos[id]; !ok {
			firstPos[id] = s.Position
		}
		perPrimary[id] += s.EnergyDeposit
	}
	assert.Len(t, firstPos, 20)
	assert.Positive(t, secondaries)
	for id, e := range perPrimary {
		assert.LessOrEqual(t, e, 6.0+1e-9, "primary %d deposits more than its energy", id)
	}

	// Entry points lie in the field on the isocentric plane, so the first
	// step of every primary projects inside it.
	mask := fieldmask.NewMask("Plan")
	pts, err := fieldmask.GeneratePlanMask(f.Shape, 0, f.Beam, 0.5, fieldmask.EdgeParity, nil)
	require.NoError(t, err)
	require.NoError(t, mask.Fill(f.Shape, pts))
	proj, err := fieldmask.NewProjector(f.Beam, mask, 0.5, fieldmask.EdgeParity)
	require.NoError(t, err)
	for id, p := range firstPos {
		assert.True(t, proj.InField(p), "primary %d entered outside the field", id)
	}
}

func TestField_Validation(t *testing.T) {
	var rec recorder
	f := Field{Shape: fieldmask.Rect{A: 1, B: 1}}
	assert.Error(t, f.Simulate(context.Background(), 0, rand.New(rand.NewSource(1)), &rec))
	f.StepLength, f.Depth = 1, 1
	assert.Error(t, f.Simulate(context.Background(), 0, nil, &rec))
}
