// Package synthetic provides stand-in transports that generate reproducible
// steps without a physics engine. They drive the CLI and end-to-end tests.
package synthetic

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/step"
)

// Point deposits a fixed energy at one position StepsPerEvent times per
// event. Each event is a single primary track.
type Point struct {
	Position      r3.Vec
	Deposit       float64 // MeV per step
	StepsPerEvent int
	Density       float64 // g/cm3
	Particle      string
}

// Simulate implements controlpoint.Transport.
func (p Point) Simulate(_ context.Context, event int, _ *rand.Rand, sink controlpoint.StepSink) error {
	n := p.StepsPerEvent
	if n <= 0 {
		n = 1
	}
	particle := p.Particle
	if particle == "" {
		particle = "gamma"
	}
	for i := 0; i < n; i++ {
		s := step.Step{
			Position:      p.Position,
			EnergyDeposit: p.Deposit,
			Density:       p.Density,
			Track: step.Track{
				ID:            1,
				Particle:      particle,
				KineticEnergy: p.Deposit * float64(n-i),
				Direction:     r3.Vec{Z: 1},
			},
		}
		if err := sink.ProcessStep(s); err != nil {
			return fmt.Errorf("point event %d step %d: %w", event, i, err)
		}
	}
	return nil
}

// Field fires primaries from the beam source through points sampled
// uniformly inside the field on the isocentric plane. Each primary walks
// Depth mm centred on the isocentric plane in StepLength steps, depositing
// a random fraction of its remaining energy per step. With probability
// SecondaryFraction a step also emits a short-ranged secondary electron
// that deposits locally.
type Field struct {
	Beam       fieldmask.Beam
	Shape      fieldmask.Shape
	EdgePolicy fieldmask.EdgePolicy

	Energy            float64 // MeV per primary
	PrimariesPerEvent int
	StepLength        float64 // mm
	Depth             float64 // mm
	Attenuation       float64 // mean fraction of remaining energy deposited per step
	SecondaryFraction float64
	Density           float64 // g/cm3
}

const maxEntryDraws = 1000

// Simulate implements controlpoint.Transport.
func (f Field) Simulate(_ context.Context, event int, rng *rand.Rand, sink controlpoint.StepSink) error {
	if rng == nil {
		return fmt.Errorf("field event %d: nil random source", event)
	}
	if f.StepLength <= 0 || f.Depth <= 0 {
		return fmt.Errorf("field event %d: step length and depth must be positive", event)
	}
	primaries := f.PrimariesPerEvent
	if primaries <= 0 {
		primaries = 1
	}
	source := f.Beam.Source()
	nextID := primaries + 1

	for p := 0; p < primaries; p++ {
		entry, ok := f.sampleEntry(rng)
		if !ok {
			continue
		}
		dir := r3.Unit(r3.Sub(entry, source))
		pos := r3.Sub(entry, r3.Scale(f.Depth/2, dir))
		remaining := f.Energy
		track := step.Track{ID: p + 1, Particle: "gamma", Direction: dir}

		for travelled := 0.0; travelled < f.Depth && remaining > 0; travelled += f.StepLength {
			dep := math.Min(remaining, remaining*f.Attenuation*2*rng.Float64())
			track.KineticEnergy = remaining
			track.Length = travelled
			if err := sink.ProcessStep(step.Step{Position: pos, EnergyDeposit: dep, Density: f.Density, Track: track}); err != nil {
				return fmt.Errorf("field event %d primary %d: %w", event, p, err)
			}
			remaining -= dep

			if f.SecondaryFraction > 0 && rng.Float64() < f.SecondaryFraction && remaining > 0 {
				sec := step.Track{
					ID:            nextID,
					ParentID:      track.ID,
					Particle:      "e-",
					KineticEnergy: remaining * 0.1,
					Direction:     r3.Unit(r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}),
				}
				nextID++
				offset := r3.Scale(f.StepLength*rng.Float64(), sec.Direction)
				s := step.Step{Position: r3.Add(pos, offset), EnergyDeposit: sec.KineticEnergy, Density: f.Density, Track: sec}
				if err := sink.ProcessStep(s); err != nil {
					return fmt.Errorf("field event %d secondary %d: %w", event, sec.ID, err)
				}
				remaining -= sec.KineticEnergy
			}
			pos = r3.Add(pos, r3.Scale(f.StepLength, dir))
		}
	}
	return nil
}

// sampleEntry draws a point inside the field on the isocentric plane, in
// world coordinates.
func (f Field) sampleEntry(rng *rand.Rand) (r3.Vec, bool) {
	lo, hi := fieldmask.Bounds(f.Shape)
	for i := 0; i < maxEntryDraws; i++ {
		q := r2.Vec{X: lo.X + rng.Float64()*(hi.X-lo.X), Y: lo.Y + rng.Float64()*(hi.Y-lo.Y)}
		if fieldmask.Contains(f.Shape, q, f.EdgePolicy) {
			return f.Beam.ToWorld(r3.Vec{X: q.X, Y: q.Y}), true
		}
	}
	return r3.Vec{}, false
}
