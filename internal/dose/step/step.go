// Package step carries the per-step record the external transport engine
// hands to the scoring engine.
package step

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Track identifies the particle track a step belongs to.
type Track struct {
	ID            int
	ParentID      int    // 0 for primaries
	Particle      string // e.g. "gamma", "e-"
	KineticEnergy float64
	Direction     r3.Vec // momentum direction, unit length
	Length        float64
}

// Step is one transport increment. Energies are in MeV, lengths in mm and
// densities in g/cm3.
type Step struct {
	Position      r3.Vec // pre-step point, global frame
	EnergyDeposit float64
	Density       float64
	Track         Track
}

// IsPrimary reports whether the step belongs to a primary track.
func (s Step) IsPrimary() bool {
	return s.Track.ParentID == 0
}

// PolarAngle returns the angle in degrees between the track direction and
// the global +Z axis, or 0 for a zero direction.
func (t Track) PolarAngle() float64 {
	n := r3.Norm(t.Direction)
	if n == 0 {
		return 0
	}
	c := t.Direction.Z / n
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	return math.Acos(c) * 180 / math.Pi
}
