package fieldmask

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultSID is the source-to-isocentre distance (mm) used when none is
// configured.
const DefaultSID = 1000.0

// Beam is the gantry geometry of one control point. The beam travels along
// +Z in its own frame; the gantry rotates that frame about the Y axis.
type Beam struct {
	RotationDeg float64
	SID         float64
}

func (b Beam) sid() float64 {
	if b.SID > 0 {
		return b.SID
	}
	return DefaultSID
}

func (b Beam) rotation() r3.Rotation {
	return r3.NewRotation(b.RotationDeg*math.Pi/180, r3.Vec{Y: 1})
}

func (b Beam) inverse() r3.Rotation {
	return r3.NewRotation(-b.RotationDeg*math.Pi/180, r3.Vec{Y: 1})
}

// ToWorld rotates a beam-frame vector into the world frame.
func (b Beam) ToWorld(v r3.Vec) r3.Vec { return b.rotation().Rotate(v) }

// ToBeam rotates a world-frame vector into the beam frame.
func (b Beam) ToBeam(v r3.Vec) r3.Vec { return b.inverse().Rotate(v) }

// Source returns the position of the radiation source.
func (b Beam) Source() r3.Vec {
	return b.ToWorld(r3.Vec{Z: -b.sid()})
}

// Axis returns the unit beam direction, which is also the normal of the
// isocentric plane.
func (b Beam) Axis() r3.Vec {
	return b.ToWorld(r3.Vec{Z: 1})
}
