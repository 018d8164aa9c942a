package fieldmask

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// DefaultSpacing is the grid pitch (mm) of analytic plan masks.
	DefaultSpacing = 0.25

	// SampleHalfWidth bounds the square (mm) that leaf-defined fields are
	// sampled from.
	SampleHalfWidth = 100.0
	// MaxSamplePoints stops rejection sampling once this many in-field
	// points are collected.
	MaxSamplePoints = 100000
	// MaxSampleDraws stops rejection sampling after this many draws.
	MaxSampleDraws = 1000000
)

// ErrNilRand is returned when a sampled mask is requested without a random
// source.
var ErrNilRand = errors.New("polygon mask sampling needs a seeded *rand.Rand")

// GeneratePlanMask samples the nominal field on the plane at beam-frame
// depth z and rotates every point into the world frame.
//
// Rectangles and ellipses are sampled on a regular grid: x = -A/2 + i*s for
// i in [0, floor(A/s)), likewise for y, keeping points inside the shape.
// Polygons are rejection sampled from the square of half-width
// SampleHalfWidth until MaxSamplePoints are kept or MaxSampleDraws are
// spent; rng makes the result reproducible.
func GeneratePlanMask(shape Shape, z float64, beam Beam, spacing float64, policy EdgePolicy, rng *rand.Rand) ([]r3.Vec, error) {
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	var local []r3.Vec
	switch s := shape.(type) {
	case Rect, Ellipse:
		a, b := s.Extent()
		local = gridSample(s, a, b, z, spacing, policy)
	case Polygon:
		if rng == nil {
			return nil, ErrNilRand
		}
		local = rejectionSample(s, z, policy, rng)
	default:
		return nil, fmt.Errorf("generate mask for %T: %w", shape, ErrUnknownShape)
	}

	rot := beam.rotation()
	out := make([]r3.Vec, len(local))
	for i, p := range local {
		out[i] = rot.Rotate(p)
	}
	diagf("plan mask %s rotation=%.2f spacing=%.3g: %d points", shape.Kind(), beam.RotationDeg, spacing, len(out))
	return out, nil
}

func gridSample(s Shape, a, b, z, spacing float64, policy EdgePolicy) []r3.Vec {
	nA := int(math.Floor(a / spacing))
	nB := int(math.Floor(b / spacing))
	out := make([]r3.Vec, 0, nA*nB)
	for i := 0; i < nA; i++ {
		x := -a/2 + float64(i)*spacing
		for j := 0; j < nB; j++ {
			y := -b/2 + float64(j)*spacing
			if Contains(s, r2.Vec{X: x, Y: y}, policy) {
				out = append(out, r3.Vec{X: x, Y: y, Z: z})
			}
		}
	}
	return out
}

func rejectionSample(p Polygon, z float64, policy EdgePolicy, rng *rand.Rand) []r3.Vec {
	var out []r3.Vec
	draws := 0
	for ; draws < MaxSampleDraws && len(out) < MaxSamplePoints; draws++ {
		q := r2.Vec{
			X: (2*rng.Float64() - 1) * SampleHalfWidth,
			Y: (2*rng.Float64() - 1) * SampleHalfWidth,
		}
		if p.contains(q, policy) {
			out = append(out, r3.Vec{X: q.X, Y: q.Y, Z: z})
		}
	}
	if len(out) < MaxSamplePoints {
		diagf("polygon mask: draw budget exhausted after %d draws with %d points", draws, len(out))
	}
	return out
}
