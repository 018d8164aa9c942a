package fieldmask

import (
	"errors"

	"gonum.org/v1/gonum/spatial/r3"
)

// ErrMaskAlreadyFilled is returned when a filled mask is filled again.
var ErrMaskAlreadyFilled = errors.New("field mask already filled")

// Mask is a point cloud on the isocentric plane together with the shape it
// was generated from. It is filled once and immutable afterwards.
type Mask struct {
	name   string
	shape  Shape
	points []r3.Vec
	filled bool
}

// NewMask returns an empty mask. name labels the mask in logs and dumps
// ("Plan", "Sim").
func NewMask(name string) *Mask {
	return &Mask{name: name}
}

// Fill stores the generating shape and points. A second Fill is rejected
// and the existing points are kept.
func (m *Mask) Fill(shape Shape, points []r3.Vec) error {
	if m.filled {
		opsf("CRITICAL: %s mask refilled (have %d points, offered %d); keeping existing points",
			m.name, len(m.points), len(points))
		return ErrMaskAlreadyFilled
	}
	m.shape = shape
	m.points = append([]r3.Vec(nil), points...)
	m.filled = true
	diagf("%s mask filled with %d points", m.name, len(m.points))
	return nil
}

// Name returns the mask label.
func (m *Mask) Name() string { return m.name }

// Shape returns the generating shape, or nil before Fill.
func (m *Mask) Shape() Shape { return m.shape }

// Filled reports whether Fill has succeeded.
func (m *Mask) Filled() bool { return m.filled }

// Len returns the number of points.
func (m *Mask) Len() int { return len(m.points) }

// Points returns the mask points. The slice must not be modified.
func (m *Mask) Points() []r3.Vec { return m.points }

// First returns the first mask point, which anchors the projection plane.
func (m *Mask) First() (r3.Vec, bool) {
	if len(m.points) == 0 {
		return r3.Vec{}, false
	}
	return m.points[0], true
}
