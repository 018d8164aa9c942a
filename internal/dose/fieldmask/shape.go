package fieldmask

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// ErrUnknownShape is returned for field shape names that are not recognised.
var ErrUnknownShape = errors.New("unknown field shape")

// ShapeKind names a field shape family in configuration.
type ShapeKind int

const (
	KindRect ShapeKind = iota
	KindEllipse
	KindPolygon
)

func (k ShapeKind) String() string {
	switch k {
	case KindRect:
		return "Rectangular"
	case KindEllipse:
		return "Elipsoidal"
	case KindPolygon:
		return "Polygon"
	default:
		return fmt.Sprintf("shape(%d)", int(k))
	}
}

// ParseShape maps a configuration name to a ShapeKind. The historical
// spelling "Elipsoidal" is accepted alongside "Ellipsoidal"; leaf-defined
// fields are named "Polygon" or "MLC".
func ParseShape(name string) (ShapeKind, error) {
	switch name {
	case "Rectangular", "rectangular", "Rect", "rect":
		return KindRect, nil
	case "Elipsoidal", "Ellipsoidal", "elipsoidal", "ellipsoidal", "Ellipse", "ellipse":
		return KindEllipse, nil
	case "Polygon", "polygon", "MLC", "mlc":
		return KindPolygon, nil
	default:
		return 0, fmt.Errorf("field shape %q: %w", name, ErrUnknownShape)
	}
}

// Shape is a field outline in beam-frame plane coordinates (mm), centred on
// the beam axis. The set of implementations is closed: Rect, Ellipse and
// Polygon.
type Shape interface {
	Kind() ShapeKind
	// Extent returns the full width along x and y of the nominal field.
	Extent() (a, b float64)
	isShape()
}

// Rect is an A x B rectangular field.
type Rect struct {
	A, B float64
}

// Ellipse is an elliptical field with full axes A and B.
type Ellipse struct {
	A, B float64
}

// Polygon is a closed field outline. The last vertex connects back to the
// first.
type Polygon struct {
	Vertices []r2.Vec
}

func (Rect) Kind() ShapeKind    { return KindRect }
func (Ellipse) Kind() ShapeKind { return KindEllipse }
func (Polygon) Kind() ShapeKind { return KindPolygon }

func (r Rect) Extent() (float64, float64)    { return r.A, r.B }
func (e Ellipse) Extent() (float64, float64) { return e.A, e.B }

// Extent returns the bounding-box size of the polygon.
func (p Polygon) Extent() (float64, float64) {
	lo, hi := Bounds(p)
	return hi.X - lo.X, hi.Y - lo.Y
}

func (Rect) isShape()    {}
func (Ellipse) isShape() {}
func (Polygon) isShape() {}

// NewShape builds a shape of the given kind. Rect and Ellipse use a and b;
// Polygon is built from leaf boundaries and bank positions.
func NewShape(kind ShapeKind, a, b float64, leafBoundaries, bankA, bankB []float64) (Shape, error) {
	switch kind {
	case KindRect:
		if a <= 0 || b <= 0 {
			return nil, fmt.Errorf("rectangular field %gx%g: sizes must be positive", a, b)
		}
		return Rect{A: a, B: b}, nil
	case KindEllipse:
		if a <= 0 || b <= 0 {
			return nil, fmt.Errorf("elliptical field %gx%g: sizes must be positive", a, b)
		}
		return Ellipse{A: a, B: b}, nil
	case KindPolygon:
		return PolygonFromLeaves(leafBoundaries, bankA, bankB)
	default:
		return nil, fmt.Errorf("shape kind %d: %w", int(kind), ErrUnknownShape)
	}
}

// Bounds returns the bounding rectangle of the shape in beam-frame plane
// coordinates.
func Bounds(s Shape) (lo, hi r2.Vec) {
	switch s := s.(type) {
	case Rect, Ellipse:
		a, b := s.Extent()
		return r2.Vec{X: -a / 2, Y: -b / 2}, r2.Vec{X: a / 2, Y: b / 2}
	case Polygon:
		if len(s.Vertices) == 0 {
			return r2.Vec{}, r2.Vec{}
		}
		lo, hi = s.Vertices[0], s.Vertices[0]
		for _, v := range s.Vertices[1:] {
			lo = r2.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y)}
			hi = r2.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y)}
		}
		return lo, hi
	default:
		panic(fmt.Sprintf("fieldmask: unhandled shape %T", s))
	}
}

// Contains reports whether the beam-frame plane point p lies in the field.
// The edge policy only affects polygons.
func Contains(s Shape, p r2.Vec, policy EdgePolicy) bool {
	switch s := s.(type) {
	case Rect:
		return math.Abs(p.X) <= s.A/2 && math.Abs(p.Y) <= s.B/2
	case Ellipse:
		u := p.X / (s.A / 2)
		v := p.Y / (s.B / 2)
		return u*u+v*v <= 1
	case Polygon:
		return s.contains(p, policy)
	default:
		panic(fmt.Sprintf("fieldmask: unhandled shape %T", s))
	}
}
