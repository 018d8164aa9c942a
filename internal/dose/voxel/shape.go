package voxel

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ShapeKind tags the geometry of a scoring volume.
type ShapeKind int

const (
	// ShapeBox is the plain axis-aligned box.
	ShapeBox ShapeKind = iota
	// ShapeCylinder is an ionisation-chamber style probe: a cylinder along
	// Z inscribed in the grid box, centred on the box's transverse centre.
	ShapeCylinder
)

// Shape is the shape tag of a grid. Every inside and volume query
// dispatches on Kind.
type Shape struct {
	Kind   ShapeKind
	Radius float64 // mm, ShapeCylinder only
}

// BoxShape returns the default box shape tag.
func BoxShape() Shape { return Shape{Kind: ShapeBox} }

// CylinderShape returns a cylindrical probe shape with the given radius.
func CylinderShape(radius float64) Shape {
	return Shape{Kind: ShapeCylinder, Radius: radius}
}

// ParseShapeKind maps a configuration name to a ShapeKind.
func ParseShapeKind(name string) (ShapeKind, error) {
	switch name {
	case "", "box", "Box":
		return ShapeBox, nil
	case "cylinder", "Cylinder", "chamber", "IonisationChamber":
		return ShapeCylinder, nil
	default:
		return ShapeBox, fmt.Errorf("unknown scoring volume shape %q", name)
	}
}

func (s Shape) String() string {
	switch s.Kind {
	case ShapeCylinder:
		return fmt.Sprintf("cylinder(r=%g)", s.Radius)
	default:
		return "box"
	}
}

func (s Shape) validate(b Box) error {
	switch s.Kind {
	case ShapeBox:
		return nil
	case ShapeCylinder:
		size := b.Size()
		if s.Radius <= 0 {
			return fmt.Errorf("cylinder radius must be positive, got %g", s.Radius)
		}
		if 2*s.Radius > math.Min(size.X, size.Y)+BorderTolerance {
			return fmt.Errorf("cylinder radius %g does not fit in box %gx%g", s.Radius, size.X, size.Y)
		}
		return nil
	default:
		return fmt.Errorf("unknown shape kind %d", int(s.Kind))
	}
}

// radialDistance is the distance of pos from the box's Z axis.
func (s Shape) radialDistance(b Box, pos r3.Vec) float64 {
	c := b.Centre()
	return math.Hypot(pos.X-c.X, pos.Y-c.Y)
}

func (s Shape) volume(b Box) float64 {
	size := b.Size()
	switch s.Kind {
	case ShapeCylinder:
		return size.Z * math.Pi * s.Radius * s.Radius
	default:
		return size.X * size.Y * size.Z
	}
}
