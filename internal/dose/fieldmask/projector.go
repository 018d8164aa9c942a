package fieldmask

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// projectionDecimals is the rounding applied to projected coordinates.
const projectionDecimals = 8

// ErrEmptyMask is returned when a projector is built from a mask without
// points.
var ErrEmptyMask = errors.New("field mask has no points")

// Projector answers field-membership and proximity queries against one
// filled mask. It is read-only after construction and safe for concurrent
// use.
type Projector struct {
	beam    Beam
	shape   Shape
	policy  EdgePolicy
	spacing float64

	anchor r3.Vec
	source r3.Vec
	normal r3.Vec
	tree   *kdtree.Tree
}

// NewProjector indexes the points of mask. The projection plane passes
// through the first mask point with the beam axis as normal.
func NewProjector(beam Beam, mask *Mask, spacing float64, policy EdgePolicy) (*Projector, error) {
	anchor, ok := mask.First()
	if !ok || mask.Shape() == nil {
		return nil, ErrEmptyMask
	}
	if spacing <= 0 {
		spacing = DefaultSpacing
	}
	pts := make(kdtree.Points, mask.Len())
	for i, p := range mask.Points() {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	return &Projector{
		beam:    beam,
		shape:   mask.Shape(),
		policy:  policy,
		spacing: spacing,
		anchor:  anchor,
		source:  beam.Source(),
		normal:  beam.Axis(),
		tree:    kdtree.New(pts, false),
	}, nil
}

// Shape returns the field shape.
func (p *Projector) Shape() Shape { return p.shape }

// ProjectToPlane intersects the line from the source through pos with the
// isocentric plane. Coordinates are rounded to 8 decimals. It returns false
// when the line is parallel to the plane.
func (p *Projector) ProjectToPlane(pos r3.Vec) (r3.Vec, bool) {
	dir := r3.Sub(pos, p.source)
	denom := r3.Dot(p.normal, dir)
	if math.Abs(denom) < 1e-12 {
		tracef("projection of %v is parallel to the plane", pos)
		return r3.Vec{}, false
	}
	t := r3.Dot(p.normal, r3.Sub(p.anchor, p.source)) / denom
	x := r3.Add(p.source, r3.Scale(t, dir))
	return r3.Vec{X: round(x.X), Y: round(x.Y), Z: round(x.Z)}, true
}

// IsInField reports whether pos falls inside the field. Set
// alreadyProjected when pos is already on the plane.
func (p *Projector) IsInField(pos r3.Vec, alreadyProjected bool) bool {
	if !alreadyProjected {
		var ok bool
		if pos, ok = p.ProjectToPlane(pos); !ok {
			return false
		}
	}
	local := p.beam.ToBeam(pos)
	return Contains(p.shape, r2.Vec{X: local.X, Y: local.Y}, p.policy)
}

// InField is IsInField for a position that still needs projecting.
func (p *Projector) InField(pos r3.Vec) bool { return p.IsInField(pos, false) }

// ClosestDistance returns the distance from the projection of pos to the
// nearest mask point.
func (p *Projector) ClosestDistance(pos r3.Vec) float64 {
	q, ok := p.ProjectToPlane(pos)
	if !ok {
		q = pos
	}
	_, d2 := p.tree.Nearest(kdtree.Point{q.X, q.Y, q.Z})
	return math.Sqrt(d2)
}

// MaskTag is 1 inside the field and spacing/closest outside it.
func (p *Projector) MaskTag(pos r3.Vec) float64 {
	if p.InField(pos) {
		return 1
	}
	d := p.ClosestDistance(pos)
	if d == 0 {
		return 1
	}
	return 1 / (d / p.spacing)
}

// Centroid returns the mean of points, weighted when weights is non-nil.
// It returns false for an empty set or a non-positive weight sum.
func Centroid(points []r3.Vec, weights []float64) (r3.Vec, bool) {
	if len(points) == 0 {
		return r3.Vec{}, false
	}
	if weights != nil {
		sum := 0.0
		for _, w := range weights {
			sum += w
		}
		if sum <= 0 {
			return r3.Vec{}, false
		}
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, v := range points {
		xs[i], ys[i], zs[i] = v.X, v.Y, v.Z
	}
	return r3.Vec{X: stat.Mean(xs, weights), Y: stat.Mean(ys, weights), Z: stat.Mean(zs, weights)}, true
}

func round(x float64) float64 {
	scale := math.Pow10(projectionDecimals)
	return math.Round(x*scale) / scale
}
