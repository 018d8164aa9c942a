package fieldmask

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"
)

// edgeTolerance is the distance (mm) below which a point counts as lying on
// a polygon edge.
const edgeTolerance = 1e-9

// EdgePolicy decides polygon membership of points lying exactly on an edge.
type EdgePolicy int

const (
	// EdgeParity applies the plain crossing-parity rule, so on-edge points
	// fall on whichever side the arithmetic puts them.
	EdgeParity EdgePolicy = iota
	// EdgeInclude treats on-edge points as inside.
	EdgeInclude
	// EdgeExclude treats on-edge points as outside.
	EdgeExclude
)

func (p EdgePolicy) String() string {
	switch p {
	case EdgeParity:
		return "parity"
	case EdgeInclude:
		return "include"
	case EdgeExclude:
		return "exclude"
	default:
		return fmt.Sprintf("edge(%d)", int(p))
	}
}

// ParseEdgePolicy maps a configuration name to an EdgePolicy. The empty
// string selects EdgeParity.
func ParseEdgePolicy(name string) (EdgePolicy, error) {
	switch name {
	case "", "parity":
		return EdgeParity, nil
	case "include":
		return EdgeInclude, nil
	case "exclude":
		return EdgeExclude, nil
	default:
		return EdgeParity, fmt.Errorf("unknown edge policy %q", name)
	}
}

// PolygonFromLeaves builds the field outline of a multi-leaf collimator.
// boundaries holds the n+1 leaf edges along y in ascending order; bankA and
// bankB hold the n tip positions along x of the left and right banks.
// The outline walks up the right bank tips and back down the left ones.
func PolygonFromLeaves(boundaries, bankA, bankB []float64) (Polygon, error) {
	n := len(bankA)
	if n == 0 {
		return Polygon{}, fmt.Errorf("leaf field: no leaves")
	}
	if len(bankB) != n {
		return Polygon{}, fmt.Errorf("leaf field: bank sizes differ (%d vs %d)", n, len(bankB))
	}
	if len(boundaries) != n+1 {
		return Polygon{}, fmt.Errorf("leaf field: want %d leaf boundaries, got %d", n+1, len(boundaries))
	}
	for i := 0; i < n; i++ {
		if boundaries[i+1] <= boundaries[i] {
			return Polygon{}, fmt.Errorf("leaf field: boundaries not ascending at %d", i)
		}
		if bankA[i] > bankB[i] {
			return Polygon{}, fmt.Errorf("leaf field: leaf pair %d overlaps (A=%g > B=%g)", i, bankA[i], bankB[i])
		}
	}

	v := make([]r2.Vec, 0, 4*n)
	for i := 0; i < n; i++ {
		v = append(v, r2.Vec{X: bankB[i], Y: boundaries[i]}, r2.Vec{X: bankB[i], Y: boundaries[i+1]})
	}
	for i := n - 1; i >= 0; i-- {
		v = append(v, r2.Vec{X: bankA[i], Y: boundaries[i+1]}, r2.Vec{X: bankA[i], Y: boundaries[i]})
	}
	return Polygon{Vertices: v}, nil
}

func (p Polygon) contains(q r2.Vec, policy EdgePolicy) bool {
	n := len(p.Vertices)
	if n < 3 {
		return false
	}
	if policy != EdgeParity && p.onEdge(q) {
		return policy == EdgeInclude
	}
	in := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.Vertices[i], p.Vertices[j]
		if (a.Y > q.Y) != (b.Y > q.Y) &&
			q.X < (b.X-a.X)*(q.Y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

func (p Polygon) onEdge(q r2.Vec) bool {
	n := len(p.Vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if segmentDistance(q, p.Vertices[j], p.Vertices[i]) <= edgeTolerance {
			return true
		}
	}
	return false
}

func segmentDistance(q, a, b r2.Vec) float64 {
	ab := r2.Sub(b, a)
	l2 := r2.Norm2(ab)
	if l2 == 0 {
		return r2.Norm(r2.Sub(q, a))
	}
	t := math.Max(0, math.Min(1, r2.Dot(r2.Sub(q, a), ab)/l2))
	return r2.Norm(r2.Sub(q, r2.Add(a, r2.Scale(t, ab))))
}
