package voxel

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// BorderTolerance is the distance (mm) within which a position is treated
// as lying on a grid face rather than outside it.
const BorderTolerance = 1e-11

// ErrInvalidCounts is returned by Build when a voxel count is not positive.
var ErrInvalidCounts = errors.New("voxel counts must be positive")

// ErrDegenerateBox is returned by Build when the box has no extent on an axis.
var ErrDegenerateBox = errors.New("box must have positive extent on every axis")

// Axis selects one of the three grid axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return fmt.Sprintf("axis(%d)", int(a))
	}
}

// Box is an axis-aligned bounding box in the global frame (mm).
type Box struct {
	Min, Max r3.Vec
}

// NewBoxAt returns a box of the given full size centred on c.
func NewBoxAt(c r3.Vec, sizeX, sizeY, sizeZ float64) Box {
	h := r3.Vec{X: sizeX / 2, Y: sizeY / 2, Z: sizeZ / 2}
	return Box{Min: r3.Sub(c, h), Max: r3.Add(c, h)}
}

// Centre returns the geometric centre of the box.
func (b Box) Centre() r3.Vec {
	return r3.Scale(0.5, r3.Add(b.Min, b.Max))
}

// Size returns the full extent of the box on each axis.
func (b Box) Size() r3.Vec {
	return r3.Sub(b.Max, b.Min)
}

func (b Box) bounds(a Axis) (lo, hi float64) {
	switch a {
	case AxisX:
		return b.Min.X, b.Max.X
	case AxisY:
		return b.Min.Y, b.Max.Y
	default:
		return b.Min.Z, b.Max.Z
	}
}

// ID is a voxel index triple within one grid.
type ID struct {
	X, Y, Z int
}

func (id ID) String() string {
	return fmt.Sprintf("(%d,%d,%d)", id.X, id.Y, id.Z)
}

// Grid is a voxelised scoring volume. Centres are computed once by Build
// and the grid is never resized afterwards.
type Grid struct {
	box     Box
	shape   Shape
	n       [3]int
	d       [3]float64
	centres []r3.Vec
}

// Build creates a grid of nX x nY x nZ voxels over box.
// Centres are stored at Index(ix, iy, iz) = (ix*nY + iy)*nZ + iz.
func Build(box Box, nX, nY, nZ int, shape Shape) (*Grid, error) {
	if nX <= 0 || nY <= 0 || nZ <= 0 {
		return nil, fmt.Errorf("build grid (%d,%d,%d): %w", nX, nY, nZ, ErrInvalidCounts)
	}
	size := box.Size()
	if !(size.X > 0 && size.Y > 0 && size.Z > 0) {
		return nil, fmt.Errorf("build grid size=%v: %w", size, ErrDegenerateBox)
	}
	if err := shape.validate(box); err != nil {
		return nil, err
	}

	g := &Grid{
		box:   box,
		shape: shape,
		n:     [3]int{nX, nY, nZ},
		d:     [3]float64{size.X / float64(nX), size.Y / float64(nY), size.Z / float64(nZ)},
	}
	g.centres = make([]r3.Vec, nX*nY*nZ)
	for ix := 0; ix < nX; ix++ {
		x := box.Min.X + (float64(ix)+0.5)*g.d[0]
		for iy := 0; iy < nY; iy++ {
			y := box.Min.Y + (float64(iy)+0.5)*g.d[1]
			for iz := 0; iz < nZ; iz++ {
				z := box.Min.Z + (float64(iz)+0.5)*g.d[2]
				g.centres[g.Index(ix, iy, iz)] = r3.Vec{X: x, Y: y, Z: z}
			}
		}
	}
	diagf("built grid box=%v..%v counts=(%d,%d,%d) shape=%s", box.Min, box.Max, nX, nY, nZ, shape)
	return g, nil
}

// Box returns the bounding box of the grid.
func (g *Grid) Box() Box { return g.box }

// Shape returns the shape tag of the grid.
func (g *Grid) Shape() Shape { return g.shape }

// Counts returns the voxel counts per axis.
func (g *Grid) Counts() (nX, nY, nZ int) { return g.n[0], g.n[1], g.n[2] }

// Len returns the total number of voxels.
func (g *Grid) Len() int { return len(g.centres) }

// VoxelSize returns the voxel width on each axis.
func (g *Grid) VoxelSize() r3.Vec {
	return r3.Vec{X: g.d[0], Y: g.d[1], Z: g.d[2]}
}

// Index linearises (ix, iy, iz), X-major then Y then Z.
func (g *Grid) Index(ix, iy, iz int) int {
	return (ix*g.n[1]+iy)*g.n[2] + iz
}

// Decompose inverts Index.
func (g *Grid) Decompose(idx int) ID {
	iz := idx % g.n[2]
	rest := idx / g.n[2]
	return ID{X: rest / g.n[1], Y: rest % g.n[1], Z: iz}
}

// Contains reports whether id addresses a voxel of this grid.
func (g *Grid) Contains(id ID) bool {
	return id.X >= 0 && id.X < g.n[0] &&
		id.Y >= 0 && id.Y < g.n[1] &&
		id.Z >= 0 && id.Z < g.n[2]
}

// Centre returns the centre of voxel id in the global frame.
func (g *Grid) Centre(id ID) r3.Vec {
	return g.centres[g.Index(id.X, id.Y, id.Z)]
}

// CentreAt returns the centre of the voxel at linear index idx.
func (g *Grid) CentreAt(idx int) r3.Vec {
	return g.centres[idx]
}

// Bounds returns the box covered by voxel id.
func (g *Grid) Bounds(id ID) Box {
	lo := r3.Vec{
		X: g.box.Min.X + float64(id.X)*g.d[0],
		Y: g.box.Min.Y + float64(id.Y)*g.d[1],
		Z: g.box.Min.Z + float64(id.Z)*g.d[2],
	}
	return Box{Min: lo, Max: r3.Add(lo, g.VoxelSize())}
}

// VoxelIDForPosition resolves the voxel id along one axis.
// Positions equal to the lower bound map to 0 and positions equal to the
// upper bound map to n-1. Positions outside the bounds by more than
// BorderTolerance are logged and clamped to the nearest edge voxel, so
// floating point noise at a face never yields an id outside [0, n). A NaN
// coordinate resolves to 0 and is logged on the ops stream.
func (g *Grid) VoxelIDForPosition(a Axis, x float64) int {
	lo, hi := g.box.bounds(a)
	n := g.n[a]
	if math.IsNaN(x) {
		opsf("position %s is NaN, resolving to voxel 0", a)
		return 0
	}
	if x == lo {
		return 0
	}
	if x == hi {
		return n - 1
	}
	id := int(math.Floor(float64(n) * (x - lo) / (hi - lo)))
	if id < 0 {
		if lo-x > BorderTolerance {
			diagf("position %s=%.12g below grid min %.12g, clamping to 0", a, x, lo)
		} else {
			tracef("position %s=%.12g snapped to grid min %.12g", a, x, lo)
		}
		return 0
	}
	if id >= n {
		if x-hi > BorderTolerance {
			diagf("position %s=%.12g above grid max %.12g, clamping to %d", a, x, hi, n-1)
		} else {
			tracef("position %s=%.12g snapped to grid max %.12g", a, x, hi)
		}
		return n - 1
	}
	return id
}

// VoxelIDs resolves the voxel id triple for pos.
func (g *Grid) VoxelIDs(pos r3.Vec) ID {
	return ID{
		X: g.VoxelIDForPosition(AxisX, pos.X),
		Y: g.VoxelIDForPosition(AxisY, pos.Y),
		Z: g.VoxelIDForPosition(AxisZ, pos.Z),
	}
}

// IsInside reports whether pos lies within the exact bounds of the grid
// (faces included). Cylindrical grids use the radial distance from the
// transverse centre.
func (g *Grid) IsInside(pos r3.Vec) bool {
	return g.inside(pos, 0)
}

// IsOnBorder reports whether pos lies within BorderTolerance of a face of
// the grid. Positions on the border are valid for id resolution, but a
// border step with zero energy deposit must not create a voxel.
func (g *Grid) IsOnBorder(pos r3.Vec) bool {
	if !g.inside(pos, BorderTolerance) {
		return false
	}
	for a := AxisX; a <= AxisZ; a++ {
		if g.shape.Kind == ShapeCylinder && a != AxisZ {
			continue
		}
		lo, hi := g.box.bounds(a)
		x := axisValue(pos, a)
		if math.Abs(x-lo) <= BorderTolerance || math.Abs(x-hi) <= BorderTolerance {
			return true
		}
	}
	if g.shape.Kind == ShapeCylinder {
		r := g.shape.radialDistance(g.box, pos)
		return math.Abs(r-g.shape.Radius) <= BorderTolerance
	}
	return false
}

func (g *Grid) inside(pos r3.Vec, tol float64) bool {
	switch g.shape.Kind {
	case ShapeCylinder:
		lo, hi := g.box.bounds(AxisZ)
		if pos.Z < lo-tol || pos.Z > hi+tol {
			return false
		}
		return g.shape.radialDistance(g.box, pos) <= g.shape.Radius+tol
	default:
		return pos.X >= g.box.Min.X-tol && pos.X <= g.box.Max.X+tol &&
			pos.Y >= g.box.Min.Y-tol && pos.Y <= g.box.Max.Y+tol &&
			pos.Z >= g.box.Min.Z-tol && pos.Z <= g.box.Max.Z+tol
	}
}

// Volume returns the scoring volume of the whole grid (mm3), dispatching
// on the shape tag.
func (g *Grid) Volume() float64 {
	return g.shape.volume(g.box)
}

// VoxelVolume returns the volume of one voxel (mm3).
func (g *Grid) VoxelVolume() float64 {
	return g.Volume() / float64(len(g.centres))
}

func axisValue(v r3.Vec, a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}
