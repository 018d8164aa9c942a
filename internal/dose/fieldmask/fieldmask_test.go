package fieldmask

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

func filledMask(t *testing.T, shape Shape, beam Beam) *Mask {
	t.Helper()
	pts, err := GeneratePlanMask(shape, 0, beam, DefaultSpacing, EdgeParity, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	m := NewMask("Plan")
	require.NoError(t, m.Fill(shape, pts))
	return m
}

func TestParseShape(t *testing.T) {
	tests := []struct {
		name string
		want ShapeKind
	}{
		{"Rectangular", KindRect},
		{"Elipsoidal", KindEllipse},
		{"Ellipsoidal", KindEllipse},
		{"Polygon", KindPolygon},
		{"MLC", KindPolygon},
	}
	for _, tt := range tests {
		got, err := ParseShape(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
	_, err := ParseShape("Triangle")
	assert.ErrorIs(t, err, ErrUnknownShape)
}

func TestGeneratePlanMask_RectangleCount(t *testing.T) {
	pts, err := GeneratePlanMask(Rect{A: 40, B: 40}, 0, Beam{}, 0.25, EdgeParity, nil)
	require.NoError(t, err)
	assert.Equal(t, 160*160, len(pts))
	assert.Equal(t, r3.Vec{X: -20, Y: -20}, pts[0])
	assert.Equal(t, r3.Vec{X: 19.75, Y: 19.75}, pts[len(pts)-1])
}

func TestGeneratePlanMask_EllipseInsideRectangle(t *testing.T) {
	pts, err := GeneratePlanMask(Ellipse{A: 40, B: 20}, 0, Beam{}, 0.25, EdgeParity, nil)
	require.NoError(t, err)
	// pi/4 of the 160x80 bounding grid, give or take the rim.
	want := math.Pi / 4 * 160 * 80
	assert.InEpsilon(t, want, float64(len(pts)), 0.02)
	for _, p := range pts {
		require.True(t, Contains(Ellipse{A: 40, B: 20}, r2.Vec{X: p.X, Y: p.Y}, EdgeParity))
	}
}

func TestGeneratePlanMask_PolygonIsSeeded(t *testing.T) {
	poly, err := PolygonFromLeaves([]float64{-10, 0, 10}, []float64{-5, -10}, []float64{5, 10})
	require.NoError(t, err)

	a, err := GeneratePlanMask(poly, 0, Beam{}, 0, EdgeParity, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := GeneratePlanMask(poly, 0, Beam{}, 0, EdgeParity, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("same seed produced different masks (-a +b):\n%s", diff)
	}

	// Field area 300 mm2 of a 40000 mm2 sampling square.
	assert.InEpsilon(t, MaxSampleDraws*300.0/40000, float64(len(a)), 0.05)

	_, err = GeneratePlanMask(poly, 0, Beam{}, 0, EdgeParity, nil)
	assert.ErrorIs(t, err, ErrNilRand)
}

func TestPolygonFromLeaves(t *testing.T) {
	poly, err := PolygonFromLeaves([]float64{-10, 0, 10}, []float64{-5, -10}, []float64{5, 10})
	require.NoError(t, err)
	want := []r2.Vec{
		{X: 5, Y: -10}, {X: 5, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10},
		{X: -10, Y: 10}, {X: -10, Y: 0}, {X: -5, Y: 0}, {X: -5, Y: -10},
	}
	assert.Equal(t, want, poly.Vertices)

	assert.True(t, Contains(poly, r2.Vec{X: 7, Y: 5}, EdgeParity))
	assert.False(t, Contains(poly, r2.Vec{X: 7, Y: -5}, EdgeParity))
	assert.True(t, Contains(poly, r2.Vec{X: 0, Y: -5}, EdgeParity))

	w, h := poly.Extent()
	assert.Equal(t, 20.0, w)
	assert.Equal(t, 20.0, h)

	_, err = PolygonFromLeaves([]float64{0, 1}, []float64{2}, []float64{1})
	assert.Error(t, err, "overlapping leaves")
	_, err = PolygonFromLeaves([]float64{0, 1, 2}, []float64{0}, []float64{1})
	assert.Error(t, err, "boundary count")
}

func TestPolygonEdgePolicy(t *testing.T) {
	poly, err := PolygonFromLeaves([]float64{-10, 10}, []float64{-5}, []float64{5})
	require.NoError(t, err)
	edge := r2.Vec{X: 5, Y: 0}

	assert.True(t, Contains(poly, edge, EdgeInclude))
	assert.False(t, Contains(poly, edge, EdgeExclude))
	// Policies agree away from the edge.
	for _, policy := range []EdgePolicy{EdgeParity, EdgeInclude, EdgeExclude} {
		assert.True(t, Contains(poly, r2.Vec{X: 4.9}, policy), policy.String())
		assert.False(t, Contains(poly, r2.Vec{X: 5.1}, policy), policy.String())
	}

	p, err := ParseEdgePolicy("")
	require.NoError(t, err)
	assert.Equal(t, EdgeParity, p)
	_, err = ParseEdgePolicy("sometimes")
	assert.Error(t, err)
}

func TestMask_WriteOnce(t *testing.T) {
	m := NewMask("Plan")
	assert.False(t, m.Filled())
	_, ok := m.First()
	assert.False(t, ok)

	require.NoError(t, m.Fill(Rect{A: 1, B: 1}, []r3.Vec{{X: 1}}))
	err := m.Fill(Rect{A: 2, B: 2}, []r3.Vec{{X: 2}, {X: 3}})
	require.ErrorIs(t, err, ErrMaskAlreadyFilled)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, Rect{A: 1, B: 1}, m.Shape())
}

func TestProjector_RectangleCentreAndEdge(t *testing.T) {
	const a, b = 40.0, 20.0
	beam := Beam{SID: 1000}
	p, err := NewProjector(beam, filledMask(t, Rect{A: a, B: b}, beam), DefaultSpacing, EdgeParity)
	require.NoError(t, err)

	centre, ok := p.ProjectToPlane(r3.Vec{})
	require.True(t, ok)
	assert.True(t, p.IsInField(centre, true))

	eps := 1e-3
	out, ok := p.ProjectToPlane(r3.Vec{X: a/2 + eps})
	require.True(t, ok)
	assert.False(t, p.IsInField(out, true))
	assert.True(t, p.IsInField(r3.Vec{X: a/2 - eps}, false))
}

func TestProjector_ProjectsThroughSource(t *testing.T) {
	beam := Beam{SID: 1000}
	p, err := NewProjector(beam, filledMask(t, Rect{A: 10, B: 10}, beam), DefaultSpacing, EdgeParity)
	require.NoError(t, err)

	// Halfway between source and a point 1000 mm downstream.
	got, ok := p.ProjectToPlane(r3.Vec{X: 10, Z: 1000})
	require.True(t, ok)
	assert.Equal(t, r3.Vec{X: 5}, got)
	assert.True(t, p.InField(r3.Vec{X: 8, Z: 1000}), "diverging beam widens downstream")
	assert.False(t, p.InField(r3.Vec{X: 8}))

	_, ok = p.ProjectToPlane(r3.Vec{X: 1, Z: -1000})
	assert.False(t, ok, "line parallel to the plane")
}

func TestProjector_RotatedBeam(t *testing.T) {
	beam := Beam{RotationDeg: 90, SID: 1000}
	p, err := NewProjector(beam, filledMask(t, Rect{A: 10, B: 40}, beam), DefaultSpacing, EdgeParity)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, beam.Axis().X, 1e-12)
	assert.True(t, p.InField(beam.ToWorld(r3.Vec{X: 4})))
	assert.False(t, p.InField(beam.ToWorld(r3.Vec{X: 6})))
	assert.True(t, p.InField(beam.ToWorld(r3.Vec{Y: 15})))
}

func TestProjector_ClosestDistanceAndMaskTag(t *testing.T) {
	beam := Beam{SID: 1000}
	p, err := NewProjector(beam, filledMask(t, Rect{A: 40, B: 40}, beam), DefaultSpacing, EdgeParity)
	require.NoError(t, err)

	// Largest mask x is -20 + 159*0.25.
	assert.InDelta(t, 10.25, p.ClosestDistance(r3.Vec{X: 30}), 1e-9)
	assert.InDelta(t, 0.25/10.25, p.MaskTag(r3.Vec{X: 30}), 1e-12)
	assert.Equal(t, 1.0, p.MaskTag(r3.Vec{X: 3, Y: -7}))

	// Outside but nearer than one spacing: the tag exceeds 1.
	assert.InDelta(t, 25.0, p.MaskTag(r3.Vec{X: -20.01}), 1e-6)

	_, err = NewProjector(beam, NewMask("Plan"), DefaultSpacing, EdgeParity)
	assert.ErrorIs(t, err, ErrEmptyMask)
}

func TestCentroid(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 4}, {X: 0, Y: 8}}
	c, ok := Centroid(pts, nil)
	require.True(t, ok)
	assert.InDelta(t, 4.0/3, c.X, 1e-12)
	assert.InDelta(t, 8.0/3, c.Y, 1e-12)

	c, ok = Centroid(pts, []float64{1, 3, 0})
	require.True(t, ok)
	assert.InDelta(t, 3.0, c.X, 1e-12)
	assert.InDelta(t, 0.0, c.Y, 1e-12)

	_, ok = Centroid(pts, []float64{0, 0, 0})
	assert.False(t, ok)
	_, ok = Centroid(nil, nil)
	assert.False(t, ok)
}
