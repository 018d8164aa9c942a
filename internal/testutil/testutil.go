// Package testutil provides shared fixtures for the dose packages' tests.
package testutil

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertClose fails the test if got and want differ by more than tol.
func AssertClose(t testing.TB, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %g, want %g (±%g)", name, got, want, tol)
	}
}

// BoxRegistry returns a registry holding one cube detector of the given
// edge length centred on the origin.
func BoxRegistry(t testing.TB, name string, size float64, cells, voxels int) *scoring.Registry {
	t.Helper()
	reg := scoring.NewRegistry()
	_, err := reg.Register(scoring.DetectorSpec{
		Name:   name,
		Box:    voxel.NewBoxAt(r3.Vec{}, size, size, size),
		Cells:  [3]int{cells, cells, cells},
		Voxels: [3]int{voxels, voxels, voxels},
		Shape:  voxel.BoxShape(),
	})
	AssertNoError(t, err)
	return reg
}

// RectControlPoint returns an unrotated a x b rectangular control point at
// the default source distance.
func RectControlPoint(id int, a, b float64, events, workers int, seed int64) controlpoint.Config {
	return controlpoint.Config{
		ID:      id,
		Shape:   fieldmask.Rect{A: a, B: b},
		Beam:    fieldmask.Beam{SID: fieldmask.DefaultSID},
		Events:  events,
		Workers: workers,
		Seed:    seed,
	}
}
