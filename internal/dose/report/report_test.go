package report

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/synthetic"
	"github.com/banshee-data/dose.report/internal/fsutil"
	"github.com/banshee-data/dose.report/internal/testutil"
	"github.com/banshee-data/dose.report/internal/units"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestWriteMaskPlot_PNG(t *testing.T) {
	beam := fieldmask.Beam{RotationDeg: 90, SID: 1000}
	plan, err := fieldmask.GeneratePlanMask(fieldmask.Rect{A: 10, B: 10}, 0, beam, 0.5, fieldmask.EdgeParity, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMaskPlot(&buf, "masks", beam, plan, plan[:10]))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	buf.Reset()
	require.NoError(t, WriteMaskPlot(&buf, "empty", beam, nil, nil), "empty masks still render axes")
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestBeamXYs_StridesLargeMasks(t *testing.T) {
	pts := make([]r3.Vec, 3*MaxPlotPoints)
	for i := range pts {
		pts[i] = r3.Vec{X: float64(i)}
	}
	xys := beamXYs(fieldmask.Beam{SID: 1000}, pts)
	assert.LessOrEqual(t, len(xys), MaxPlotPoints)
	assert.Equal(t, 0.0, xys[0].X)
	assert.Equal(t, 3.0, xys[1].X)
}

func TestBeamXYs_RotatesIntoBeamFrame(t *testing.T) {
	beam := fieldmask.Beam{RotationDeg: 90, SID: 1000}
	world := beam.ToWorld(r3.Vec{X: 5, Y: -2})
	xys := beamXYs(beam, []r3.Vec{world})
	require.Len(t, xys, 1)
	assert.InDelta(t, 5, xys[0].X, 1e-9)
	assert.InDelta(t, -2, xys[0].Y, 1e-9)
}

func TestParseAxis(t *testing.T) {
	for in, want := range map[string]Axis{"x": AxisX, "Y": AxisY, "z": AxisZ, "": AxisZ} {
		got, err := ParseAxis(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAxis("w")
	assert.Error(t, err)
}

func TestPeakSlice(t *testing.T) {
	rows := []run.Row{
		{Position: r3.Vec{X: 0, Y: 0, Z: 0}, Dose: 1},
		{Position: r3.Vec{X: 1, Y: 0, Z: 2.5}, Dose: 5},
		{Position: r3.Vec{X: 2, Y: 1, Z: 2.5}, Dose: 3},
		{Position: r3.Vec{X: 2, Y: 1, Z: 5}, Dose: 4},
	}
	s, ok := PeakSlice(rows, AxisZ, 1.25)
	require.True(t, ok)
	assert.Equal(t, 2.5, s.Position)
	assert.Len(t, s.Rows, 2)

	s, ok = PeakSlice(rows, AxisX, 0.5)
	require.True(t, ok)
	assert.Equal(t, 1.0, s.Position)
	assert.Len(t, s.Rows, 1)

	_, ok = PeakSlice(nil, AxisZ, 1)
	assert.False(t, ok)
}

func TestWriteDoseSlice_HTML(t *testing.T) {
	s := Slice{Axis: AxisY, Position: 0, Rows: []run.Row{
		{Position: r3.Vec{X: -5, Z: 3}, Dose: 1 / units.JoulePerMeV, Tags: run.Tags{InField: true}},
		{Position: r3.Vec{X: 25, Z: 3}, Dose: 0.1 / units.JoulePerMeV},
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteDoseSlice(&buf, "cp1 phantom dose", s, units.CGy))
	html := buf.String()
	assert.Contains(t, html, "cp1 phantom dose")
	assert.Contains(t, html, "in field")
	assert.Contains(t, html, "out of field")
	assert.Contains(t, html, "cGy")
	assert.True(t, strings.Contains(html, "echarts"))
}

func TestReporter_ControlPoint(t *testing.T) {
	reg := testutil.BoxRegistry(t, "phantom", 20, 1, 4)
	cp, err := controlpoint.New(testutil.RectControlPoint(2, 10, 10, 10, 2, 1), reg,
		synthetic.Point{Position: r3.Vec{X: 1, Y: 1, Z: 1}, Deposit: 1, Density: 1})
	require.NoError(t, err)
	_, err = cp.Run(context.Background())
	require.NoError(t, err)

	mfs := fsutil.NewMemoryFileSystem()
	paths, err := NewReporter(mfs, "/reports", AxisZ, units.Gy).ControlPoint(cp)
	require.NoError(t, err)
	assert.Equal(t, []string{"/reports/cp2_masks.png", "/reports/cp2_phantom_dose.html"}, paths)

	png, err := mfs.ReadFile(paths[0])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))
}
