package export_test

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/export"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/fsutil"
	"github.com/banshee-data/dose.report/internal/units"
)

func readCSV(t *testing.T, data []byte) [][]string {
	t.Helper()
	recs, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	return recs
}

func voxelRow() run.Row {
	return run.Row{
		Collection: "phantom",
		Kind:       scoring.Voxel,
		Global:     voxel.ID{X: 1, Y: 0, Z: 2},
		Local:      voxel.ID{X: 3, Y: 1, Z: 0},
		HasLocal:   true,
		Position:   r3.Vec{X: -1.25, Y: 0.5, Z: 10},
		Dose:       2 / units.JoulePerMeV, // 2 Gy in MeV/kg
		Tags:       run.Tags{InField: true, Mask: 1, Geo: 0.5, WeightedGeo: 0.25},
	}
}

func TestVoxelHeader(t *testing.T) {
	want := []string{
		"global_x", "global_y", "global_z",
		"pos_x_mm", "pos_y_mm", "pos_z_mm",
		"dose_cgy", "mask_tag", "geo_tag", "weighted_geo_tag",
		"dose_cgy_over_geo_mask", "dose_cgy_over_weighted_geo_mask",
	}
	if diff := cmp.Diff(want, export.VoxelHeader(false, units.CGy)); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, export.VoxelHeader(true, units.Gy), len(want)+3)
}

func TestWriteVoxels_Columns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteVoxels(&buf, []run.Row{voxelRow()}, units.Gy))

	recs := readCSV(t, buf.Bytes())
	require.Len(t, recs, 2)
	require.Len(t, recs[1], 15)
	assert.Equal(t, []string{"1", "0", "2", "3", "1", "0", "-1.25", "0.5", "10"}, recs[1][:9])

	num := func(i int) float64 {
		v, err := strconv.ParseFloat(recs[1][i], 64)
		require.NoError(t, err)
		return v
	}
	assert.InDelta(t, 2.0, num(9), 1e-12)
	assert.Equal(t, 1.0, num(10))
	assert.Equal(t, 0.5, num(11))
	assert.Equal(t, 0.25, num(12))
	assert.InDelta(t, 4.0, num(13), 1e-12)
	assert.InDelta(t, 8.0, num(14), 1e-12)
}

func TestWriteVoxels_CellRowsAndZeroTags(t *testing.T) {
	row := voxelRow()
	row.Kind = scoring.Cell
	row.HasLocal = false
	row.Tags = run.Tags{}

	var buf bytes.Buffer
	require.NoError(t, export.WriteVoxels(&buf, []run.Row{row}, units.MeVPerKg))
	recs := readCSV(t, buf.Bytes())
	require.Len(t, recs, 2)
	require.Len(t, recs[1], 12)
	assert.Equal(t, "0", recs[1][10], "ratio with zero geo tag is 0")
	assert.Equal(t, "0", recs[1][11])
}

func TestWriteVoxels_UnknownUnitWritesGray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteVoxels(&buf, nil, "rad"))
	recs := readCSV(t, buf.Bytes())
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "dose_gy")
}

func TestWriteMaskPoints(t *testing.T) {
	var buf bytes.Buffer
	pts := []r3.Vec{{X: -20, Y: -20}, {X: 19.75, Y: 0, Z: 0.125}}
	require.NoError(t, export.WriteMaskPoints(&buf, pts))
	want := [][]string{
		{"x_mm", "y_mm", "z_mm"},
		{"-20", "-20", "0"},
		{"19.75", "0", "0.125"},
	}
	if diff := cmp.Diff(want, readCSV(t, buf.Bytes())); diff != "" {
		t.Errorf("mask dump mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_FileNames(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	w := export.NewWriter(mfs, "/out", "")

	p, err := w.Voxels("cp1", []run.Row{voxelRow()})
	require.NoError(t, err)
	assert.Equal(t, "/out/cp1_voxels.csv", p)

	p, err = w.Mask("cp1", "plan", []r3.Vec{{}})
	require.NoError(t, err)
	assert.Equal(t, "/out/cp1_mask_plan.csv", p)

	_, err = w.Mask("cp1", "sim", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"/out/cp1_mask_plan.csv", "/out/cp1_mask_sim.csv", "/out/cp1_voxels.csv"}, mfs.Files("/out"))

	data, err := mfs.ReadFile("/out/cp1_mask_sim.csv")
	require.NoError(t, err)
	assert.Equal(t, "x_mm,y_mm,z_mm\n", string(data))
}

func TestWriter_OSFileSystem(t *testing.T) {
	dir := t.TempDir()
	w := export.NewWriter(nil, dir, units.CGy)
	p, err := w.Voxels("cp2", nil)
	require.NoError(t, err)
	data, err := fsutil.OSFileSystem{}.ReadFile(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "dose_cgy")
}
