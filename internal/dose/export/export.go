// Package export writes run results and field masks as CSV tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/fsutil"
	"github.com/banshee-data/dose.report/internal/units"
)

// VoxelHeader returns the voxel table column names. Local id columns are
// present only for voxel-resolution collections.
func VoxelHeader(withLocal bool, doseUnits string) []string {
	header := []string{"global_x", "global_y", "global_z"}
	if withLocal {
		header = append(header, "local_x", "local_y", "local_z")
	}
	d := "dose_" + unitSuffix(doseUnits)
	return append(header,
		"pos_x_mm", "pos_y_mm", "pos_z_mm",
		d, "mask_tag", "geo_tag", "weighted_geo_tag",
		d+"_over_geo_mask", d+"_over_weighted_geo_mask",
	)
}

// MaskHeader returns the field-mask table column names.
func MaskHeader() []string { return []string{"x_mm", "y_mm", "z_mm"} }

func unitSuffix(u string) string {
	switch u {
	case units.CGy:
		return "cgy"
	case units.MGy:
		return "mgy"
	case units.MeVPerKg:
		return "mev_per_kg"
	default:
		return "gy"
	}
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteVoxels writes one row per populated voxel. Doses are converted to
// doseUnits; an unknown unit writes Gy.
func WriteVoxels(out io.Writer, rows []run.Row, doseUnits string) error {
	if !units.IsValidDose(doseUnits) {
		opsf("dose unit %q not recognised, writing %s", doseUnits, units.Gy)
		doseUnits = units.Gy
	}
	withLocal := len(rows) > 0 && rows[0].HasLocal
	w := csv.NewWriter(out)
	if err := w.Write(VoxelHeader(withLocal, doseUnits)); err != nil {
		return fmt.Errorf("failed to write voxel header: %w", err)
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Global.X), strconv.Itoa(r.Global.Y), strconv.Itoa(r.Global.Z),
		}
		if withLocal {
			rec = append(rec, strconv.Itoa(r.Local.X), strconv.Itoa(r.Local.Y), strconv.Itoa(r.Local.Z))
		}
		dose := units.ConvertDose(r.Dose, doseUnits)
		scaled := r
		scaled.Dose = dose
		rec = append(rec,
			formatFloat(r.Position.X), formatFloat(r.Position.Y), formatFloat(r.Position.Z),
			formatFloat(dose),
			formatFloat(r.Tags.Mask),
			formatFloat(r.Tags.Geo),
			formatFloat(r.Tags.WeightedGeo),
			formatFloat(scaled.DoseOverGeo()),
			formatFloat(scaled.DoseOverWeightedGeo()),
		)
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("failed to write voxel row %v/%v: %w", r.Global, r.Local, err)
		}
	}
	w.Flush()
	return w.Error()
}

// WriteMaskPoints writes one row per mask point.
func WriteMaskPoints(out io.Writer, pts []r3.Vec) error {
	w := csv.NewWriter(out)
	if err := w.Write(MaskHeader()); err != nil {
		return fmt.Errorf("failed to write mask header: %w", err)
	}
	for _, p := range pts {
		if err := w.Write([]string{formatFloat(p.X), formatFloat(p.Y), formatFloat(p.Z)}); err != nil {
			return fmt.Errorf("failed to write mask point: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

// Writer places CSV tables in an output directory.
type Writer struct {
	fs        fsutil.FileSystem
	dir       string
	doseUnits string
}

// NewWriter returns a Writer rooted at dir. An empty doseUnits writes Gy.
func NewWriter(fsys fsutil.FileSystem, dir, doseUnits string) *Writer {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if doseUnits == "" {
		doseUnits = units.Gy
	}
	return &Writer{fs: fsys, dir: dir, doseUnits: doseUnits}
}

// Voxels writes <label>_voxels.csv and returns its path.
func (w *Writer) Voxels(label string, rows []run.Row) (string, error) {
	return w.write(label+"_voxels.csv", func(out io.Writer) error {
		return WriteVoxels(out, rows, w.doseUnits)
	})
}

// Mask writes <label>_mask_<kind>.csv, where kind is "plan" or "sim", and
// returns its path.
func (w *Writer) Mask(label, kind string, pts []r3.Vec) (string, error) {
	return w.write(fmt.Sprintf("%s_mask_%s.csv", label, kind), func(out io.Writer) error {
		return WriteMaskPoints(out, pts)
	})
}

func (w *Writer) write(name string, fn func(io.Writer) error) (string, error) {
	f, path, err := fsutil.CreateIn(w.fs, w.dir, name)
	if err != nil {
		return "", err
	}
	if err := fn(f); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	diagf("wrote %s", path)
	return path, nil
}
