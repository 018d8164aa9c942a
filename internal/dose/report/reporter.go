package report

import (
	"fmt"
	"io"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/fsutil"
)

// Reporter writes the reports of finished control points into a directory.
type Reporter struct {
	fs        fsutil.FileSystem
	dir       string
	axis      Axis
	doseUnits string
}

// NewReporter returns a Reporter rooted at dir. Dose slices are taken
// normal to axis.
func NewReporter(fsys fsutil.FileSystem, dir string, axis Axis, doseUnits string) *Reporter {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Reporter{fs: fsys, dir: dir, axis: axis, doseUnits: doseUnits}
}

// ControlPoint writes <label>_masks.png and, for every run collection with
// voxel scoring, <label>_<collection>_dose.html. It returns the written
// paths.
func (r *Reporter) ControlPoint(cp *controlpoint.ControlPoint) ([]string, error) {
	label := cp.Config().Label()
	var paths []string

	p, err := r.write(label+"_masks.png", func(w io.Writer) error {
		return WriteMaskPlot(w, fmt.Sprintf("%s field masks (%s, %.1f deg)", label, cp.Shape().Kind(), cp.Rotation()),
			cp.Config().Beam, cp.PlanMask(), cp.SimMask())
	})
	if err != nil {
		return paths, err
	}
	paths = append(paths, p)

	res := cp.Result()
	if res == nil {
		return paths, nil
	}
	for _, coll := range res.Collections() {
		d, err := res.Detector(coll)
		if err != nil {
			return paths, err
		}
		if !d.Scores(scoring.Voxel) {
			continue
		}
		rows, err := res.Rows(coll, scoring.Voxel)
		if err != nil {
			return paths, err
		}
		s, ok := PeakSlice(rows, r.axis, component(d.CellGrid(voxel.ID{}).VoxelSize(), r.axis)/2)
		if !ok {
			continue
		}
		p, err := r.write(fmt.Sprintf("%s_%s_dose.html", label, coll), func(w io.Writer) error {
			return WriteDoseSlice(w, fmt.Sprintf("%s %s dose", label, coll), s, r.doseUnits)
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func (r *Reporter) write(name string, fn func(io.Writer) error) (string, error) {
	f, path, err := fsutil.CreateIn(r.fs, r.dir, name)
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
	return path, nil
}
