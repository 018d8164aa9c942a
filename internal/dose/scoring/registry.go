package scoring

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

var (
	// ErrDuplicateDetector is returned when a run collection name is
	// registered twice.
	ErrDuplicateDetector = errors.New("detector already registered")
	// ErrRegistrySealed is returned when registering after a run started.
	ErrRegistrySealed = errors.New("registry sealed")
	// ErrUnknownCollection is returned for names that were never registered.
	ErrUnknownCollection = errors.New("unknown run collection")
)

// DetectorSpec is what geometry construction hands over when a scoring
// region is registered.
type DetectorSpec struct {
	Name   string    // run collection name
	Box    voxel.Box // detector envelope
	Cells  [3]int    // cell counts per axis
	Voxels [3]int    // voxel counts per axis within each cell
	Shape  voxel.Shape
	Kinds  []ScoringKind // defaults to both kinds
}

// Detector is a registered scoring region: a box tiled into cells, each
// voxelised by its own grid. Immutable after registration.
type Detector struct {
	name      string
	cells     *voxel.Grid
	cellGrids []*voxel.Grid
	kinds     []ScoringKind
}

func newDetector(spec DetectorSpec) (*Detector, error) {
	if spec.Name == "" {
		return nil, errors.New("detector name is required")
	}
	single := spec.Cells == [3]int{1, 1, 1}
	if spec.Shape.Kind != voxel.ShapeBox && !single {
		return nil, fmt.Errorf("detector %q: non-box shape %s requires a single cell", spec.Name, spec.Shape)
	}
	cells, err := voxel.Build(spec.Box, spec.Cells[0], spec.Cells[1], spec.Cells[2], spec.Shape)
	if err != nil {
		return nil, fmt.Errorf("detector %q cells: %w", spec.Name, err)
	}

	d := &Detector{
		name:      spec.Name,
		cells:     cells,
		cellGrids: make([]*voxel.Grid, cells.Len()),
		kinds:     spec.Kinds,
	}
	if len(d.kinds) == 0 {
		d.kinds = Kinds
	}
	for idx := range d.cellGrids {
		g, err := voxel.Build(cells.Bounds(cells.Decompose(idx)), spec.Voxels[0], spec.Voxels[1], spec.Voxels[2], spec.Shape)
		if err != nil {
			return nil, fmt.Errorf("detector %q cell %v: %w", spec.Name, cells.Decompose(idx), err)
		}
		d.cellGrids[idx] = g
	}
	return d, nil
}

// Name returns the run collection name.
func (d *Detector) Name() string { return d.name }

// Cells returns the coarse grid whose voxels are the detector cells.
func (d *Detector) Cells() *voxel.Grid { return d.cells }

// CellGrid returns the voxel grid of the cell with the given global ids.
func (d *Detector) CellGrid(global voxel.ID) *voxel.Grid {
	return d.cellGrids[d.cells.Index(global.X, global.Y, global.Z)]
}

// Kinds returns the enabled scoring kinds.
func (d *Detector) Kinds() []ScoringKind { return d.kinds }

// Scores reports whether kind is enabled for the detector.
func (d *Detector) Scores(kind ScoringKind) bool {
	for _, k := range d.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// CellVolume returns the volume of one cell (mm3).
func (d *Detector) CellVolume() float64 { return d.cells.VoxelVolume() }

// VoxelVolume returns the volume of one voxel within a cell (mm3).
func (d *Detector) VoxelVolume() float64 { return d.cellGrids[0].VoxelVolume() }

// VoxelsPerCell returns the number of voxels in each cell.
func (d *Detector) VoxelsPerCell() int { return d.cellGrids[0].Len() }

// Channels returns the length of the channel index for kind.
func (d *Detector) Channels(kind ScoringKind) int {
	switch kind {
	case Voxel:
		return d.cells.Len() * d.VoxelsPerCell()
	default:
		return d.cells.Len()
	}
}

// Position returns the geometric centre scored under kind for the given ids.
func (d *Detector) Position(kind ScoringKind, global, local voxel.ID) r3.Vec {
	switch kind {
	case Voxel:
		return d.CellGrid(global).Centre(local)
	default:
		return d.cells.Centre(global)
	}
}

// HitCollectionName names the hit collection of one kind of a detector.
func HitCollectionName(runCollection string, kind ScoringKind) string {
	return runCollection + "/" + kind.String()
}

// Registry maps run collection names to registered detectors. Build one
// per simulation and pass it to every component that needs it.
type Registry struct {
	detectors []*Detector
	byName    map[string]*Detector
	sealed    bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Detector)}
}

// Register builds and adds a detector. Registration must happen before the
// first run is created.
func (r *Registry) Register(spec DetectorSpec) (*Detector, error) {
	if r.sealed {
		return nil, fmt.Errorf("register %q: %w", spec.Name, ErrRegistrySealed)
	}
	if _, ok := r.byName[spec.Name]; ok {
		return nil, fmt.Errorf("register %q: %w", spec.Name, ErrDuplicateDetector)
	}
	d, err := newDetector(spec)
	if err != nil {
		return nil, err
	}
	r.detectors = append(r.detectors, d)
	r.byName[d.name] = d
	diagf("registered detector %q cells=%v voxels/cell=%d kinds=%v", d.name, spec.Cells, d.VoxelsPerCell(), d.kinds)
	return d, nil
}

// Seal freezes the registry. It is called when the first run is created.
func (r *Registry) Seal() { r.sealed = true }

// Detector looks up a detector by run collection name.
func (r *Registry) Detector(name string) (*Detector, error) {
	d, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("detector %q: %w", name, ErrUnknownCollection)
	}
	return d, nil
}

// Detectors returns the detectors in registration order.
func (r *Registry) Detectors() []*Detector { return r.detectors }

// RunCollections returns the run collection names in registration order.
func (r *Registry) RunCollections() []string {
	names := make([]string, len(r.detectors))
	for i, d := range r.detectors {
		names[i] = d.name
	}
	return names
}

// HitCollections returns the hit collection names of a run collection.
func (r *Registry) HitCollections(runCollection string) ([]string, error) {
	d, err := r.Detector(runCollection)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(d.kinds))
	for i, k := range d.kinds {
		names[i] = HitCollectionName(d.name, k)
	}
	return names, nil
}
