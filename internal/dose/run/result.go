package run

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/hit"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

// Result is the read-only outcome of a finalized run.
type Result struct {
	reg  *scoring.Registry
	maps map[string]*scoring.ScoringMap
	tags *tagSet
}

func newResult(reg *scoring.Registry, maps map[string]*scoring.ScoringMap, tags *tagSet) *Result {
	return &Result{reg: reg, maps: maps, tags: tags}
}

// Row is one populated voxel of a hit collection.
type Row struct {
	Collection string
	Kind       scoring.ScoringKind
	Global     voxel.ID
	Local      voxel.ID
	HasLocal   bool
	Position   r3.Vec
	Centroid   r3.Vec // rolling centroid of the deposits
	Energy     float64
	Dose       float64
	Hits       int
	Tags       Tags
}

// DoseOverGeo returns dose/(geo*mask), or 0 when the denominator is 0.
func (r Row) DoseOverGeo() float64 {
	return ratio(r.Dose, r.Tags.Geo*r.Tags.Mask)
}

// DoseOverWeightedGeo returns dose/(weightedGeo*mask), or 0 when the
// denominator is 0.
func (r Row) DoseOverWeightedGeo() float64 {
	return ratio(r.Dose, r.Tags.WeightedGeo*r.Tags.Mask)
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

// Collections returns the run collection names in registration order.
func (res *Result) Collections() []string { return res.reg.RunCollections() }

// Detector returns the detector of a collection.
func (res *Result) Detector(collection string) (*scoring.Detector, error) {
	return res.reg.Detector(collection)
}

// Map returns the merged scoring map of a collection.
func (res *Result) Map(collection string) (*scoring.ScoringMap, bool) {
	m, ok := res.maps[collection]
	return m, ok
}

// Lookup returns the merged accumulator and tags for the given ids. local
// is ignored for scoring.Cell.
func (res *Result) Lookup(collection string, kind scoring.ScoringKind, global, local voxel.ID) (*hit.VoxelHit, Tags, bool) {
	m, ok := res.maps[collection]
	if !ok {
		return nil, Tags{}, false
	}
	h, ok := m.Lookup(kind, global, local)
	if !ok {
		return nil, Tags{}, false
	}
	return h, res.tags.get(collection, kind, kind.Key(h)), true
}

// Centroids returns the in-field centroids of a hit collection.
func (res *Result) Centroids(collection string, kind scoring.ScoringKind) Centroids {
	return res.tags.centroid(collection, kind)
}

// Rows returns the populated voxels of a hit collection ordered by global
// then local ids.
func (res *Result) Rows(collection string, kind scoring.ScoringKind) ([]Row, error) {
	d, err := res.reg.Detector(collection)
	if err != nil {
		return nil, err
	}
	if !d.Scores(kind) {
		return nil, fmt.Errorf("%s is not scored", scoring.HitCollectionName(collection, kind))
	}
	m := res.maps[collection]
	var rows []Row
	for _, h := range m.Sorted(kind) {
		if !h.Populated() {
			continue
		}
		rows = append(rows, Row{
			Collection: collection,
			Kind:       kind,
			Global:     h.Global(),
			Local:      h.Local(),
			HasLocal:   kind == scoring.Voxel,
			Position:   d.Position(kind, h.Global(), h.Local()),
			Centroid:   h.Centre(),
			Energy:     h.Energy(),
			Dose:       h.Dose(),
			Hits:       h.Hits(),
			Tags:       res.tags.get(collection, kind, kind.Key(h)),
		})
	}
	return rows, nil
}

// TotalDose returns the summed dose of a collection; see
// ControlPointRun.TotalDose.
func (res *Result) TotalDose(collection string) (float64, error) {
	d, err := res.reg.Detector(collection)
	if err != nil {
		return 0, err
	}
	return totalDose(d, res.maps[collection]), nil
}
