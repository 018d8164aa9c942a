package run

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
)

// Tagger answers the field queries used to tag merged voxels.
// *fieldmask.Projector implements it.
type Tagger interface {
	InField(pos r3.Vec) bool
	MaskTag(pos r3.Vec) float64
}

// Tags are the derived field measures of one voxel.
type Tags struct {
	InField     bool
	Mask        float64 // 1 inside the field, spacing/closest outside
	Geo         float64 // 1/distance to the in-field centroid, 0 on it
	WeightedGeo float64 // 1/distance to the dose-weighted in-field centroid, 0 on it
}

// Centroids are the in-field activity centroids of one hit collection.
type Centroids struct {
	Geo      r3.Vec
	Weighted r3.Vec
	InField  int  // populated voxels inside the field
	Valid    bool // false when no populated voxel is in the field
}

type tagSet struct {
	tags      map[string]map[scoring.ScoringKind]map[uint64]Tags
	centroids map[string]map[scoring.ScoringKind]Centroids
}

func (t *tagSet) get(collection string, kind scoring.ScoringKind, key uint64) Tags {
	if t == nil {
		return Tags{}
	}
	return t.tags[collection][kind][key]
}

func (t *tagSet) centroid(collection string, kind scoring.ScoringKind) Centroids {
	if t == nil {
		return Centroids{}
	}
	return t.centroids[collection][kind]
}

// Tag computes the field tags of every populated voxel from the merged
// maps. Positions are voxel centres. Distances to a centroid are clamped
// below at the mask spacing so a voxel at the centroid gets a finite tag.
// All worker views must be merged first. Tagging is a pure function of the
// merged maps and may be repeated with the same result.
func (r *ControlPointRun) Tag(t Tagger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Merging && r.state != Tagged {
		return fmt.Errorf("tag in state %s: %w", r.state, ErrInvalidState)
	}
	if r.merged < len(r.workers) {
		return fmt.Errorf("tag with %d of %d workers merged: %w", r.merged, len(r.workers), ErrInvalidState)
	}

	ts := &tagSet{
		tags:      make(map[string]map[scoring.ScoringKind]map[uint64]Tags),
		centroids: make(map[string]map[scoring.ScoringKind]Centroids),
	}
	for _, d := range r.reg.Detectors() {
		cm := r.canonical[d.Name()]
		ts.tags[d.Name()] = make(map[scoring.ScoringKind]map[uint64]Tags)
		ts.centroids[d.Name()] = make(map[scoring.ScoringKind]Centroids)
		for _, kind := range d.Kinds() {
			tags, c := tagCollection(d, cm, kind, t)
			ts.tags[d.Name()][kind] = tags
			ts.centroids[d.Name()][kind] = c
			if !c.Valid && len(tags) > 0 {
				diagf("%s: no populated voxel in field, geo tags are zero", scoring.HitCollectionName(d.Name(), kind))
			}
		}
	}
	r.tags = ts
	r.state = Tagged
	return nil
}

func tagCollection(d *scoring.Detector, m *scoring.ScoringMap, kind scoring.ScoringKind, t Tagger) (map[uint64]Tags, Centroids) {
	hits := m.Sorted(kind)
	tags := make(map[uint64]Tags)
	var (
		keys      []uint64
		positions []r3.Vec
		inPos     []r3.Vec
		inDose    []float64
	)
	for _, h := range hits {
		if !h.Populated() {
			continue
		}
		pos := d.Position(kind, h.Global(), h.Local())
		in := t.InField(pos)
		key := kind.Key(h)
		tags[key] = Tags{InField: in, Mask: t.MaskTag(pos)}
		keys = append(keys, key)
		positions = append(positions, pos)
		if in {
			inPos = append(inPos, pos)
			inDose = append(inDose, h.Dose())
		}
	}

	var c Centroids
	c.InField = len(inPos)
	geo, ok := fieldmask.Centroid(inPos, nil)
	if !ok {
		return tags, c
	}
	weighted, ok := fieldmask.Centroid(inPos, inDose)
	if !ok {
		weighted = geo
	}
	c.Geo, c.Weighted, c.Valid = geo, weighted, true

	for i, key := range keys {
		tg := tags[key]
		tg.Geo = inverseDistance(positions[i], geo)
		tg.WeightedGeo = inverseDistance(positions[i], weighted)
		tags[key] = tg
	}
	return tags, c
}

// inverseDistance is 1/|a-b|. The tag of a voxel sitting exactly on the
// centroid is undefined and reported as 0, which also zeroes its ratios.
func inverseDistance(a, b r3.Vec) float64 {
	d := r3.Norm(r3.Sub(a, b))
	if d == 0 {
		return 0
	}
	return 1 / d
}
