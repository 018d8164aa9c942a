package scoring

import (
	"sort"

	"github.com/banshee-data/dose.report/internal/dose/hit"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

// ScoringMap maps a scoring kind to the accumulators of that kind keyed by
// spatial hash. One ScoringMap belongs to one run collection of one worker
// for one run.
type ScoringMap struct {
	maps map[ScoringKind]map[uint64]*hit.VoxelHit
}

// NewScoringMap returns an empty map.
func NewScoringMap() *ScoringMap {
	return &ScoringMap{maps: make(map[ScoringKind]map[uint64]*hit.VoxelHit)}
}

// NewPopulatedScoringMap returns a map holding one empty accumulator, with
// identity and volume set, for every cell (and voxel) the detector scores.
// Maps built from the same detector therefore have identical key sets.
func NewPopulatedScoringMap(d *Detector, trackProvenance bool) *ScoringMap {
	m := NewScoringMap()
	cells := d.Cells()
	for _, kind := range d.Kinds() {
		for ci := 0; ci < cells.Len(); ci++ {
			global := cells.Decompose(ci)
			switch kind {
			case Cell:
				h := hit.New(trackProvenance)
				_ = h.SetID(voxel.ID{}, global)
				_ = h.SetVolume(d.CellVolume())
				m.Insert(kind, h)
			case Voxel:
				g := d.CellGrid(global)
				for vi := 0; vi < g.Len(); vi++ {
					h := hit.New(trackProvenance)
					_ = h.SetID(g.Decompose(vi), global)
					_ = h.SetVolume(g.VoxelVolume())
					m.Insert(kind, h)
				}
			}
		}
	}
	return m
}

// Insert stores h under its key for kind, replacing any previous entry.
func (m *ScoringMap) Insert(kind ScoringKind, h *hit.VoxelHit) uint64 {
	km := m.maps[kind]
	if km == nil {
		km = make(map[uint64]*hit.VoxelHit)
		m.maps[kind] = km
	}
	key := kind.Key(h)
	km[key] = h
	return key
}

// Get looks up an accumulator by key.
func (m *ScoringMap) Get(kind ScoringKind, key uint64) (*hit.VoxelHit, bool) {
	h, ok := m.maps[kind][key]
	return h, ok
}

// Lookup finds an accumulator by ids. Local ids are ignored for Cell.
func (m *ScoringMap) Lookup(kind ScoringKind, global, local voxel.ID) (*hit.VoxelHit, bool) {
	switch kind {
	case Voxel:
		return m.Get(kind, hit.VoxelKey(global, local))
	default:
		return m.Get(kind, hit.CellKey(global))
	}
}

// Record folds h into the entry with the same key, or stores h when the
// key is new. Ownership of h passes to the map.
func (m *ScoringMap) Record(kind ScoringKind, h *hit.VoxelHit) error {
	if existing, ok := m.Get(kind, kind.Key(h)); ok {
		return existing.Cumulate(h, kind.Exact())
	}
	m.Insert(kind, h)
	return nil
}

// Kinds returns the kinds present in the map, in Kinds order.
func (m *ScoringMap) Kinds() []ScoringKind {
	var out []ScoringKind
	for _, k := range Kinds {
		if _, ok := m.maps[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Len returns the number of entries for kind.
func (m *ScoringMap) Len(kind ScoringKind) int { return len(m.maps[kind]) }

// Keys returns the keys for kind in unspecified order.
func (m *ScoringMap) Keys(kind ScoringKind) []uint64 {
	km := m.maps[kind]
	keys := make([]uint64, 0, len(km))
	for k := range km {
		keys = append(keys, k)
	}
	return keys
}

// Sorted returns the accumulators for kind ordered by global then local ids.
func (m *ScoringMap) Sorted(kind ScoringKind) []*hit.VoxelHit {
	km := m.maps[kind]
	out := make([]*hit.VoxelHit, 0, len(km))
	for _, h := range km {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessID(out[i].Global(), out[i].Local(), out[j].Global(), out[j].Local())
	})
	return out
}

// Populated returns the number of entries of kind that received a step.
func (m *ScoringMap) Populated(kind ScoringKind) int {
	n := 0
	for _, h := range m.maps[kind] {
		if h.Populated() {
			n++
		}
	}
	return n
}

// Release drops every entry so the memory can be reclaimed.
func (m *ScoringMap) Release() {
	m.maps = make(map[ScoringKind]map[uint64]*hit.VoxelHit)
}

func lessID(ga, la, gb, lb voxel.ID) bool {
	if ga != gb {
		return lessTriple(ga, gb)
	}
	return lessTriple(la, lb)
}

func lessTriple(a, b voxel.ID) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
