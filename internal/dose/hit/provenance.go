package hit

import "gonum.org/v1/gonum/spatial/r3"

// TrackRecord is the first sighting of a track in a voxel.
type TrackRecord struct {
	ID       int
	Particle string
	Energy   float64 // kinetic energy, MeV
	Angle    float64 // polar angle to +Z, degrees
	Length   float64 // track length so far, mm
	Position r3.Vec  // first position in the voxel
}

// Provenance is an append-only set of track records keyed by track id.
// A record is written on the first sighting of its id and never updated,
// and insertion order is preserved so dumps are reproducible.
type Provenance struct {
	seen    map[int]struct{}
	records []TrackRecord
}

func newProvenance() *Provenance {
	return &Provenance{seen: make(map[int]struct{})}
}

// Insert adds r if its track id has not been seen. It reports whether the
// record was added.
func (p *Provenance) Insert(r TrackRecord) bool {
	if _, ok := p.seen[r.ID]; ok {
		return false
	}
	p.seen[r.ID] = struct{}{}
	p.records = append(p.records, r)
	return true
}

// Merge inserts other's records, in other's order, skipping known ids.
func (p *Provenance) Merge(other *Provenance) {
	for _, r := range other.records {
		p.Insert(r)
	}
}

// Has reports whether track id has been seen.
func (p *Provenance) Has(id int) bool {
	_, ok := p.seen[id]
	return ok
}

// Len returns the number of distinct tracks.
func (p *Provenance) Len() int { return len(p.records) }

// Records returns the records in insertion order. The slice must not be
// modified.
func (p *Provenance) Records() []TrackRecord { return p.records }

func (p *Provenance) clone() *Provenance {
	c := &Provenance{
		seen:    make(map[int]struct{}, len(p.seen)),
		records: make([]TrackRecord, len(p.records)),
	}
	copy(c.records, p.records)
	for id := range p.seen {
		c.seen[id] = struct{}{}
	}
	return c
}
