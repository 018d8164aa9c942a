// Package hit implements the per-voxel dose accumulator.
package hit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/step"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/units"
)

var (
	// ErrIdentityAlreadySet is returned when a different identity is
	// written to an accumulator that already has one.
	ErrIdentityAlreadySet = errors.New("voxel identity already set")
	// ErrVolumeAlreadySet is returned when the volume is written twice
	// with different values.
	ErrVolumeAlreadySet = errors.New("voxel volume already set")
	// ErrVolumeNotSet is returned by Fill when SetVolume was not called.
	ErrVolumeNotSet = errors.New("voxel volume must be set before fill")
	// ErrNotAligned is returned by Cumulate for accumulators that do not
	// address the same cell (or voxel, for exact matching).
	ErrNotAligned = errors.New("accumulators not aligned")
)

// VoxelHit accumulates energy and dose for one voxel (or one whole cell
// for cell-level scoring) during one run.
type VoxelHit struct {
	local  voxel.ID
	global voxel.ID
	idSet  bool

	volume    float64 // mm3
	volumeSet bool
	density   float64 // g/cm3
	mass      float64 // kg

	energy float64 // MeV
	dose   float64 // MeV/kg
	centre r3.Vec
	hits   int

	primaryParticle string
	primaryEnergy   float64

	tracks *Provenance
}

// New returns an empty accumulator. When trackProvenance is set the
// accumulator records the first sighting of every track that deposits in it.
func New(trackProvenance bool) *VoxelHit {
	h := &VoxelHit{}
	if trackProvenance {
		h.tracks = newProvenance()
	}
	return h
}

// SetID records the local (within a grid) and global (detector cell) ids.
// Identity is write-once: writing a different identity is logged as a
// defect and rejected, leaving the prior identity intact.
func (h *VoxelHit) SetID(local, global voxel.ID) error {
	if h.idSet {
		if h.local == local && h.global == global {
			return nil
		}
		opsf("CRITICAL: identity rewrite rejected: have global=%v local=%v, got global=%v local=%v",
			h.global, h.local, global, local)
		return fmt.Errorf("set id global=%v local=%v: %w", global, local, ErrIdentityAlreadySet)
	}
	h.local, h.global, h.idSet = local, global, true
	return nil
}

// SetVolume records the scoring volume (mm3). It may only be set once.
func (h *VoxelHit) SetVolume(v float64) error {
	if h.volumeSet {
		if h.volume == v {
			return nil
		}
		opsf("CRITICAL: volume rewrite rejected for global=%v local=%v: have %g, got %g",
			h.global, h.local, h.volume, v)
		return fmt.Errorf("set volume %g: %w", v, ErrVolumeAlreadySet)
	}
	h.volume, h.volumeSet = v, true
	return nil
}

// Fill handles the first step landing in the voxel: it seeds the centroid,
// derives the mass from the step's density and the preset volume, records
// the incoming particle as this voxel's primary and folds in the deposit.
// A voxel that has already been filled routes the step through Update.
func (h *VoxelHit) Fill(s step.Step) error {
	if h.hits > 0 {
		h.Update(s)
		return nil
	}
	if !h.volumeSet {
		return ErrVolumeNotSet
	}
	h.centre = s.Position
	if h.mass == 0 {
		h.density = s.Density
		h.mass = units.Mass(s.Density, h.volume)
	}
	h.primaryParticle = s.Track.Particle
	h.primaryEnergy = s.Track.KineticEnergy
	h.hits = 1
	h.energy += s.EnergyDeposit
	h.recomputeDose()
	h.recordTrack(s)
	return nil
}

// Update folds a later step into the voxel. The centroid is a rolling
// midpoint, (centre + position) / 2 per axis, so no position history is kept.
func (h *VoxelHit) Update(s step.Step) {
	h.centre = r3.Scale(0.5, r3.Add(h.centre, s.Position))
	h.energy += s.EnergyDeposit
	h.hits++
	h.recomputeDose()
	h.recordTrack(s)
}

func (h *VoxelHit) recomputeDose() {
	if h.mass != 0 {
		h.dose = h.energy / h.mass
	}
}

func (h *VoxelHit) recordTrack(s step.Step) {
	if h.tracks == nil {
		return
	}
	h.tracks.Insert(TrackRecord{
		ID:       s.Track.ID,
		Particle: s.Track.Particle,
		Energy:   s.Track.KineticEnergy,
		Angle:    s.Track.PolarAngle(),
		Length:   s.Track.Length,
		Position: s.Position,
	})
}

// HashedID is the voxel-level key: global and local ids.
func (h *VoxelHit) HashedID() uint64 {
	return VoxelKey(h.global, h.local)
}

// GlobalHashedID is the cell-level key: global ids only.
func (h *VoxelHit) GlobalHashedID() uint64 {
	return CellKey(h.global)
}

// CellKey hashes the decimal forms of the global ids.
func CellKey(global voxel.ID) uint64 {
	return xxhash.Sum64String(joinIDs(global))
}

// VoxelKey hashes the decimal forms of the global then local ids.
func VoxelKey(global, local voxel.ID) uint64 {
	return xxhash.Sum64String(joinIDs(global, local))
}

// joinIDs concatenates the decimal ids with a separator so that, e.g.,
// (1,23,4) and (12,3,4) do not produce the same string.
func joinIDs(ids ...voxel.ID) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(strconv.Itoa(id.X))
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(id.Y))
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(id.Z))
	}
	return b.String()
}

// Aligned reports whether other addresses the same cell, and with exact
// set, the same voxel within it.
func (h *VoxelHit) Aligned(other *VoxelHit, exact bool) bool {
	if h.global != other.global {
		return false
	}
	return !exact || h.local == other.local
}

// Cumulate folds other into h. Dose and energy are added, which keeps the
// result independent of the order workers are merged in. Mass, volume,
// centroid and primary information are adopted from other when h has not
// been hit itself. Unaligned accumulators are logged and left unchanged.
func (h *VoxelHit) Cumulate(other *VoxelHit, exact bool) error {
	if !h.Aligned(other, exact) {
		opsf("cumulate rejected (exact=%v): global=%v local=%v vs global=%v local=%v",
			exact, h.global, h.local, other.global, other.local)
		return fmt.Errorf("cumulate global=%v local=%v into global=%v local=%v: %w",
			other.global, other.local, h.global, h.local, ErrNotAligned)
	}
	if other.hits == 0 {
		return nil
	}

	if !h.volumeSet && other.volumeSet {
		h.volume, h.volumeSet = other.volume, true
	}
	if h.mass == 0 {
		h.mass, h.density = other.mass, other.density
	} else if other.mass != 0 && other.mass != h.mass {
		diagf("cumulate global=%v local=%v: mass %g differs from %g, keeping %g",
			h.global, h.local, other.mass, h.mass, h.mass)
	}
	if h.hits == 0 {
		h.centre = other.centre
		h.primaryParticle = other.primaryParticle
		h.primaryEnergy = other.primaryEnergy
	} else {
		h.centre = r3.Scale(0.5, r3.Add(h.centre, other.centre))
	}

	h.energy += other.energy
	h.dose += other.dose
	h.hits += other.hits

	if h.tracks != nil && other.tracks != nil {
		h.tracks.Merge(other.tracks)
	}
	tracef("cumulated global=%v local=%v energy=%g dose=%g", h.global, h.local, h.energy, h.dose)
	return nil
}

// Local returns the voxel ids within the grid.
func (h *VoxelHit) Local() voxel.ID { return h.local }

// Global returns the detector cell ids.
func (h *VoxelHit) Global() voxel.ID { return h.global }

// HasID reports whether SetID has been called.
func (h *VoxelHit) HasID() bool { return h.idSet }

// Energy returns the cumulative energy deposit (MeV).
func (h *VoxelHit) Energy() float64 { return h.energy }

// Dose returns the cumulative dose (MeV/kg). It is zero until the mass is known.
func (h *VoxelHit) Dose() float64 { return h.dose }

// Mass returns the mass (kg), zero until the first Fill.
func (h *VoxelHit) Mass() float64 { return h.mass }

// Density returns the density (g/cm3) seen on the first Fill.
func (h *VoxelHit) Density() float64 { return h.density }

// Volume returns the scoring volume (mm3).
func (h *VoxelHit) Volume() float64 { return h.volume }

// Centre returns the running centroid of the steps folded in.
func (h *VoxelHit) Centre() r3.Vec { return h.centre }

// Hits returns the number of steps folded in.
func (h *VoxelHit) Hits() int { return h.hits }

// Populated reports whether any step has landed in the voxel.
func (h *VoxelHit) Populated() bool { return h.hits > 0 }

// Primary returns the particle type and kinetic energy of the first track
// seen in the voxel.
func (h *VoxelHit) Primary() (particle string, energy float64) {
	return h.primaryParticle, h.primaryEnergy
}

// Tracks returns the track provenance, or nil when disabled.
func (h *VoxelHit) Tracks() *Provenance { return h.tracks }

// Clone returns a deep copy of h.
func (h *VoxelHit) Clone() *VoxelHit {
	c := *h
	if h.tracks != nil {
		c.tracks = h.tracks.clone()
	}
	return &c
}
