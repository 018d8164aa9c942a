package scoring

import (
	"fmt"

	"github.com/banshee-data/dose.report/internal/dose/hit"
)

// ScoringKind selects cell-level or voxel-level scoring.
type ScoringKind int

const (
	// Cell scores one accumulator per detector cell; local ids are ignored.
	Cell ScoringKind = iota
	// Voxel scores one accumulator per voxel; global and local ids are
	// both significant.
	Voxel
)

// Kinds lists every scoring kind in a stable order.
var Kinds = []ScoringKind{Cell, Voxel}

func (k ScoringKind) String() string {
	switch k {
	case Cell:
		return "cell"
	case Voxel:
		return "voxel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseScoringKind maps a configuration name to a ScoringKind.
func ParseScoringKind(s string) (ScoringKind, error) {
	switch s {
	case "cell", "Cell":
		return Cell, nil
	case "voxel", "Voxel":
		return Voxel, nil
	default:
		return Cell, fmt.Errorf("unknown scoring kind %q", s)
	}
}

// Exact reports whether Cumulate must match local ids for this kind.
func (k ScoringKind) Exact() bool {
	switch k {
	case Voxel:
		return true
	default:
		return false
	}
}

// Key returns the map key of h under this kind.
func (k ScoringKind) Key(h *hit.VoxelHit) uint64 {
	switch k {
	case Voxel:
		return h.HashedID()
	default:
		return h.GlobalHashedID()
	}
}
