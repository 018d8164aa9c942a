package scoring

import (
	"fmt"

	"github.com/banshee-data/dose.report/internal/dose/hit"
	"github.com/banshee-data/dose.report/internal/dose/step"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

const noChannel = -1

// DispatchStats counts what happened to the steps seen by a dispatcher.
type DispatchStats struct {
	Steps       int // steps offered
	Scored      int // steps folded into at least one accumulator
	Outside     int // steps outside the detector
	BorderDrops int // zero-deposit steps on a border
	OutOfBounds int // steps whose channel fell outside the channel index
	Events      int
}

// Dispatcher resolves transport steps to voxels of one detector and keeps
// the hit collections of the current event. One dispatcher belongs to one
// worker.
//
// Per kind it keeps a channel index parallel to the voxel linearisation:
// -1 until the voxel is first hit in this event, then the slot of its
// accumulator in the event hit collection. Later steps in the same voxel
// go straight to the slot without a hash lookup. The index is reset at the
// start of every event.
type Dispatcher struct {
	det             *Detector
	trackProvenance bool

	channels [2][]int
	events   [2][]*hit.VoxelHit
	stats    DispatchStats
}

// NewDispatcher creates the dispatcher of one worker for det.
func NewDispatcher(det *Detector, trackProvenance bool) *Dispatcher {
	d := &Dispatcher{det: det, trackProvenance: trackProvenance}
	for _, k := range det.Kinds() {
		d.channels[k] = make([]int, det.Channels(k))
	}
	d.BeginEvent()
	return d
}

// Detector returns the detector the dispatcher scores.
func (d *Dispatcher) Detector() *Detector { return d.det }

// Stats returns the running counters.
func (d *Dispatcher) Stats() DispatchStats { return d.stats }

// BeginEvent resets the channel index and the event hit collections.
func (d *Dispatcher) BeginEvent() {
	for _, k := range d.det.Kinds() {
		ch := d.channels[k]
		for i := range ch {
			ch[i] = noChannel
		}
		d.events[k] = d.events[k][:0]
	}
}

// EventHits returns the accumulators created in the current event for kind.
func (d *Dispatcher) EventHits(kind ScoringKind) []*hit.VoxelHit {
	return d.events[kind]
}

// ProcessStep scores one step. It reports whether the step was folded into
// an accumulator. Steps outside the detector, zero-deposit steps on the
// detector envelope or on the border of their cell, and steps with an
// out-of-range channel are skipped.
func (d *Dispatcher) ProcessStep(s step.Step) (bool, error) {
	d.stats.Steps++
	cells := d.det.Cells()
	inside := cells.IsInside(s.Position)
	border := cells.IsOnBorder(s.Position)
	if !inside && !border {
		d.stats.Outside++
		return false, nil
	}
	if border && s.EnergyDeposit == 0 {
		d.stats.BorderDrops++
		tracef("%s: dropped zero-deposit border step at %v", d.det.name, s.Position)
		return false, nil
	}

	global := cells.VoxelIDs(s.Position)
	cellIdx := cells.Index(global.X, global.Y, global.Z)
	if s.EnergyDeposit == 0 && d.det.cellGrids[cellIdx].IsOnBorder(s.Position) {
		d.stats.BorderDrops++
		tracef("%s: dropped zero-deposit step on the border of cell %v at %v", d.det.name, global, s.Position)
		return false, nil
	}

	scored := false
	for _, kind := range d.det.Kinds() {
		var (
			local   voxel.ID
			channel int
			volume  float64
		)
		switch kind {
		case Cell:
			channel = cellIdx
			volume = d.det.CellVolume()
		case Voxel:
			g := d.det.cellGrids[cellIdx]
			local = g.VoxelIDs(s.Position)
			channel = cellIdx*g.Len() + g.Index(local.X, local.Y, local.Z)
			volume = g.VoxelVolume()
		}

		ch := d.channels[kind]
		if channel < 0 || channel >= len(ch) {
			d.stats.OutOfBounds++
			opsf("%s/%s: channel %d outside index of %d (global=%v local=%v), step discarded",
				d.det.name, kind, channel, len(ch), global, local)
			continue
		}

		if slot := ch[channel]; slot != noChannel {
			d.events[kind][slot].Update(s)
			scored = true
			continue
		}

		h := hit.New(d.trackProvenance)
		if err := h.SetID(local, global); err != nil {
			return scored, err
		}
		if err := h.SetVolume(volume); err != nil {
			return scored, err
		}
		if err := h.Fill(s); err != nil {
			return scored, fmt.Errorf("%s/%s fill global=%v local=%v: %w", d.det.name, kind, global, local, err)
		}
		ch[channel] = len(d.events[kind])
		d.events[kind] = append(d.events[kind], h)
		scored = true
	}
	if scored {
		d.stats.Scored++
	}
	return scored, nil
}

// EndEvent folds the event hit collections into the worker's run map.
func (d *Dispatcher) EndEvent(dst *ScoringMap) error {
	d.stats.Events++
	for _, kind := range d.det.Kinds() {
		for _, h := range d.events[kind] {
			if err := dst.Record(kind, h); err != nil {
				return fmt.Errorf("%s: end of event: %w", HitCollectionName(d.det.name, kind), err)
			}
		}
		tracef("%s: event %d folded %d hits", HitCollectionName(d.det.name, kind), d.stats.Events, len(d.events[kind]))
	}
	return nil
}
