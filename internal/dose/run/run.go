package run

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
)

var (
	// ErrInvalidState is returned when an operation is called in the wrong
	// lifecycle state.
	ErrInvalidState = errors.New("invalid run state")
	// ErrIncompatibleScoring is returned when a worker map was built from a
	// different scoring-volume definition than the run. The run is aborted.
	ErrIncompatibleScoring = errors.New("incompatible scoring definitions")
	// ErrAlreadyMerged is returned when a worker view is merged twice.
	ErrAlreadyMerged = errors.New("worker already merged")
)

// State is the lifecycle state of a ControlPointRun.
type State int

const (
	Created State = iota
	Accumulating
	Merging
	Tagged
	Finalized
	Aborted
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Accumulating:
		return "accumulating"
	case Merging:
		return "merging"
	case Tagged:
		return "tagged"
	case Finalized:
		return "finalized"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures a run.
type Options struct {
	TrackProvenance bool
}

// ControlPointRun aggregates the worker views of one control point run
// into a canonical scoring map per run collection.
//
// Lifecycle: Created -> Accumulating (first Worker) -> Merging (first
// Merge) -> Tagged -> Finalized. A failed merge moves the run to Aborted.
// Merged data is not readable before Merging.
type ControlPointRun struct {
	mu sync.Mutex

	reg       *scoring.Registry
	opts      Options
	state     State
	canonical map[string]*scoring.ScoringMap
	workers   map[int]*WorkerRun
	merged    int
	tags      *tagSet
}

// New creates a run over every detector of reg and seals the registry.
func New(reg *scoring.Registry, opts Options) *ControlPointRun {
	reg.Seal()
	r := &ControlPointRun{
		reg:       reg,
		opts:      opts,
		state:     Created,
		canonical: make(map[string]*scoring.ScoringMap),
		workers:   make(map[int]*WorkerRun),
	}
	for _, d := range reg.Detectors() {
		r.canonical[d.Name()] = scoring.NewPopulatedScoringMap(d, opts.TrackProvenance)
	}
	diagf("run created with %d collections (provenance=%v)", len(r.canonical), opts.TrackProvenance)
	return r
}

// State returns the current lifecycle state.
func (r *ControlPointRun) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Registry returns the registry the run was built from.
func (r *ControlPointRun) Registry() *scoring.Registry { return r.reg }

// Worker returns a new worker view with id. Views must be created before
// merging starts.
func (r *ControlPointRun) Worker(id int) (*WorkerRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Created && r.state != Accumulating {
		return nil, fmt.Errorf("worker %d in state %s: %w", id, r.state, ErrInvalidState)
	}
	if _, ok := r.workers[id]; ok {
		return nil, fmt.Errorf("worker %d already exists: %w", id, ErrInvalidState)
	}
	w := newWorkerRun(id, r.reg, r.opts.TrackProvenance)
	r.workers[id] = w
	r.state = Accumulating
	return w, nil
}

// Workers returns the number of worker views handed out.
func (r *ControlPointRun) Workers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

// Merge folds worker views into the canonical maps. For every collection
// and kind each canonical entry is cumulated with the matching worker
// entry using the kind's strictness. The worker maps are released
// afterwards. A key missing in a worker map aborts the run with
// ErrIncompatibleScoring.
//
// Merge is single-threaded and may be called once per worker or once with
// every worker.
func (r *ControlPointRun) Merge(workers ...*WorkerRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Created, Accumulating, Merging:
	default:
		return fmt.Errorf("merge in state %s: %w", r.state, ErrInvalidState)
	}
	r.state = Merging

	for _, w := range workers {
		if w.released {
			return fmt.Errorf("worker %d: %w", w.id, ErrAlreadyMerged)
		}
		if err := r.checkCompatible(w); err != nil {
			r.state = Aborted
			opsf("run aborted: %v", err)
			return err
		}
		if err := r.fold(w); err != nil {
			r.state = Aborted
			opsf("run aborted: %v", err)
			return err
		}
		for _, m := range w.maps {
			m.Release()
		}
		w.released = true
		r.merged++
		diagf("merged worker %d (%d events); %d merged", w.id, w.events, r.merged)
	}
	return nil
}

func (r *ControlPointRun) checkCompatible(w *WorkerRun) error {
	for _, d := range r.reg.Detectors() {
		cm := r.canonical[d.Name()]
		wm, ok := w.maps[d.Name()]
		if !ok {
			return fmt.Errorf("worker %d has no collection %q: %w", w.id, d.Name(), ErrIncompatibleScoring)
		}
		for _, kind := range d.Kinds() {
			if cm.Len(kind) != wm.Len(kind) {
				return fmt.Errorf("worker %d %s: %d entries, run has %d: %w",
					w.id, scoring.HitCollectionName(d.Name(), kind), wm.Len(kind), cm.Len(kind), ErrIncompatibleScoring)
			}
			for _, key := range cm.Keys(kind) {
				if _, ok := wm.Get(kind, key); !ok {
					return fmt.Errorf("worker %d %s: key %d missing: %w",
						w.id, scoring.HitCollectionName(d.Name(), kind), key, ErrIncompatibleScoring)
				}
			}
		}
	}
	return nil
}

func (r *ControlPointRun) fold(w *WorkerRun) error {
	for _, d := range r.reg.Detectors() {
		cm := r.canonical[d.Name()]
		wm := w.maps[d.Name()]
		for _, kind := range d.Kinds() {
			for _, key := range cm.Keys(kind) {
				ch, _ := cm.Get(kind, key)
				wh, _ := wm.Get(kind, key)
				if err := ch.Cumulate(wh, kind.Exact()); err != nil {
					return fmt.Errorf("worker %d %s: %v: %w",
						w.id, scoring.HitCollectionName(d.Name(), kind), err, ErrIncompatibleScoring)
				}
			}
			tracef("worker %d %s: folded %d keys", w.id, scoring.HitCollectionName(d.Name(), kind), cm.Len(kind))
		}
	}
	return nil
}

// Merged returns the number of worker views folded so far.
func (r *ControlPointRun) Merged() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.merged
}

// Canonical returns the merged map of a collection.
func (r *ControlPointRun) Canonical(collection string) (*scoring.ScoringMap, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.readable(); err != nil {
		return nil, err
	}
	m, ok := r.canonical[collection]
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", collection, scoring.ErrUnknownCollection)
	}
	return m, nil
}

// TotalDose returns the dose of a collection summed over its cells. A cell
// carrying voxel data contributes its voxel doses scaled by
// voxelVolume/cellVolume; other cells contribute their cell-level dose.
func (r *ControlPointRun) TotalDose(collection string) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.readable(); err != nil {
		return 0, err
	}
	d, err := r.reg.Detector(collection)
	if err != nil {
		return 0, err
	}
	return totalDose(d, r.canonical[collection]), nil
}

func (r *ControlPointRun) readable() error {
	switch r.state {
	case Merging, Tagged, Finalized:
		return nil
	default:
		return fmt.Errorf("read merged data in state %s: %w", r.state, ErrInvalidState)
	}
}

func totalDose(d *scoring.Detector, m *scoring.ScoringMap) float64 {
	cells := d.Cells()
	scale := d.VoxelVolume() / d.CellVolume()
	total := 0.0
	for ci := 0; ci < cells.Len(); ci++ {
		global := cells.Decompose(ci)
		if d.Scores(scoring.Voxel) {
			if sum, ok := cellVoxelDose(d, m, global); ok {
				total += sum * scale
				continue
			}
		}
		if h, ok := m.Lookup(scoring.Cell, global, voxel.ID{}); ok {
			total += h.Dose()
		}
	}
	return total
}

func cellVoxelDose(d *scoring.Detector, m *scoring.ScoringMap, global voxel.ID) (float64, bool) {
	g := d.CellGrid(global)
	sum, found := 0.0, false
	for vi := 0; vi < g.Len(); vi++ {
		h, ok := m.Lookup(scoring.Voxel, global, g.Decompose(vi))
		if !ok || !h.Populated() {
			continue
		}
		sum += h.Dose()
		found = true
	}
	return sum, found
}

// Finalize freezes the run and returns its read-only result. An untagged
// run can be finalized; its tags are zero.
func (r *ControlPointRun) Finalize() (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case Merging, Tagged:
	default:
		return nil, fmt.Errorf("finalize in state %s: %w", r.state, ErrInvalidState)
	}
	if r.state == Merging {
		diagf("finalizing untagged run")
	}
	if r.merged < len(r.workers) {
		opsf("finalizing with %d of %d workers merged", r.merged, len(r.workers))
	}
	r.state = Finalized
	return newResult(r.reg, r.canonical, r.tags), nil
}
