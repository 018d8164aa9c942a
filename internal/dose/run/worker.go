package run

import (
	"fmt"

	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/step"
)

// WorkerRun is the view of a run owned by one worker: a scoring map and a
// dispatcher per run collection. It is not safe for concurrent use; hand
// it back to the run (for example over a channel) once the worker's events
// are done.
type WorkerRun struct {
	id          int
	maps        map[string]*scoring.ScoringMap
	dispatchers []*scoring.Dispatcher
	events      int
	inEvent     bool
	released    bool
}

func newWorkerRun(id int, reg *scoring.Registry, trackProvenance bool) *WorkerRun {
	w := &WorkerRun{
		id:   id,
		maps: make(map[string]*scoring.ScoringMap),
	}
	for _, d := range reg.Detectors() {
		w.maps[d.Name()] = scoring.NewPopulatedScoringMap(d, trackProvenance)
		w.dispatchers = append(w.dispatchers, scoring.NewDispatcher(d, trackProvenance))
	}
	return w
}

// ID returns the worker id.
func (w *WorkerRun) ID() int { return w.id }

// Events returns the number of completed events.
func (w *WorkerRun) Events() int { return w.events }

// Released reports whether the view has been merged.
func (w *WorkerRun) Released() bool { return w.released }

// BeginEvent starts a new event on every dispatcher.
func (w *WorkerRun) BeginEvent() {
	for _, d := range w.dispatchers {
		d.BeginEvent()
	}
	w.inEvent = true
}

// ProcessStep offers a step to every detector. It reports whether any
// detector scored it.
func (w *WorkerRun) ProcessStep(s step.Step) (bool, error) {
	if w.released {
		return false, fmt.Errorf("worker %d: step after merge: %w", w.id, ErrAlreadyMerged)
	}
	if !w.inEvent {
		w.BeginEvent()
	}
	scored := false
	for _, d := range w.dispatchers {
		ok, err := d.ProcessStep(s)
		if err != nil {
			return scored, fmt.Errorf("worker %d: %w", w.id, err)
		}
		scored = scored || ok
	}
	return scored, nil
}

// EndEvent folds the event hits of every dispatcher into the worker maps.
func (w *WorkerRun) EndEvent() error {
	if w.released {
		return fmt.Errorf("worker %d: end event after merge: %w", w.id, ErrAlreadyMerged)
	}
	for _, d := range w.dispatchers {
		if err := d.EndEvent(w.maps[d.Detector().Name()]); err != nil {
			return fmt.Errorf("worker %d: %w", w.id, err)
		}
	}
	w.events++
	w.inEvent = false
	return nil
}

// Map returns the worker's scoring map of a collection.
func (w *WorkerRun) Map(collection string) (*scoring.ScoringMap, bool) {
	m, ok := w.maps[collection]
	return m, ok
}

// Stats returns the dispatcher counters keyed by collection.
func (w *WorkerRun) Stats() map[string]scoring.DispatchStats {
	out := make(map[string]scoring.DispatchStats, len(w.dispatchers))
	for _, d := range w.dispatchers {
		out[d.Detector().Name()] = d.Stats()
	}
	return out
}
