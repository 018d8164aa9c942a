package controlpoint

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/step"
)

// StepSink receives the steps of one event.
type StepSink interface {
	ProcessStep(s step.Step) error
}

// Transport is the external particle transport engine. Simulate generates
// one event, calling sink.ProcessStep for every step, and must draw all of
// its randomness from rng. One Transport value is shared by every worker,
// so Simulate must be safe for concurrent use.
type Transport interface {
	Simulate(ctx context.Context, event int, rng *rand.Rand, sink StepSink) error
}

// workerSink feeds steps into a worker view and records, for the Sim mask,
// the projection of the first step of each primary track in the event.
type workerSink struct {
	w     *run.WorkerRun
	proj  *fieldmask.Projector
	limit int

	seen  map[int]struct{}
	sim   []r3.Vec
	steps int
}

func newWorkerSink(w *run.WorkerRun, proj *fieldmask.Projector, limit int) *workerSink {
	return &workerSink{w: w, proj: proj, limit: limit, seen: make(map[int]struct{})}
}

func (s *workerSink) beginEvent() {
	for id := range s.seen {
		delete(s.seen, id)
	}
	s.w.BeginEvent()
}

func (s *workerSink) ProcessStep(st step.Step) error {
	s.steps++
	if _, err := s.w.ProcessStep(st); err != nil {
		return err
	}
	if s.proj == nil || !st.IsPrimary() || len(s.sim) >= s.limit {
		return nil
	}
	if _, ok := s.seen[st.Track.ID]; ok {
		return nil
	}
	s.seen[st.Track.ID] = struct{}{}
	if p, ok := s.proj.ProjectToPlane(st.Position); ok {
		s.sim = append(s.sim, p)
	}
	return nil
}
