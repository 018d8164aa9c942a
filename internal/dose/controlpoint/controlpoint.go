package controlpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/timeutil"
)

// MaxSimMaskPoints caps the number of points kept in the Sim mask.
const MaxSimMaskPoints = 100000

// ErrAlreadyRun is returned when Run is called on a control point that has
// already produced a result.
var ErrAlreadyRun = errors.New("control point already run")

// Config describes one beam configuration.
type Config struct {
	ID   int
	Name string

	Shape fieldmask.Shape
	Beam  fieldmask.Beam

	Events  int   // event budget for the whole control point
	Workers int   // defaults to runtime.NumCPU()
	Seed    int64 // base seed for masks and worker random sources

	MaskSpacing     float64 // defaults to fieldmask.DefaultSpacing
	MaskDepth       float64 // beam-frame z of the isocentric plane
	EdgePolicy      fieldmask.EdgePolicy
	TrackProvenance bool
}

func (c Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}

func (c Config) spacing() float64 {
	if c.MaskSpacing > 0 {
		return c.MaskSpacing
	}
	return fieldmask.DefaultSpacing
}

// Label returns the name, or "cp<ID>" when unnamed.
func (c Config) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("cp%d", c.ID)
}

// Option customises a ControlPoint.
type Option func(*ControlPoint)

// WithClock sets the clock used for run timings.
func WithClock(c timeutil.Clock) Option {
	return func(cp *ControlPoint) { cp.clock = c }
}

// Stats summarises one run of a control point.
type Stats struct {
	Workers  int
	Events   int
	Steps    int
	Duration time.Duration
	Dispatch map[string]scoring.DispatchStats
}

// ControlPoint orchestrates one beam configuration: it owns the field
// masks, drives the run lifecycle and answers tagging queries.
type ControlPoint struct {
	cfg       Config
	reg       *scoring.Registry
	transport Transport
	clock     timeutil.Clock

	plan      *fieldmask.Mask
	sim       *fieldmask.Mask
	projector *fieldmask.Projector

	mu     sync.Mutex
	runObj *run.ControlPointRun

	result *run.Result
	stats  Stats
}

// New creates a control point over the detectors of reg.
func New(cfg Config, reg *scoring.Registry, transport Transport, opts ...Option) (*ControlPoint, error) {
	if cfg.Shape == nil {
		return nil, fmt.Errorf("control point %s: field shape is required", cfg.Label())
	}
	if cfg.Events < 0 {
		return nil, fmt.Errorf("control point %s: events must be non-negative, got %d", cfg.Label(), cfg.Events)
	}
	if transport == nil {
		return nil, fmt.Errorf("control point %s: transport is required", cfg.Label())
	}
	cp := &ControlPoint{
		cfg:       cfg,
		reg:       reg,
		transport: transport,
		clock:     timeutil.RealClock{},
		plan:      fieldmask.NewMask("Plan"),
		sim:       fieldmask.NewMask("Sim"),
	}
	for _, o := range opts {
		o(cp)
	}
	return cp, nil
}

// Config returns the configuration.
func (cp *ControlPoint) Config() Config { return cp.cfg }

// ID returns the control point id.
func (cp *ControlPoint) ID() int { return cp.cfg.ID }

// Rotation returns the gantry rotation in degrees.
func (cp *ControlPoint) Rotation() float64 { return cp.cfg.Beam.RotationDeg }

// Shape returns the field shape.
func (cp *ControlPoint) Shape() fieldmask.Shape { return cp.cfg.Shape }

// Events returns the event budget.
func (cp *ControlPoint) Events() int { return cp.cfg.Events }

// FillPlanMask generates the nominal field mask. rng is only drawn from
// for leaf-defined fields. A second call fails with
// fieldmask.ErrMaskAlreadyFilled.
func (cp *ControlPoint) FillPlanMask(rng *rand.Rand) error {
	pts, err := fieldmask.GeneratePlanMask(cp.cfg.Shape, cp.cfg.MaskDepth, cp.cfg.Beam, cp.cfg.spacing(), cp.cfg.EdgePolicy, rng)
	if err != nil {
		return fmt.Errorf("control point %s: %w", cp.cfg.Label(), err)
	}
	if err := cp.plan.Fill(cp.cfg.Shape, pts); err != nil {
		return fmt.Errorf("control point %s: %w", cp.cfg.Label(), err)
	}
	proj, err := fieldmask.NewProjector(cp.cfg.Beam, cp.plan, cp.cfg.spacing(), cp.cfg.EdgePolicy)
	if err != nil {
		opsf("%s: plan mask has no points; field queries are disabled", cp.cfg.Label())
		return nil
	}
	cp.projector = proj
	return nil
}

// PlanMask returns the nominal mask points, or nil with a warning before
// the mask is filled.
func (cp *ControlPoint) PlanMask() []r3.Vec {
	if !cp.plan.Filled() {
		diagf("%s: plan mask requested before it was filled", cp.cfg.Label())
		return nil
	}
	return cp.plan.Points()
}

// SimMask returns the simulated mask points, or nil with a warning before
// a run completed.
func (cp *ControlPoint) SimMask() []r3.Vec {
	if !cp.sim.Filled() {
		diagf("%s: sim mask requested before a run completed", cp.cfg.Label())
		return nil
	}
	return cp.sim.Points()
}

// Projector returns the projector over the plan mask, or nil before
// FillPlanMask.
func (cp *ControlPoint) Projector() *fieldmask.Projector { return cp.projector }

// RunObject returns the run of this control point, creating it on first
// use. Concurrent callers get the same run.
func (cp *ControlPoint) RunObject() *run.ControlPointRun {
	cp.mu.Lock()
	defer cp.mu.Unlock()
	if cp.runObj == nil {
		cp.runObj = run.New(cp.reg, run.Options{TrackProvenance: cp.cfg.TrackProvenance})
		diagf("%s: run created", cp.cfg.Label())
	}
	return cp.runObj
}

// IsInField reports whether pos projects inside the field. It is false
// before the plan mask is filled.
func (cp *ControlPoint) IsInField(pos r3.Vec) bool {
	if cp.projector == nil {
		return false
	}
	return cp.projector.InField(pos)
}

// MaskTag returns the mask tag of pos, or 0 before the plan mask is
// filled.
func (cp *ControlPoint) MaskTag(pos r3.Vec) float64 {
	if cp.projector == nil {
		return 0
	}
	return cp.projector.MaskTag(pos)
}

// Result returns the finalized result, or nil before Run succeeded.
func (cp *ControlPoint) Result() *run.Result { return cp.result }

// Stats returns the statistics of the last run.
func (cp *ControlPoint) Stats() Stats { return cp.stats }

// SplitEvents divides total events across n workers. Every worker gets
// total/n and the first total%n workers get one more.
func SplitEvents(total, n int) []int {
	if n <= 0 {
		return nil
	}
	out := make([]int, n)
	base, rem := total/n, total%n
	for i := range out {
		out[i] = base
		if i < rem {
			out[i]++
		}
	}
	return out
}

// WorkerSeed derives the random seed of worker id from the base seed.
func WorkerSeed(base int64, id int) int64 {
	return base ^ int64(uint64(id+1)*0x9e3779b97f4a7c15)
}

// Run simulates the event budget and returns the finalized result.
//
// One worker per context runs its share of the events through its own
// run view; views are handed back over a channel and merged as they
// arrive. The merged maps are then tagged against the plan mask (filled
// from Config.Seed if needed) and the Sim mask is filled. ctx is only
// checked before the run starts; a started run runs to completion.
func (cp *ControlPoint) Run(ctx context.Context) (*run.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cp.result != nil {
		return nil, ErrAlreadyRun
	}
	if !cp.plan.Filled() {
		if err := cp.FillPlanMask(rand.New(rand.NewSource(cp.cfg.Seed))); err != nil {
			return nil, err
		}
	}

	runCtx := context.WithoutCancel(ctx)
	start := cp.clock.Now()
	r := cp.RunObject()
	budgets := SplitEvents(cp.cfg.Events, cp.cfg.workers())
	views := make([]*run.WorkerRun, len(budgets))
	for id := range views {
		w, err := r.Worker(id)
		if err != nil {
			return nil, fmt.Errorf("control point %s: %w", cp.cfg.Label(), err)
		}
		views[id] = w
	}
	opsf("%s: running %d events on %d workers (rotation=%.1f shape=%s)",
		cp.cfg.Label(), cp.cfg.Events, len(views), cp.cfg.Beam.RotationDeg, cp.cfg.Shape.Kind())

	type finished struct {
		w     *run.WorkerRun
		sim   []r3.Vec
		steps int
		err   error
	}
	done := make(chan finished, len(views))
	offset := 0
	for id, w := range views {
		go func(id, first, n int, w *run.WorkerRun) {
			sink := newWorkerSink(w, cp.projector, MaxSimMaskPoints)
			err := cp.work(runCtx, id, first, n, sink)
			done <- finished{w: w, sim: sink.sim, steps: sink.steps, err: err}
		}(id, offset, budgets[id], w)
		offset += budgets[id]
	}

	sims := make([][]r3.Vec, len(views))
	stats := Stats{Workers: len(views), Dispatch: make(map[string]scoring.DispatchStats)}
	var firstErr error
	for range views {
		f := <-done
		if f.err != nil {
			if firstErr == nil {
				firstErr = f.err
			}
			continue
		}
		if firstErr != nil {
			continue
		}
		if err := r.Merge(f.w); err != nil {
			firstErr = err
			continue
		}
		sims[f.w.ID()] = f.sim
		stats.Events += f.w.Events()
		stats.Steps += f.steps
		for name, ds := range f.w.Stats() {
			stats.Dispatch[name] = addStats(stats.Dispatch[name], ds)
		}
	}
	if firstErr != nil {
		opsf("%s: run failed: %v", cp.cfg.Label(), firstErr)
		return nil, fmt.Errorf("control point %s: %w", cp.cfg.Label(), firstErr)
	}

	if err := cp.fillSimMask(sims); err != nil {
		return nil, err
	}
	if cp.projector != nil {
		if err := r.Tag(cp.projector); err != nil {
			return nil, fmt.Errorf("control point %s: %w", cp.cfg.Label(), err)
		}
	}
	res, err := r.Finalize()
	if err != nil {
		return nil, fmt.Errorf("control point %s: %w", cp.cfg.Label(), err)
	}
	stats.Duration = cp.clock.Since(start)
	cp.result = res
	cp.stats = stats
	opsf("%s: %d events, %d steps in %v", cp.cfg.Label(), stats.Events, stats.Steps, stats.Duration)
	return res, nil
}

func (cp *ControlPoint) work(ctx context.Context, id, first, n int, sink *workerSink) error {
	rng := rand.New(rand.NewSource(WorkerSeed(cp.cfg.Seed, id)))
	for e := first; e < first+n; e++ {
		sink.beginEvent()
		if err := cp.transport.Simulate(ctx, e, rng, sink); err != nil {
			return fmt.Errorf("worker %d event %d: %w", id, e, err)
		}
		if err := sink.w.EndEvent(); err != nil {
			return err
		}
	}
	tracef("%s: worker %d finished events [%d,%d)", cp.cfg.Label(), id, first, first+n)
	return nil
}

func (cp *ControlPoint) fillSimMask(sims [][]r3.Vec) error {
	var pts []r3.Vec
	for _, s := range sims {
		for _, p := range s {
			if len(pts) >= MaxSimMaskPoints {
				break
			}
			pts = append(pts, p)
		}
	}
	if err := cp.sim.Fill(cp.cfg.Shape, pts); err != nil {
		return fmt.Errorf("control point %s: %w", cp.cfg.Label(), err)
	}
	return nil
}

func addStats(a, b scoring.DispatchStats) scoring.DispatchStats {
	return scoring.DispatchStats{
		Steps:       a.Steps + b.Steps,
		Scored:      a.Scored + b.Scored,
		Outside:     a.Outside + b.Outside,
		BorderDrops: a.BorderDrops + b.BorderDrops,
		OutOfBounds: a.OutOfBounds + b.OutOfBounds,
		Events:      a.Events + b.Events,
	}
}
