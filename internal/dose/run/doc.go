// Package run aggregates the worker views of one control point run.
//
// Each worker owns a WorkerRun (a scoring map and a dispatcher per run
// collection) and needs no locking. When the workers are done their views
// are merged into the canonical maps by a single-threaded, order
// independent fold, the merged voxels are tagged against the field mask,
// and the run is finalized into a read-only Result.
package run
