// Package scoring owns the per-worker side of dose scoring.
//
// Responsibilities: detector registration (a box tiled into cells, each
// cell voxelised by its own voxel.Grid), the ScoringMap keyed by scoring
// kind and spatial hash, and the StepDispatcher that turns transport steps
// into per-event voxel hits.
// Key types: Registry, Detector, ScoringKind, ScoringMap, Dispatcher.
//
// Registration happens up front on an explicit Registry; there is no
// process-wide state. Detectors are immutable once registered and shared
// read-only by every worker. A Dispatcher and its ScoringMap belong to a
// single worker and are never locked.
package scoring
