// Package controlpoint runs one beam configuration of a treatment plan.
//
// A ControlPoint owns the plan and Sim field masks, fans the event budget
// out over a pool of workers that feed an external Transport's steps into
// their own run views, merges the views, tags the merged voxels against
// the plan mask and keeps the finalized result.
package controlpoint
