// Package voxel defines scoring volumes: an axis-aligned box (or a
// cylindrical probe inscribed in one) divided into nX x nY x nZ voxels.
//
// Responsibilities: voxel bounds and centres, the X-major linear index
// and its inverse, and position to voxel id resolution with tolerance
// snapping at the borders.
// Key types: Grid, Box, Shape.
//
// A Grid is immutable once built and may be shared by every worker.
package voxel
