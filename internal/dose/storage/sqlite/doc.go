// Package sqlite persists finalized control-point runs, their populated
// voxels and their field masks in SQLite. The schema is managed by
// golang-migrate from embedded migrations.
package sqlite
