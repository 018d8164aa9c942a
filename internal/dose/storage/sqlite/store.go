package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/timeutil"
)

// ErrRunNotFound is returned when a run id has no stored run.
var ErrRunNotFound = errors.New("dose run not found")

// Mask names stored in field_mask_points.
const (
	MaskPlan = "plan"
	MaskSim  = "sim"
)

// Store persists dose runs in SQLite.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens (or creates) the database at path and applies the embedded
// migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := sql.Open("sqlite", filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// PRAGMAs are per connection.
	db.SetMaxOpenConns(1)
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// SetClock replaces the clock used for creation timestamps.
func (s *Store) SetClock(c timeutil.Clock) { s.clock = c }

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunRecord is the stored summary of one control-point run.
type RunRecord struct {
	RunID        string
	ControlPoint int
	Label        string
	FieldShape   string
	FieldA       float64
	FieldB       float64
	RotationDeg  float64
	SID          float64
	Events       int
	Workers      int
	Seed         int64
	Steps        int
	Duration     time.Duration
	CreatedAt    time.Time
}

// RecordFor summarises a finished control point.
func RecordFor(cp *controlpoint.ControlPoint) RunRecord {
	cfg := cp.Config()
	a, b := cfg.Shape.Extent()
	st := cp.Stats()
	return RunRecord{
		ControlPoint: cfg.ID,
		Label:        cfg.Label(),
		FieldShape:   cfg.Shape.Kind().String(),
		FieldA:       a,
		FieldB:       b,
		RotationDeg:  cfg.Beam.RotationDeg,
		SID:          cfg.Beam.SID,
		Events:       cfg.Events,
		Workers:      st.Workers,
		Seed:         cfg.Seed,
		Steps:        st.Steps,
		Duration:     st.Duration,
	}
}

// SaveControlPoint stores a finished control point with every populated
// row of its result and both of its masks. It returns the new run id.
func (s *Store) SaveControlPoint(ctx context.Context, cp *controlpoint.ControlPoint) (string, error) {
	res := cp.Result()
	if res == nil {
		return "", fmt.Errorf("control point %s has no result", cp.Config().Label())
	}
	var rows []run.Row
	for _, coll := range res.Collections() {
		d, err := res.Detector(coll)
		if err != nil {
			return "", err
		}
		for _, kind := range scoring.Kinds {
			if !d.Scores(kind) {
				continue
			}
			r, err := res.Rows(coll, kind)
			if err != nil {
				return "", err
			}
			rows = append(rows, r...)
		}
	}
	masks := map[string][]r3.Vec{MaskPlan: cp.PlanMask(), MaskSim: cp.SimMask()}
	return s.SaveRun(ctx, RecordFor(cp), rows, masks)
}

// SaveRun stores rec, rows and masks in one transaction. A missing RunID is
// filled with a new UUID. It returns the run id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord, rows []run.Row, masks map[string][]r3.Vec) (string, error) {
	if rec.RunID == "" {
		rec.RunID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dose_runs (
			run_id, control_point, label, field_shape, field_a_mm, field_b_mm,
			rotation_deg, sid_mm, events, workers, seed, steps, duration_ms, created_unix_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.ControlPoint, rec.Label, rec.FieldShape, rec.FieldA, rec.FieldB,
		rec.RotationDeg, rec.SID, rec.Events, rec.Workers, rec.Seed, rec.Steps,
		rec.Duration.Milliseconds(), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert run %s: %w", rec.RunID, err)
	}

	voxStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO dose_voxels (
			run_id, collection, kind, global_x, global_y, global_z, local_x, local_y, local_z,
			pos_x_mm, pos_y_mm, pos_z_mm, energy_mev, dose_mev_per_kg, hits,
			in_field, mask_tag, geo_tag, weighted_geo_tag
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare voxel insert: %w", err)
	}
	defer voxStmt.Close()
	for _, r := range rows {
		var lx, ly, lz sql.NullInt64
		if r.HasLocal {
			lx = sql.NullInt64{Int64: int64(r.Local.X), Valid: true}
			ly = sql.NullInt64{Int64: int64(r.Local.Y), Valid: true}
			lz = sql.NullInt64{Int64: int64(r.Local.Z), Valid: true}
		}
		_, err := voxStmt.ExecContext(ctx,
			rec.RunID, r.Collection, r.Kind.String(), r.Global.X, r.Global.Y, r.Global.Z, lx, ly, lz,
			r.Position.X, r.Position.Y, r.Position.Z, r.Energy, r.Dose, r.Hits,
			r.Tags.InField, r.Tags.Mask, r.Tags.Geo, r.Tags.WeightedGeo,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert voxel %v/%v: %w", r.Global, r.Local, err)
		}
	}

	maskStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO field_mask_points (run_id, mask, seq, x_mm, y_mm, z_mm) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare mask insert: %w", err)
	}
	defer maskStmt.Close()
	for name, pts := range masks {
		for i, p := range pts {
			if _, err := maskStmt.ExecContext(ctx, rec.RunID, name, i, p.X, p.Y, p.Z); err != nil {
				return "", fmt.Errorf("failed to insert %s mask point %d: %w", name, i, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run %s: %w", rec.RunID, err)
	}
	return rec.RunID, nil
}

const runColumns = `run_id, control_point, label, field_shape, field_a_mm, field_b_mm,
	rotation_deg, sid_mm, events, workers, seed, steps, duration_ms, created_unix_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var rec RunRecord
	var durationMs, createdMs int64
	err := sc.Scan(&rec.RunID, &rec.ControlPoint, &rec.Label, &rec.FieldShape, &rec.FieldA, &rec.FieldB,
		&rec.RotationDeg, &rec.SID, &rec.Events, &rec.Workers, &rec.Seed, &rec.Steps, &durationMs, &createdMs)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return rec, nil
}

// Run returns the stored run with the given id.
func (s *Store) Run(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM dose_runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	return rec, nil
}

// Runs lists stored runs, oldest first.
func (s *Store) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM dose_runs ORDER BY created_unix_ms, control_point`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Voxels returns the stored rows of one hit collection in global then local
// id order. The rolling centroid is not stored.
func (s *Store) Voxels(ctx context.Context, runID, collection string, kind scoring.ScoringKind) ([]run.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT global_x, global_y, global_z, local_x, local_y, local_z,
			pos_x_mm, pos_y_mm, pos_z_mm, energy_mev, dose_mev_per_kg, hits,
			in_field, mask_tag, geo_tag, weighted_geo_tag
		FROM dose_voxels
		WHERE run_id = ? AND collection = ? AND kind = ?
		ORDER BY global_x, global_y, global_z, local_x, local_y, local_z`,
		runID, collection, kind.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query voxels: %w", err)
	}
	defer rows.Close()

	var out []run.Row
	for rows.Next() {
		r := run.Row{Collection: collection, Kind: kind}
		var lx, ly, lz sql.NullInt64
		err := rows.Scan(&r.Global.X, &r.Global.Y, &r.Global.Z, &lx, &ly, &lz,
			&r.Position.X, &r.Position.Y, &r.Position.Z, &r.Energy, &r.Dose, &r.Hits,
			&r.Tags.InField, &r.Tags.Mask, &r.Tags.Geo, &r.Tags.WeightedGeo)
		if err != nil {
			return nil, fmt.Errorf("failed to scan voxel: %w", err)
		}
		if lx.Valid {
			r.HasLocal = true
			r.Local = voxel.ID{X: int(lx.Int64), Y: int(ly.Int64), Z: int(lz.Int64)}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MaskPoints returns the stored points of one mask in insertion order.
func (s *Store) MaskPoints(ctx context.Context, runID, mask string) ([]r3.Vec, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x_mm, y_mm, z_mm FROM field_mask_points WHERE run_id = ? AND mask = ? ORDER BY seq`,
		runID, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s mask: %w", mask, err)
	}
	defer rows.Close()
	var out []r3.Vec
	for rows.Next() {
		var p r3.Vec
		if err := rows.Scan(&p.X, &p.Y, &p.Z); err != nil {
			return nil, fmt.Errorf("failed to scan mask point: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and, by cascade, its voxels and mask points.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dose_runs WHERE run_id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}
