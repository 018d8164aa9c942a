// Command dose-sim runs every control point of a simulation config with the
// synthetic field transport and writes the voxel dose tables, the field
// masks and optional SQLite and plot outputs.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/config"
	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/export"
	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/hit"
	"github.com/banshee-data/dose.report/internal/dose/report"
	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/storage/sqlite"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/fsutil"
	"github.com/banshee-data/dose.report/internal/units"
	"github.com/banshee-data/dose.report/internal/version"
)

var (
	configPath  = flag.String("config", config.DefaultConfigPath, "Simulation config (JSON)")
	outDir      = flag.String("out", "", "Output directory (overrides output_dir and DOSE_OUTPUT_DIR)")
	dbPath      = flag.String("db", "", "SQLite file to store runs in (disabled when empty)")
	plots       = flag.Bool("plots", false, "Write PNG mask plots and HTML dose slices")
	diag        = flag.Bool("diag", false, "Enable the diagnostic log stream on stderr")
	trace       = flag.Bool("trace", false, "Enable the per-step trace log stream on stderr")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

// setLogWriters routes every package's ops, diag and trace streams.
func setLogWriters(ops, diag, trace io.Writer) {
	voxel.SetLogWriters(ops, diag, trace)
	hit.SetLogWriters(ops, diag, trace)
	scoring.SetLogWriters(ops, diag, trace)
	fieldmask.SetLogWriters(ops, diag, trace)
	run.SetLogWriters(ops, diag, trace)
	controlpoint.SetLogWriters(ops, diag, trace)
	export.SetLogWriters(ops, diag, trace)
}

// options are the command-line outputs beyond the CSV tables.
type options struct {
	outDir string
	dbPath string
	plots  bool
}

// summary is what one simulation produced.
type summary struct {
	files  []string
	runIDs []string
}

func simulate(ctx context.Context, cfg *config.SimulationConfig, opts options) (summary, error) {
	var sum summary

	spec, err := cfg.DetectorSpec()
	if err != nil {
		return sum, fmt.Errorf("failed to build detector: %w", err)
	}
	reg := scoring.NewRegistry()
	if _, err := reg.Register(spec); err != nil {
		return sum, fmt.Errorf("failed to register detector: %w", err)
	}
	cps, err := cfg.ControlPointConfigs()
	if err != nil {
		return sum, err
	}

	var store *sqlite.Store
	if opts.dbPath != "" {
		store, err = sqlite.Open(opts.dbPath)
		if err != nil {
			return sum, err
		}
		defer store.Close()
	}

	fsys := fsutil.OSFileSystem{}
	writer := export.NewWriter(fsys, opts.outDir, cfg.GetDoseUnits())
	var reporter *report.Reporter
	if opts.plots {
		axis, err := report.ParseAxis(cfg.GetSliceAxis())
		if err != nil {
			return sum, err
		}
		reporter = report.NewReporter(fsys, opts.outDir, axis, cfg.GetDoseUnits())
	}

	for _, cpCfg := range cps {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		cp, err := controlpoint.New(cpCfg, reg, cfg.FieldTransport(cpCfg))
		if err != nil {
			return sum, err
		}
		res, err := cp.Run(ctx)
		if err != nil {
			return sum, fmt.Errorf("control point %s: %w", cpCfg.Label(), err)
		}
		st := cp.Stats()
		total, err := res.TotalDose(spec.Name)
		if err != nil {
			return sum, err
		}
		log.Printf("%s: %d events, %d steps on %d workers in %s, total dose %.4g %s",
			cpCfg.Label(), st.Events, st.Steps, st.Workers, st.Duration,
			units.ConvertDose(total, cfg.GetDoseUnits()), cfg.GetDoseUnits())

		files, err := exportTables(writer, cpCfg.Label(), res)
		if err != nil {
			return sum, err
		}
		sum.files = append(sum.files, files...)
		for _, m := range []struct {
			kind string
			pts  []r3.Vec
		}{{"plan", cp.PlanMask()}, {"sim", cp.SimMask()}} {
			p, err := writer.Mask(cpCfg.Label(), m.kind, m.pts)
			if err != nil {
				return sum, err
			}
			sum.files = append(sum.files, p)
		}

		if reporter != nil {
			paths, err := reporter.ControlPoint(cp)
			if err != nil {
				return sum, err
			}
			sum.files = append(sum.files, paths...)
		}
		if store != nil {
			id, err := store.SaveControlPoint(ctx, cp)
			if err != nil {
				return sum, err
			}
			log.Printf("%s: stored as run %s", cpCfg.Label(), id)
			sum.runIDs = append(sum.runIDs, id)
		}
	}
	return sum, nil
}

// exportTables writes one voxel table per scored collection and kind. A
// single table is named after the control point alone.
func exportTables(w *export.Writer, label string, res *run.Result) ([]string, error) {
	type table struct {
		coll string
		kind scoring.ScoringKind
	}
	var tables []table
	for _, coll := range res.Collections() {
		d, err := res.Detector(coll)
		if err != nil {
			return nil, err
		}
		for _, kind := range scoring.Kinds {
			if d.Scores(kind) {
				tables = append(tables, table{coll, kind})
			}
		}
	}

	var files []string
	for _, t := range tables {
		rows, err := res.Rows(t.coll, t.kind)
		if err != nil {
			return files, err
		}
		name := label
		if len(tables) > 1 {
			name = fmt.Sprintf("%s_%s_%s", label, t.coll, t.kind)
		}
		p, err := w.Voxels(name, rows)
		if err != nil {
			return files, err
		}
		files = append(files, p)
	}
	return files, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("dose-sim", version.String())
		return
	}

	var diagW, traceW io.Writer
	if *diag {
		diagW = os.Stderr
	}
	if *trace {
		traceW = os.Stderr
	}
	setLogWriters(os.Stderr, diagW, traceW)

	cfg, err := config.LoadSimulationConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	dir := cfg.GetOutputDir()
	if *outDir != "" {
		dir = *outDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sum, err := simulate(ctx, cfg, options{outDir: dir, dbPath: *dbPath, plots: *plots})
	if err != nil {
		log.Fatalf("Simulation failed: %v", err)
	}
	for _, f := range sum.files {
		fmt.Println(f)
	}
}
