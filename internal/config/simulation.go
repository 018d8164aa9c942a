package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/controlpoint"
	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
	"github.com/banshee-data/dose.report/internal/dose/scoring"
	"github.com/banshee-data/dose.report/internal/dose/synthetic"
	"github.com/banshee-data/dose.report/internal/dose/voxel"
	"github.com/banshee-data/dose.report/internal/units"
)

// DefaultConfigPath is the example simulation shipped with the repository.
const DefaultConfigPath = "config/simulation.example.json"

// SimulationConfig is the root of a dose-sim configuration file. Omitted
// fields fall back to the defaults returned by the Get* methods.
type SimulationConfig struct {
	Workers         *int     `json:"workers,omitempty"`
	Seed            *int64   `json:"seed,omitempty"`
	TrackProvenance *bool    `json:"track_provenance,omitempty"`
	MaskSpacing     *float64 `json:"mask_spacing_mm,omitempty"`
	MaskDepth       *float64 `json:"mask_depth_mm,omitempty"`
	SID             *float64 `json:"sid_mm,omitempty"`
	EdgePolicy      *string  `json:"edge_policy,omitempty"` // parity, include or exclude
	DoseUnits       *string  `json:"dose_units,omitempty"`
	OutputDir       *string  `json:"output_dir,omitempty"`
	SliceAxis       *string  `json:"slice_axis,omitempty"`

	Detector      *DetectorConfig      `json:"detector,omitempty"`
	Transport     *TransportConfig     `json:"transport,omitempty"`
	ControlPoints []ControlPointConfig `json:"control_points"`
}

// DetectorConfig describes the scoring region.
type DetectorConfig struct {
	Name   *string     `json:"name,omitempty"`
	Centre *[3]float64 `json:"centre_mm,omitempty"`
	Size   *[3]float64 `json:"size_mm,omitempty"`
	Cells  *[3]int     `json:"cells,omitempty"`
	Voxels *[3]int     `json:"voxels,omitempty"`
	Shape  *string     `json:"shape,omitempty"` // box or cylinder
	Radius *float64    `json:"radius_mm,omitempty"`
	Kinds  []string    `json:"kinds,omitempty"` // cell, voxel
}

// TransportConfig parameterises the synthetic field transport.
type TransportConfig struct {
	Energy            *float64 `json:"energy_mev,omitempty"`
	PrimariesPerEvent *int     `json:"primaries_per_event,omitempty"`
	StepLength        *float64 `json:"step_length_mm,omitempty"`
	Depth             *float64 `json:"depth_mm,omitempty"`
	Attenuation       *float64 `json:"attenuation,omitempty"`
	SecondaryFraction *float64 `json:"secondary_fraction,omitempty"`
	Density           *float64 `json:"density_g_cm3,omitempty"`
}

// ControlPointConfig is one beam configuration.
type ControlPointConfig struct {
	Name           string    `json:"name,omitempty"`
	Shape          string    `json:"shape"`
	FieldA         float64   `json:"field_a_mm,omitempty"`
	FieldB         float64   `json:"field_b_mm,omitempty"`
	RotationDeg    float64   `json:"rotation_deg,omitempty"`
	Events         int       `json:"events"`
	LeafBoundaries []float64 `json:"leaf_boundaries_mm,omitempty"`
	BankA          []float64 `json:"bank_a_mm,omitempty"`
	BankB          []float64 `json:"bank_b_mm,omitempty"`
}

// EnvOverrides are the settings that may be replaced from the environment.
type EnvOverrides struct {
	Workers         *int    `env:"DOSE_WORKERS"`
	Seed            *int64  `env:"DOSE_SEED"`
	TrackProvenance *bool   `env:"DOSE_TRACK_PROVENANCE"`
	OutputDir       *string `env:"DOSE_OUTPUT_DIR"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptySimulationConfig returns a config with every field unset.
func EmptySimulationConfig() *SimulationConfig {
	return &SimulationConfig{}
}

// LoadSimulationConfig loads a SimulationConfig from a JSON file. The file
// must have a .json extension and be at most 1MB.
func LoadSimulationConfig(path string) (*SimulationConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySimulationConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics on failure and is intended for tests.
func MustLoadDefaultConfig() *SimulationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadSimulationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overrides fields from DOSE_* environment variables. A nil
// environ reads the process environment.
func (c *SimulationConfig) ApplyEnv(environ map[string]string) error {
	var o EnvOverrides
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&o, opts); err != nil {
		return fmt.Errorf("failed to parse environment overrides: %w", err)
	}
	if o.Workers != nil {
		c.Workers = o.Workers
	}
	if o.Seed != nil {
		c.Seed = o.Seed
	}
	if o.TrackProvenance != nil {
		c.TrackProvenance = o.TrackProvenance
	}
	if o.OutputDir != nil {
		c.OutputDir = o.OutputDir
	}
	return c.Validate()
}

// Validate checks the values that are set.
func (c *SimulationConfig) Validate() error {
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.MaskSpacing != nil && *c.MaskSpacing <= 0 {
		return fmt.Errorf("mask_spacing_mm must be positive, got %f", *c.MaskSpacing)
	}
	if c.SID != nil && *c.SID <= 0 {
		return fmt.Errorf("sid_mm must be positive, got %f", *c.SID)
	}
	if c.EdgePolicy != nil {
		if _, err := fieldmask.ParseEdgePolicy(*c.EdgePolicy); err != nil {
			return err
		}
	}
	if c.DoseUnits != nil && !units.IsValidDose(*c.DoseUnits) {
		return fmt.Errorf("dose_units must be one of %s, got %q", units.GetValidDoseUnitsString(), *c.DoseUnits)
	}
	if d := c.Detector; d != nil {
		if d.Size != nil && (d.Size[0] <= 0 || d.Size[1] <= 0 || d.Size[2] <= 0) {
			return fmt.Errorf("detector size_mm must be positive, got %v", *d.Size)
		}
		if d.Shape != nil {
			if _, err := voxel.ParseShapeKind(*d.Shape); err != nil {
				return err
			}
		}
		for _, k := range d.Kinds {
			if _, err := scoring.ParseScoringKind(k); err != nil {
				return err
			}
		}
	}
	if t := c.Transport; t != nil {
		if t.StepLength != nil && *t.StepLength <= 0 {
			return fmt.Errorf("step_length_mm must be positive, got %f", *t.StepLength)
		}
		if t.Attenuation != nil && (*t.Attenuation < 0 || *t.Attenuation > 0.5) {
			return fmt.Errorf("attenuation must be between 0 and 0.5, got %f", *t.Attenuation)
		}
		if t.SecondaryFraction != nil && (*t.SecondaryFraction < 0 || *t.SecondaryFraction > 1) {
			return fmt.Errorf("secondary_fraction must be between 0 and 1, got %f", *t.SecondaryFraction)
		}
	}
	if len(c.ControlPoints) == 0 {
		return errors.New("at least one control point is required")
	}
	for i, cp := range c.ControlPoints {
		if _, err := fieldmask.ParseShape(cp.Shape); err != nil {
			return fmt.Errorf("control_points[%d]: %w", i, err)
		}
		if cp.Events < 0 {
			return fmt.Errorf("control_points[%d]: events must be non-negative, got %d", i, cp.Events)
		}
	}
	return nil
}

// GetWorkers returns the worker count or runtime.NumCPU().
func (c *SimulationConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.NumCPU()
	}
	return *c.Workers
}

// GetSeed returns the base seed or the default.
func (c *SimulationConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetTrackProvenance returns the track_provenance value or the default.
func (c *SimulationConfig) GetTrackProvenance() bool {
	if c.TrackProvenance == nil {
		return false
	}
	return *c.TrackProvenance
}

// GetMaskSpacing returns the mask point pitch in mm.
func (c *SimulationConfig) GetMaskSpacing() float64 {
	if c.MaskSpacing == nil {
		return fieldmask.DefaultSpacing
	}
	return *c.MaskSpacing
}

// GetMaskDepth returns the beam-frame z of the isocentric plane in mm.
func (c *SimulationConfig) GetMaskDepth() float64 {
	if c.MaskDepth == nil {
		return 0
	}
	return *c.MaskDepth
}

// GetSID returns the source to isocentre distance in mm.
func (c *SimulationConfig) GetSID() float64 {
	if c.SID == nil {
		return fieldmask.DefaultSID
	}
	return *c.SID
}

// GetEdgePolicy returns the polygon edge policy.
func (c *SimulationConfig) GetEdgePolicy() fieldmask.EdgePolicy {
	if c.EdgePolicy == nil {
		return fieldmask.EdgeParity
	}
	p, err := fieldmask.ParseEdgePolicy(*c.EdgePolicy)
	if err != nil {
		return fieldmask.EdgeParity
	}
	return p
}

// GetDoseUnits returns the dose unit for outputs.
func (c *SimulationConfig) GetDoseUnits() string {
	if c.DoseUnits == nil {
		return units.Gy
	}
	return *c.DoseUnits
}

// GetOutputDir returns the output directory.
func (c *SimulationConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "out"
	}
	return *c.OutputDir
}

// GetSliceAxis returns the dose-slice normal ("x", "y" or "z").
func (c *SimulationConfig) GetSliceAxis() string {
	if c.SliceAxis == nil {
		return "z"
	}
	return *c.SliceAxis
}

func (c *SimulationConfig) detector() *DetectorConfig {
	if c.Detector == nil {
		return &DetectorConfig{}
	}
	return c.Detector
}

func (c *SimulationConfig) transport() *TransportConfig {
	if c.Transport == nil {
		return &TransportConfig{}
	}
	return c.Transport
}

// DetectorSpec builds the scoring registration. The default detector is a
// 300 mm water cube of 3x3x3 cells with 10x10x10 voxels each.
func (c *SimulationConfig) DetectorSpec() (scoring.DetectorSpec, error) {
	d := c.detector()
	name := "water"
	if d.Name != nil {
		name = *d.Name
	}
	centre := [3]float64{}
	if d.Centre != nil {
		centre = *d.Centre
	}
	size := [3]float64{300, 300, 300}
	if d.Size != nil {
		size = *d.Size
	}
	cells := [3]int{3, 3, 3}
	if d.Cells != nil {
		cells = *d.Cells
	}
	voxels := [3]int{10, 10, 10}
	if d.Voxels != nil {
		voxels = *d.Voxels
	}
	shape := voxel.BoxShape()
	if d.Shape != nil {
		kind, err := voxel.ParseShapeKind(*d.Shape)
		if err != nil {
			return scoring.DetectorSpec{}, err
		}
		if kind == voxel.ShapeCylinder {
			r := size[0] / 2
			if d.Radius != nil {
				r = *d.Radius
			}
			shape = voxel.CylinderShape(r)
		}
	}
	var kinds []scoring.ScoringKind
	for _, k := range d.Kinds {
		kind, err := scoring.ParseScoringKind(k)
		if err != nil {
			return scoring.DetectorSpec{}, err
		}
		kinds = append(kinds, kind)
	}
	return scoring.DetectorSpec{
		Name:   name,
		Box:    voxel.NewBoxAt(r3.Vec{X: centre[0], Y: centre[1], Z: centre[2]}, size[0], size[1], size[2]),
		Cells:  cells,
		Voxels: voxels,
		Shape:  shape,
		Kinds:  kinds,
	}, nil
}

// ControlPointConfigs builds one controlpoint.Config per configured
// control point, numbered from 1. Seeds are offset per control point.
func (c *SimulationConfig) ControlPointConfigs() ([]controlpoint.Config, error) {
	out := make([]controlpoint.Config, 0, len(c.ControlPoints))
	for i, cp := range c.ControlPoints {
		kind, err := fieldmask.ParseShape(cp.Shape)
		if err != nil {
			return nil, fmt.Errorf("control_points[%d]: %w", i, err)
		}
		shape, err := fieldmask.NewShape(kind, cp.FieldA, cp.FieldB, cp.LeafBoundaries, cp.BankA, cp.BankB)
		if err != nil {
			return nil, fmt.Errorf("control_points[%d]: %w", i, err)
		}
		out = append(out, controlpoint.Config{
			ID:              i + 1,
			Name:            cp.Name,
			Shape:           shape,
			Beam:            fieldmask.Beam{RotationDeg: cp.RotationDeg, SID: c.GetSID()},
			Events:          cp.Events,
			Workers:         c.GetWorkers(),
			Seed:            c.GetSeed() + int64(i),
			MaskSpacing:     c.GetMaskSpacing(),
			MaskDepth:       c.GetMaskDepth(),
			EdgePolicy:      c.GetEdgePolicy(),
			TrackProvenance: c.GetTrackProvenance(),
		})
	}
	return out, nil
}

// FieldTransport builds the synthetic transport for one control point.
func (c *SimulationConfig) FieldTransport(cp controlpoint.Config) synthetic.Field {
	t := c.transport()
	get := func(p *float64, def float64) float64 {
		if p == nil {
			return def
		}
		return *p
	}
	primaries := 10
	if t.PrimariesPerEvent != nil {
		primaries = *t.PrimariesPerEvent
	}
	return synthetic.Field{
		Beam:              cp.Beam,
		Shape:             cp.Shape,
		EdgePolicy:        cp.EdgePolicy,
		Energy:            get(t.Energy, 6),
		PrimariesPerEvent: primaries,
		StepLength:        get(t.StepLength, 2),
		Depth:             get(t.Depth, 300),
		Attenuation:       get(t.Attenuation, 0.02),
		SecondaryFraction: get(t.SecondaryFraction, 0.1),
		Density:           get(t.Density, 1.0),
	}
}
