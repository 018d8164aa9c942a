package report

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/dose.report/internal/dose/run"
	"github.com/banshee-data/dose.report/internal/units"
)

// Axis selects the slice normal.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	default:
		return "Z"
	}
}

// ParseAxis maps "x", "y" or "z" (either case) to an Axis.
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "x", "X":
		return AxisX, nil
	case "y", "Y":
		return AxisY, nil
	case "z", "Z", "":
		return AxisZ, nil
	default:
		return AxisZ, fmt.Errorf("unknown slice axis %q", s)
	}
}

func component(v r3.Vec, a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// inPlane returns the two in-plane coordinates for a slice normal to a.
func inPlane(v r3.Vec, a Axis) (float64, float64) {
	switch a {
	case AxisX:
		return v.Y, v.Z
	case AxisY:
		return v.X, v.Z
	default:
		return v.X, v.Y
	}
}

// Slice is the set of rows sharing one position along Axis.
type Slice struct {
	Axis     Axis
	Position float64
	Rows     []run.Row
}

// PeakSlice returns the rows in the slice through the highest-dose row.
// Rows belong to the slice when their position along axis is within
// tolerance of the peak. It returns false for no rows.
func PeakSlice(rows []run.Row, axis Axis, tolerance float64) (Slice, bool) {
	if len(rows) == 0 {
		return Slice{}, false
	}
	peak := rows[0]
	for _, r := range rows[1:] {
		if r.Dose > peak.Dose {
			peak = r
		}
	}
	pos := component(peak.Position, axis)
	s := Slice{Axis: axis, Position: pos}
	for _, r := range rows {
		if math.Abs(component(r.Position, axis)-pos) <= tolerance {
			s.Rows = append(s.Rows, r)
		}
	}
	return s, true
}

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// WriteDoseSlice renders a slice as an HTML scatter coloured by dose in
// doseUnits. In-field and out-of-field voxels are separate series.
func WriteDoseSlice(w io.Writer, title string, s Slice, doseUnits string) error {
	if !units.IsValidDose(doseUnits) {
		doseUnits = units.Gy
	}
	h, v := "X", "Y"
	switch s.Axis {
	case AxisX:
		h, v = "Y", "Z"
	case AxisY:
		h, v = "X", "Z"
	}

	in := make([]opts.ScatterData, 0, len(s.Rows))
	out := make([]opts.ScatterData, 0)
	var maxDose float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, r := range s.Rows {
		a, b := inPlane(r.Position, s.Axis)
		lo, hi = math.Min(lo, math.Min(a, b)), math.Max(hi, math.Max(a, b))
		d := units.ConvertDose(r.Dose, doseUnits)
		maxDose = math.Max(maxDose, d)
		pt := opts.ScatterData{Value: []interface{}{a, b, d}}
		if r.Tags.InField {
			in = append(in, pt)
		} else {
			out = append(out, pt)
		}
	}
	pad := 1.0
	if len(s.Rows) > 0 {
		pad = math.Max(math.Abs(lo), math.Abs(hi)) * 1.05
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: fmt.Sprintf("%s = %.2f mm, voxels=%d", s.Axis, s.Position, len(s.Rows))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: h + " (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: v + " (mm)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxDose),
			Dimension:  "2",
			Text:       []string{doseUnits},
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("in field", in, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	scatter.AddSeries("out of field", out, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 5}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		return fmt.Errorf("failed to render dose slice: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write dose slice: %w", err)
	}
	return nil
}
