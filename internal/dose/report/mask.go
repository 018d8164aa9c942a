package report

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/dose.report/internal/dose/fieldmask"
)

// MaxPlotPoints caps the points drawn per mask; larger masks are strided.
const MaxPlotPoints = 20000

var (
	planColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	simColor  = color.RGBA{R: 253, G: 231, B: 37, A: 255}
)

// beamXYs maps world points to beam-frame plane coordinates, keeping at
// most MaxPlotPoints of them.
func beamXYs(beam fieldmask.Beam, pts []r3.Vec) plotter.XYs {
	stride := 1
	if len(pts) > MaxPlotPoints {
		stride = (len(pts) + MaxPlotPoints - 1) / MaxPlotPoints
	}
	xys := make(plotter.XYs, 0, len(pts)/stride+1)
	for i := 0; i < len(pts); i += stride {
		b := beam.ToBeam(pts[i])
		xys = append(xys, plotter.XY{X: b.X, Y: b.Y})
	}
	return xys
}

// WriteMaskPlot draws the Plan and Sim masks as a PNG scatter in beam-frame
// coordinates. Either mask may be empty.
func WriteMaskPlot(w io.Writer, title string, beam fieldmask.Beam, plan, sim []r3.Vec) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Beam X (mm)"
	p.Y.Label.Text = "Beam Y (mm)"
	p.Add(plotter.NewGrid())

	series := []struct {
		name   string
		pts    []r3.Vec
		colour color.Color
		radius vg.Length
	}{
		{"Plan", plan, planColor, vg.Points(1)},
		{"Sim", sim, simColor, vg.Points(1.5)},
	}
	for _, s := range series {
		if len(s.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(beamXYs(beam, s.pts))
		if err != nil {
			return fmt.Errorf("failed to build %s scatter: %w", s.name, err)
		}
		sc.GlyphStyle.Color = s.colour
		sc.GlyphStyle.Radius = s.radius
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("%s (%d)", s.name, len(s.pts)), sc)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render mask plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write mask plot: %w", err)
	}
	return nil
}
