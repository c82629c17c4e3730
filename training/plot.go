package training

import (
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// PlotImportance saves a bar chart of the normalised gain importances,
// highest first. The image format follows the file extension.
func PlotImportance(path string, res *Result) error {
	if len(res.Importances) == 0 {
		return errors.NewModelError("PlotImportance", "no feature importances", nil)
	}

	values := make(plotter.Values, len(res.Importances))
	names := make([]string, len(res.Importances))
	for i, fi := range res.Importances {
		values[i] = fi.Gain
		names[i] = fi.Feature
	}

	p := plot.New()
	p.Title.Text = "Feature importance (gain)"
	p.Y.Label.Text = "share of total gain"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return errors.Wrap(err, "build bar chart")
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)
	p.X.Tick.Label.Rotation = 0.8
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.NewArtifactError("PlotImportance", path, "cannot create directory", err)
	}
	width := vg.Length(len(names))*0.6*vg.Inch + 2*vg.Inch
	if err := p.Save(width, 5*vg.Inch, path); err != nil {
		return errors.NewArtifactError("PlotImportance", path, "cannot save plot", err)
	}
	return nil
}
