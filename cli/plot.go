package cli

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/handeye/control"
)

// writeConvergencePlot draws the per-cycle error norm of report against the convergence
// threshold. The image format follows the extension of path.
func writeConvergencePlot(path string, report *control.Report, threshold float64) error {
	if len(report.History) == 0 {
		return errors.New("the servo run completed no cycles, nothing to plot")
	}
	p := plot.New()
	p.Title.Text = "servo " + report.SessionID
	p.X.Label.Text = "cycle"
	p.Y.Label.Text = "error norm"

	xys := make(plotter.XYs, len(report.History))
	for i, norm := range report.History {
		xys[i].X = float64(i)
		xys[i].Y = norm
	}
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return err
	}
	limit := plotter.NewFunction(func(float64) float64 { return threshold })
	limit.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}

	p.Add(line, points, limit, plotter.NewGrid())
	p.Legend.Add("error norm", line, points)
	p.Legend.Add("threshold", limit)
	return errors.Wrapf(p.Save(6*vg.Inch, 4*vg.Inch, path), "failed to save plot %q", path)
}
