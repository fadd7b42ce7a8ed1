package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/utils"
)

type reportRow struct {
	index       int
	left, right string
	accepted    bool
	detail      string
}

// reportRows lists every pair of a run in list order. Accepted pairs carry their epipolar error.
func reportRows(run *pipeline.CalibrationRun) []reportRow {
	rows := make([]reportRow, 0, len(run.Accepted)+len(run.Rejected))
	for k, p := range run.Accepted {
		detail := ""
		if k < len(run.Quality.PerPair) {
			detail = fmt.Sprintf("%.4f px", run.Quality.PerPair[k])
		}
		rows = append(rows, reportRow{index: p.Index, left: p.Left, right: p.Right, accepted: true, detail: detail})
	}
	for _, p := range run.Rejected {
		rows = append(rows, reportRow{index: p.Index, left: p.Left, right: p.Right, detail: p.Reason.Error()})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].index < rows[j].index
	})
	return rows
}

// printCalibrationReport prints the outcome of every pair and the quality of the calibration.
func printCalibrationReport(w io.Writer, run *pipeline.CalibrationRun) {
	accepted := color.New(color.FgGreen).Sprint("accepted")
	rejected := color.New(color.FgRed).Sprint("rejected")

	t := table.NewWriter()
	t.SetOutputMirror(w)
	style := table.StyleLight
	style.Format.Footer = text.FormatDefault
	t.SetStyle(style)
	t.AppendHeader(table.Row{"#", "left", "right", "status", "epipolar error / reason"})
	for _, r := range reportRows(run) {
		status := rejected
		if r.accepted {
			status = accepted
		}
		t.AppendRow(table.Row{r.index + 1, filepath.Base(r.left), filepath.Base(r.right), status, r.detail})
	}
	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d of %d", len(run.Accepted), run.Pairs), ""})
	t.Render()

	if run.Result == nil {
		return
	}
	printf(w, "RMS error=%.4f", run.Result.RMS())
	printf(w, "average epipolar err=%.4f (median %.4f, p95 %.4f, max %.4f over %d points)",
		run.Quality.Average, run.Quality.Median, run.Quality.P95, run.Quality.Max, run.Quality.Points)
	printf(w, "baseline=%.4f", run.Result.Baseline())
}

// writeErrorPlot draws the average epipolar error of every accepted pair as a bar chart. The
// format follows the extension of path.
func writeErrorPlot(path string, run *pipeline.CalibrationRun) error {
	if run == nil || len(run.Quality.PerPair) == 0 {
		return errors.New("no pair errors to plot")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("epipolar error of calibration %s", run.ID)
	p.Y.Label.Text = "average error (px)"
	p.X.Label.Text = "pair"

	values := make(plotter.Values, len(run.Quality.PerPair))
	names := make([]string, len(run.Quality.PerPair))
	for k, v := range run.Quality.PerPair {
		values[k] = v
		names[k] = fmt.Sprintf("#%d", run.Accepted[k].Index+1)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return errors.Wrap(err, "cannot plot epipolar errors")
	}
	bars.LineStyle.Width = vg.Length(0)
	bars.Color = plotter.DefaultLineStyle.Color
	p.Add(bars)
	p.NominalX(names...)

	mean, err := plotter.NewLine(plotter.XYs{
		{X: -0.5, Y: run.Quality.Average},
		{X: float64(len(values)) - 0.5, Y: run.Quality.Average},
	})
	if err != nil {
		return errors.Wrap(err, "cannot plot epipolar errors")
	}
	mean.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(mean)
	p.Legend.Add("average", mean)

	if err := utils.EnsureParentDir(path); err != nil {
		return err
	}
	return errors.Wrapf(p.Save(8*vg.Inch, 4*vg.Inch, path), "cannot write %q", path)
}
