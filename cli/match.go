package cli

import (
	"io"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/display"
	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/rimage"
)

// MatchAction is the corresponding Action for 'match'.
func MatchAction(c *cli.Context) (err error) {
	if c.Args().Len() != 2 {
		return errors.New("expected a left and a right image")
	}
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	logger := newLogger(c)
	defer goutils.UncheckedErrorFunc(logger.Sync)

	left, err := rimage.ReadImageFromFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	right, err := rimage.ReadImageFromFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	out, err := pipeline.MatchPair(c.Context, cfg, left, right, logger)
	if err != nil {
		return err
	}

	total := out.Disparity.Width() * out.Disparity.Height()
	infof(c.App.Writer, "%d of %d pixels have a disparity (%.1f%%)",
		out.Disparity.ValidCount(), total, 100*float64(out.Disparity.ValidCount())/float64(total))
	if err := printDisparityHistogram(c.App.Writer, out.Disparity); err != nil {
		return err
	}
	if out.Rectification == nil {
		warningf(c.App.Writer, "no calibration in %s and %s, the images were matched as given",
			cfg.IntrinsicsPath, cfg.ExtrinsicsPath)
	}
	if cfg.DisparityOut != "" {
		infof(c.App.Writer, "disparity written to %s", cfg.DisparityOut)
	}
	if cfg.PointCloudOut != "" {
		infof(c.App.Writer, "%d points written to %s", out.Cloud.Size(), cfg.PointCloudOut)
	}

	if cfg.OutDir == "" {
		return nil
	}
	sink, err := display.NewFileSink(cfg.OutDir)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sink.Close())
	}()
	for name, img := range map[string]*rimage.GrayImage{
		pipeline.WindowLeft:  out.Rectified.Left,
		pipeline.WindowRight: out.Rectified.Right,
	} {
		if err := sink.Show(c.Context, name, img); err != nil {
			return err
		}
	}
	return sink.Show(c.Context, pipeline.WindowDisparity, out.Color)
}

// histogramBins is the number of buckets of the disparity histogram printed by match.
const histogramBins = 8

// printDisparityHistogram prints how the matched disparities, in pixels, are spread over the
// search range.
func printDisparityHistogram(w io.Writer, disp *rimage.DisparityMap) error {
	values := make([]float64, 0, disp.ValidCount())
	for y := 0; y < disp.Height(); y++ {
		for x := 0; x < disp.Width(); x++ {
			if d, ok := disp.Pixels(x, y); ok {
				values = append(values, d)
			}
		}
	}
	if len(values) == 0 {
		return nil
	}
	printf(w, "disparity (px):")
	return errors.Wrap(histogram.Fprint(w, histogram.Hist(histogramBins, values), histogram.Linear(40)),
		"cannot print disparity histogram")
}
