package cli

import (
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/display"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
)

// CalibrateAction is the corresponding Action for 'calibrate'.
func CalibrateAction(c *cli.Context) (err error) {
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one image list")
	}
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	logger := newLogger(c)
	defer goutils.UncheckedErrorFunc(logger.Sync)

	var opts []pipeline.CalibrateOption
	reviewer, sink, err := newReviewer(c, cfg, logger)
	if err != nil {
		return err
	}
	if reviewer != nil {
		defer func() {
			err = multierr.Combine(err, sink.Close())
		}()
		opts = append(opts, pipeline.WithReviewer(reviewer))
	}

	run, err := pipeline.CalibrateFromList(c.Context, cfg, c.Args().First(), logger, opts...)
	if run != nil {
		printCalibrationReport(c.App.Writer, run)
	}
	if err != nil {
		if errors.Is(err, pipeline.ErrReviewAborted) {
			warningf(c.App.ErrWriter, "calibration stopped during review, nothing was written")
		}
		return err
	}
	if cfg.ErrorPlot != "" {
		if err := writeErrorPlot(cfg.ErrorPlot, run); err != nil {
			return err
		}
		infof(c.App.Writer, "epipolar error plot written to %s", cfg.ErrorPlot)
	}
	infof(c.App.Writer, "calibration %s written to %s and %s", run.ID, run.IntrinsicsPath, run.ExtrinsicsPath)
	return nil
}

// newReviewer returns the corner reviewer asked for by the flags, and the sink it shows on. Both
// are nil when no review is configured.
func newReviewer(c *cli.Context, cfg pipeline.Config, logger logging.Logger) (pipeline.Reviewer, display.Sink, error) {
	var sinks []display.Sink
	if cfg.ReviewDir != "" {
		fileSink, err := display.NewFileSink(cfg.ReviewDir)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.HTTPAddr != "" {
		httpSink, err := display.NewHTTPSink(cfg.HTTPAddr, logger.Sublogger("display"))
		if err != nil {
			return nil, nil, multierr.Combine(err, display.NewMultiSink(sinks...).Close())
		}
		infof(c.App.Writer, "serving corner review at http://%s", httpSink.Addr())
		sinks = append(sinks, httpSink)
	}
	if len(sinks) == 0 && !cfg.InteractiveReview {
		return nil, nil, nil
	}
	sink := display.NewMultiSink(sinks...)
	if cfg.InteractiveReview {
		if len(sinks) == 0 {
			warningf(c.App.ErrWriter, "interactive review without --%s or --%s shows no images", reviewDirFlag, httpFlag)
		}
		return pipeline.NewInteractiveReviewer(sink, c.App.Reader, c.App.Writer, logger), sink, nil
	}
	return pipeline.SinkReviewer{Sink: sink}, sink, nil
}
