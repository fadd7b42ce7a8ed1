package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/components/camera"
	"go.viam.com/stereo/display"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
)

// RunAction is the corresponding Action for 'run'.
func RunAction(c *cli.Context) (err error) {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	logger := newLogger(c)
	defer goutils.UncheckedErrorFunc(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources, err := openSources(ctx, c, cfg, logger)
	if err != nil {
		return err
	}
	sink, err := newDisplay(c, cfg, logger)
	if err != nil {
		return multierr.Combine(err, closeSources(ctx, sources))
	}
	orch, err := pipeline.New(cfg, sources, sink, logger.Sublogger("pipeline"))
	if err != nil {
		return multierr.Combine(err, closeSources(ctx, sources), sink.Close())
	}
	defer func() {
		// the run context is gone once interrupted
		err = multierr.Combine(err, orch.Close(context.Background()))
	}()
	return orch.Run(ctx)
}

// openSources opens replays when both image lists are given, otherwise the two webcams.
func openSources(ctx context.Context, c *cli.Context, cfg pipeline.Config, logger logging.Logger) ([2]camera.FrameSource, error) {
	var sources [2]camera.FrameSource
	lists := [2]string{c.String(leftImagesFlag), c.String(rightImagesFlag)}
	if (lists[0] == "") != (lists[1] == "") {
		return sources, errors.Errorf("--%s and --%s must be given together", leftImagesFlag, rightImagesFlag)
	}
	if lists[0] != "" {
		for i, list := range lists {
			paths, err := pipeline.ReadImageList(list)
			if err != nil {
				return sources, multierr.Combine(err, closeSources(ctx, sources))
			}
			replay, err := camera.NewReplay(paths, c.Bool(loopFlag))
			if err != nil {
				return sources, multierr.Combine(errors.Wrapf(err, "in %q", list), closeSources(ctx, sources))
			}
			sources[i] = replay
		}
		return sources, nil
	}
	for i, index := range []int{cfg.LeftCamera, cfg.RightCamera} {
		cam, err := camera.NewWebcam(ctx, index, cfg.Webcam, logger.Sublogger("camera"))
		if err != nil {
			return sources, multierr.Combine(err, closeSources(ctx, sources))
		}
		sources[i] = cam
	}
	return sources, nil
}

func closeSources(ctx context.Context, sources [2]camera.FrameSource) error {
	var err error
	for _, src := range sources {
		if src != nil {
			err = multierr.Combine(err, src.Close(ctx))
		}
	}
	return err
}

// newDisplay returns the sinks asked for by the flags.
func newDisplay(c *cli.Context, cfg pipeline.Config, logger logging.Logger) (display.Sink, error) {
	var sinks []display.Sink
	if cfg.OutDir != "" {
		fileSink, err := display.NewFileSink(cfg.OutDir)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if cfg.HTTPAddr != "" {
		httpSink, err := display.NewHTTPSink(cfg.HTTPAddr, logger.Sublogger("display"))
		if err != nil {
			return nil, multierr.Combine(err, display.NewMultiSink(sinks...).Close())
		}
		infof(c.App.Writer, "serving frames at http://%s", httpSink.Addr())
		sinks = append(sinks, httpSink)
	}
	if len(sinks) == 0 {
		warningf(c.App.ErrWriter, "no --%s or --%s given, frames are not shown", outDirFlag, httpFlag)
		return display.NopSink{}, nil
	}
	return display.NewMultiSink(sinks...), nil
}
