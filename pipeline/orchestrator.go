package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/components/camera"
	"go.viam.com/stereo/display"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/calibration"
	"go.viam.com/stereo/rimage/rectification"
	"go.viam.com/stereo/rimage/stereo"
)

// Window names frames are shown under.
const (
	WindowDisparity = "disp"
	WindowLeft      = "left"
	WindowRight     = "right"
)

const fpsReportInterval = 5 * time.Second

// Frame is the result of one iteration of the live loop.
type Frame struct {
	// Raw holds the captured frames after scaling.
	Raw rectification.FramePair
	// Rectified equals Raw when no calibration is in use.
	Rectified rectification.FramePair
	Disparity *rimage.DisparityMap
	// Visual is the disparity scaled to 8 bits; Color is its false color rendering.
	Visual *rimage.GrayImage
	Color  *rimage.Image
}

// liveState is what the loop needs from a calibration. It is replaced as a whole on reload and
// never modified.
type liveState struct {
	rect    *rectification.Result
	matcher stereo.Matcher
}

func newLiveState(cfg Config, rect *rectification.Result, width int, logger logging.Logger) (*liveState, error) {
	if rect != nil {
		width = rect.ImageSize().X
	}
	alg, params, err := cfg.MatcherParams(width)
	if err != nil {
		return nil, err
	}
	if rect != nil && alg == stereo.AlgorithmBM {
		params.ROI1, params.ROI2 = rect.ROI1(), rect.ROI2()
	}
	matcher, err := stereo.NewMatcher(alg, params, logger)
	if err != nil {
		return nil, err
	}
	return &liveState{rect: rect, matcher: matcher}, nil
}

// process rectifies, matches and colorizes one pair.
func (s *liveState) process(ctx context.Context, raw rectification.FramePair) (*Frame, error) {
	frame := &Frame{Raw: raw, Rectified: raw}
	if s.rect != nil {
		rectified, err := s.rect.Rectify(raw)
		if err != nil {
			return nil, err
		}
		frame.Rectified = rectified
	}
	disp, err := s.matcher.Compute(ctx, frame.Rectified.Left, frame.Rectified.Right)
	if err != nil {
		return nil, err
	}
	frame.Disparity = disp
	frame.Visual = stereo.ToVisual(disp, s.matcher.Params().NumDisparities)
	frame.Color = rimage.FalseColor(frame.Visual)
	return frame, nil
}

// LoadRectification reads the calibration documents named by cfg and rectifies them for frames
// scaled by cfg.Scale.
func LoadRectification(cfg Config) (*rectification.Result, error) {
	calib, ex, err := calibration.LoadCalibration(cfg.IntrinsicsPath, cfg.ExtrinsicsPath)
	if err != nil {
		return nil, err
	}
	if calib.ID() != "" && ex.ID != "" && calib.ID() != ex.ID {
		return nil, errors.Errorf("%q and %q come from different calibration runs (%s and %s)",
			cfg.IntrinsicsPath, cfg.ExtrinsicsPath, calib.ID(), ex.ID)
	}
	if cfg.Scale != 1 {
		if calib, err = calib.Scaled(cfg.Scale); err != nil {
			return nil, err
		}
	}
	return rectification.Compute(calib, calib.ImageSize(), cfg.RectificationOptions())
}

type options struct {
	clock   clock.Clock
	rect    *rectification.Result
	noWatch bool
}

// An Option changes how frames are processed.
type Option func(*options)

// WithClock sets the clock used for pacing and frame rate reports.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRectification uses rect instead of the calibration documents of the config. rect must be
// for frames already scaled by the config's scale.
func WithRectification(rect *rectification.Result) Option {
	return func(o *options) {
		o.rect = rect
	}
}

// WithoutWatch disables reloading the calibration when its documents change.
func WithoutWatch() Option {
	return func(o *options) {
		o.noWatch = true
	}
}

func newOptions(opts []Option) options {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Orchestrator runs the live loop: capture, scale, rectify, match, colorize and display.
// Iterations run one at a time; only the calibration may change between them.
type Orchestrator struct {
	cfg     Config
	sources [2]camera.FrameSource
	sink    display.Sink
	logger  logging.Logger
	clock   clock.Clock

	state atomic.Pointer[liveState]

	watcher   *fsnotify.Watcher
	workers   sync.WaitGroup
	closeOnce sync.Once
}

// New returns an orchestrator reading from sources (left, then right) and showing on sink. It
// takes ownership of both sources and the sink. Unless a rectification is given, the calibration
// documents of cfg are loaded and watched for changes.
func New(
	cfg Config,
	sources [2]camera.FrameSource,
	sink display.Sink,
	logger logging.Logger,
	opts ...Option,
) (*Orchestrator, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	if sources[0] == nil || sources[1] == nil {
		return nil, errors.New("both frame sources are required")
	}
	if sink == nil {
		sink = display.NopSink{}
	}
	o := newOptions(opts)
	orch := &Orchestrator{
		cfg:     cfg,
		sources: sources,
		sink:    sink,
		logger:  logger,
		clock:   o.clock,
	}
	rect := o.rect
	if rect == nil {
		var err error
		if rect, err = LoadRectification(cfg); err != nil {
			return nil, err
		}
	}
	state, err := newLiveState(cfg, rect, 0, logger.Sublogger("stereo"))
	if err != nil {
		return nil, err
	}
	orch.state.Store(state)
	logger.Infow("live stereo ready",
		"algorithm", state.matcher.Algorithm(),
		"num_disparities", state.matcher.Params().NumDisparities,
		"size", rect.ImageSize())

	if o.rect == nil && !o.noWatch {
		if err := orch.startWatcher(); err != nil {
			return nil, err
		}
	}
	return orch, nil
}

// Rectification returns the calibration currently in use.
func (o *Orchestrator) Rectification() *rectification.Result {
	return o.state.Load().rect
}

// Reload reads the calibration documents again. On failure the previous calibration stays in
// use.
func (o *Orchestrator) Reload() error {
	rect, err := LoadRectification(o.cfg)
	if err != nil {
		return err
	}
	state, err := newLiveState(o.cfg, rect, 0, o.logger.Sublogger("stereo"))
	if err != nil {
		return err
	}
	o.state.Store(state)
	o.logger.Infow("calibration reloaded", "id", rect.Calibration().ID(), "size", rect.ImageSize())
	return nil
}

func (o *Orchestrator) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "cannot watch calibration")
	}
	targets := map[string]bool{}
	dirs := map[string]bool{}
	for _, p := range []string{o.cfg.IntrinsicsPath, o.cfg.ExtrinsicsPath} {
		abs, err := filepath.Abs(p)
		if err != nil {
			return multierr.Combine(err, watcher.Close())
		}
		targets[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	// directories survive the file being replaced
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return multierr.Combine(errors.Wrapf(err, "cannot watch %q", dir), watcher.Close())
		}
	}
	o.watcher = watcher
	o.workers.Add(1)
	goutils.ManagedGo(func() {
		o.watch(targets)
	}, o.workers.Done)
	return nil
}

func (o *Orchestrator) watch(targets map[string]bool) {
	for {
		select {
		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if abs, err := filepath.Abs(event.Name); err != nil || !targets[abs] {
				continue
			}
			if err := o.Reload(); err != nil {
				o.logger.Warnw("keeping previous calibration", "file", event.Name, "error", err)
			}
		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.logger.Warnw("calibration watch failed", "error", err)
		}
	}
}

// Run steps until ctx is cancelled or a source ends its stream, pacing iterations to the
// configured maximum frame rate.
func (o *Orchestrator) Run(ctx context.Context) error {
	var interval time.Duration
	if o.cfg.MaxFPS > 0 {
		interval = time.Duration(float64(time.Second) / o.cfg.MaxFPS)
	}
	reportStart := o.clock.Now()
	frames := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		start := o.clock.Now()
		frame, err := o.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, camera.ErrEndOfStream) {
				o.logger.Infow("frame source ended", "error", err)
				return nil
			}
			return err
		}
		if frame != nil {
			frames++
		}
		if elapsed := o.clock.Since(reportStart); elapsed >= fpsReportInterval {
			o.logger.Infow("stereo", "fps", float64(frames)/elapsed.Seconds())
			reportStart, frames = o.clock.Now(), 0
		}
		if interval == 0 {
			continue
		}
		if wait := interval - o.clock.Since(start); wait > 0 {
			timer := o.clock.Timer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}
}

// Step runs a single iteration. It returns a nil frame without error when the iteration was
// skipped because a capture failed or the frames did not fit the calibration.
func (o *Orchestrator) Step(ctx context.Context) (*Frame, error) {
	raw, err := o.capture(ctx)
	if err != nil {
		if errors.Is(err, camera.ErrEndOfStream) || ctx.Err() != nil {
			return nil, err
		}
		o.logger.Warnw("skipping frame", "error", err)
		return nil, nil
	}
	state := o.state.Load()
	frame, err := state.process(ctx, raw)
	if err != nil {
		if errors.Is(err, rimage.ErrSizeMismatch) {
			o.logger.Warnw("skipping frame", "error", err)
			return nil, nil
		}
		return nil, err
	}
	if err := o.show(ctx, state, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

var sideNames = [2]string{"left", "right"}

// capture reads one frame from every source, even after a failure, so the streams stay in step.
func (o *Orchestrator) capture(ctx context.Context) (rectification.FramePair, error) {
	var (
		frames   [2]*rimage.GrayImage
		firstErr error
	)
	for i, src := range o.sources {
		img, release, err := src.Read(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "%s camera", sideNames[i])
			}
			continue
		}
		gray := rimage.ConvertToGray(img)
		release()
		if gray.Empty() {
			if firstErr == nil {
				firstErr = errors.Errorf("%s camera returned an empty frame", sideNames[i])
			}
			continue
		}
		frames[i] = scaleFrame(gray, o.cfg.Scale)
	}
	if firstErr != nil {
		return rectification.FramePair{}, firstErr
	}
	return rectification.FramePair{Left: frames[0], Right: frames[1]}, nil
}

func scaleFrame(img *rimage.GrayImage, factor float64) *rimage.GrayImage {
	if factor == 1 {
		return img
	}
	return rimage.ScaleGray(img, factor)
}

func (o *Orchestrator) show(ctx context.Context, state *liveState, frame *Frame) error {
	if err := o.sink.Show(ctx, WindowDisparity, frame.Color); err != nil {
		return errors.Wrap(err, "cannot show disparity")
	}
	shown, rois := frame.Rectified, [2]image.Rectangle{state.rect.ROI1(), state.rect.ROI2()}
	caption := "rectified"
	if o.cfg.NoRectifiedDisplay {
		shown, rois, caption = frame.Raw, [2]image.Rectangle{}, "raw"
	}
	for i, img := range []*rimage.GrayImage{shown.Left, shown.Right} {
		name := []string{WindowLeft, WindowRight}[i]
		annotated := rimage.Annotate(img, fmt.Sprintf("%s %s", name, caption), rois[i])
		if err := o.sink.Show(ctx, name, annotated); err != nil {
			return errors.Wrapf(err, "cannot show %s", name)
		}
	}
	return nil
}

// Close stops watching the calibration and releases the sources and the sink.
func (o *Orchestrator) Close(ctx context.Context) error {
	var err error
	o.closeOnce.Do(func() {
		if o.watcher != nil {
			err = multierr.Combine(err, o.watcher.Close())
		}
		o.workers.Wait()
		for _, src := range o.sources {
			err = multierr.Combine(err, src.Close(ctx))
		}
		err = multierr.Combine(err, o.sink.Close())
	})
	return err
}
