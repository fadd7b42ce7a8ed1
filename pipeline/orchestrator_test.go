package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"
	gotestutils "go.viam.com/utils/testutils"

	"go.viam.com/stereo/components/camera"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/stereo"
	"go.viam.com/stereo/testutils"
)

func replaySources(t *testing.T, lefts, rights []string, loop bool) [2]camera.FrameSource {
	t.Helper()
	left, err := camera.NewReplay(lefts, loop)
	test.That(t, err, test.ShouldBeNil)
	right, err := camera.NewReplay(rights, loop)
	test.That(t, err, test.ShouldBeNil)
	return [2]camera.FrameSource{left, right}
}

// nearTrueDisparity is the share of interior pixels matched within one pixel of the texture
// shift.
func nearTrueDisparity(disp *rimage.DisparityMap) float64 {
	want := int(testDisparity * rimage.DisparityScale)
	good, total := 0, 0
	for y := 10; y < disp.Height()-10; y++ {
		for x := 40; x < disp.Width()-10; x++ {
			total++
			if d := int(disp.Get(x, y)); d != int(disp.Invalid()) && d >= want-16 && d <= want+16 {
				good++
			}
		}
	}
	return float64(good) / float64(total)
}

func TestOrchestratorStep(t *testing.T) {
	dir := testutils.TempDir(t, "", "step")
	lefts, rights := writeFrames(t, dir, 2, testWidth, testHeight)
	sink := newRecordingSink()
	cfg := DefaultConfig()

	orch, err := New(cfg, replaySources(t, lefts, rights, false), sink, logging.NewTestLogger(t),
		WithRectification(parallelRectification(t)), WithClock(clock.NewMock()))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
		test.That(t, sink.closed, test.ShouldBeTrue)
	}()

	frame, err := orch.Step(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame, test.ShouldNotBeNil)
	test.That(t, frame.Disparity.Width(), test.ShouldEqual, testWidth)
	test.That(t, frame.Disparity.Height(), test.ShouldEqual, testHeight)
	test.That(t, frame.Disparity.NumDisparities(), test.ShouldEqual, 32)
	test.That(t, nearTrueDisparity(frame.Disparity), test.ShouldBeGreaterThan, 0.7)
	test.That(t, frame.Visual.Width(), test.ShouldEqual, testWidth)
	test.That(t, frame.Color.Width(), test.ShouldEqual, testWidth)
	test.That(t, frame.Raw.Left, test.ShouldNotEqual, frame.Rectified.Left)

	test.That(t, sink.count(WindowDisparity), test.ShouldEqual, 1)
	test.That(t, sink.count(WindowLeft), test.ShouldEqual, 1)
	test.That(t, sink.count(WindowRight), test.ShouldEqual, 1)
	test.That(t, sink.frames[WindowDisparity], test.ShouldEqual, frame.Color)

	frame, err = orch.Step(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame, test.ShouldNotBeNil)

	_, err = orch.Step(context.Background())
	test.That(t, errors.Is(err, camera.ErrEndOfStream), test.ShouldBeTrue)
}

func TestOrchestratorBlockMatching(t *testing.T) {
	dir := testutils.TempDir(t, "", "bm")
	lefts, rights := writeFrames(t, dir, 1, testWidth, testHeight)
	cfg := DefaultConfig()
	cfg.Algorithm = "bm"
	cfg.NoRectifiedDisplay = true
	rect := parallelRectification(t)

	orch, err := New(cfg, replaySources(t, lefts, rights, false), newRecordingSink(), logging.NewTestLogger(t),
		WithRectification(rect))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
	}()

	frame, err := orch.Step(context.Background())
	test.That(t, err, test.ShouldBeNil)
	params := orch.state.Load().matcher.Params()
	test.That(t, orch.state.Load().matcher.Algorithm(), test.ShouldEqual, stereo.AlgorithmBM)
	test.That(t, params.ROI1, test.ShouldResemble, rect.ROI1())
	test.That(t, params.BlockSize, test.ShouldEqual, 9)
	roi := stereo.ValidDisparityROI(rect.ROI1(), rect.ROI2(), 0, params.NumDisparities, params.BlockSize)
	test.That(t, frame.Disparity.Get(roi.Min.X-1, roi.Min.Y), test.ShouldEqual, frame.Disparity.Invalid())
}

func TestOrchestratorSkipsFrames(t *testing.T) {
	dir := testutils.TempDir(t, "", "skip")
	lefts, rights := writeFrames(t, dir, 3, testWidth, testHeight)
	corrupt := filepath.Join(dir, "corrupt.png")
	test.That(t, os.WriteFile(corrupt, []byte("not an image"), 0o600), test.ShouldBeNil)
	lefts[1] = corrupt
	smallLefts, smallRights := writeFrames(t, filepath.Join(dir, "small"), 1, 100, 80)
	lefts = append(lefts, smallLefts...)
	rights = append(rights, smallRights...)

	logger, logs := logging.NewObservedTestLogger(t)
	orch, err := New(DefaultConfig(), replaySources(t, lefts, rights, false), nil, logger,
		WithRectification(parallelRectification(t)))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
	}()

	var produced []bool
	for i := 0; i < 4; i++ {
		frame, err := orch.Step(context.Background())
		test.That(t, err, test.ShouldBeNil)
		produced = append(produced, frame != nil)
	}
	test.That(t, produced, test.ShouldResemble, []bool{true, false, true, false})
	test.That(t, logs.FilterMessage("skipping frame").Len(), test.ShouldEqual, 2)

	_, err = orch.Step(context.Background())
	test.That(t, errors.Is(err, camera.ErrEndOfStream), test.ShouldBeTrue)
}

func TestOrchestratorRun(t *testing.T) {
	dir := testutils.TempDir(t, "", "run")
	lefts, rights := writeFrames(t, dir, 3, testWidth, testHeight)

	t.Run("until the stream ends", func(t *testing.T) {
		sink := newRecordingSink()
		logger, logs := logging.NewObservedTestLogger(t)
		orch, err := New(DefaultConfig(), replaySources(t, lefts, rights, false), sink, logger,
			WithRectification(parallelRectification(t)), WithClock(clock.NewMock()))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, orch.Run(context.Background()), test.ShouldBeNil)
		test.That(t, sink.count(WindowDisparity), test.ShouldEqual, 3)
		test.That(t, logs.FilterMessage("frame source ended").Len(), test.ShouldEqual, 1)
		test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
	})

	t.Run("until cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sink := newRecordingSink()
		sink.onShow = cancel
		orch, err := New(DefaultConfig(), replaySources(t, lefts, rights, true), sink, logging.NewTestLogger(t),
			WithRectification(parallelRectification(t)), WithClock(clock.NewMock()))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, orch.Run(ctx), test.ShouldBeNil)
		test.That(t, sink.count(WindowDisparity), test.ShouldEqual, 1)
		test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
	})

	t.Run("paced", func(t *testing.T) {
		mock := clock.NewMock()
		cfg := DefaultConfig()
		cfg.MaxFPS = 0.5
		logger, logs := logging.NewObservedTestLogger(t)
		orch, err := New(cfg, replaySources(t, lefts, rights, false), nil, logger,
			WithRectification(parallelRectification(t)), WithClock(mock))
		test.That(t, err, test.ShouldBeNil)
		defer func() {
			test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
		}()

		done := make(chan error, 1)
		go func() {
			done <- orch.Run(context.Background())
		}()
		for {
			select {
			case err := <-done:
				test.That(t, err, test.ShouldBeNil)
				fps := logs.FilterMessage("stereo").All()
				test.That(t, fps, test.ShouldNotBeEmpty)
				rate, ok := fps[0].ContextMap()["fps"].(float64)
				test.That(t, ok, test.ShouldBeTrue)
				test.That(t, rate, test.ShouldBeLessThanOrEqualTo, 0.5)
				return
			default:
				mock.Add(time.Second)
			}
		}
	})
}

func TestOrchestratorReload(t *testing.T) {
	dir := testutils.TempDir(t, "", "reload")
	cfg := writeCalibration(t, dir, parallelCalibration(t, "first"))
	lefts, rights := writeFrames(t, dir, 1, testWidth, testHeight)

	orch, err := New(cfg, replaySources(t, lefts, rights, false), nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, orch.Close(context.Background()), test.ShouldBeNil)
	}()
	test.That(t, orch.Rectification().Calibration().ID(), test.ShouldEqual, "first")

	writeCalibration(t, dir, parallelCalibration(t, "second"))
	gotestutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, orch.Rectification().Calibration().ID(), test.ShouldEqual, "second")
	})

	// documents of different runs are not mixed
	other := writeCalibration(t, filepath.Join(dir, "other"), parallelCalibration(t, "third"))
	data, err := os.ReadFile(other.IntrinsicsPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, os.WriteFile(cfg.IntrinsicsPath, data, 0o600), test.ShouldBeNil)
	err = orch.Reload()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "different calibration runs")
	test.That(t, orch.Rectification().Calibration().ID(), test.ShouldEqual, "second")

	frame, err := orch.Step(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame, test.ShouldNotBeNil)
}

func TestNewOrchestratorErrors(t *testing.T) {
	dir := testutils.TempDir(t, "", "new")
	lefts, rights := writeFrames(t, dir, 1, testWidth, testHeight)
	logger := logging.NewTestLogger(t)

	cfg := DefaultConfig()
	cfg.IntrinsicsPath = filepath.Join(dir, "intrinsics.yml")
	cfg.ExtrinsicsPath = filepath.Join(dir, "extrinsics.yml")
	_, err := New(cfg, replaySources(t, lefts, rights, false), nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "intrinsics.yml")

	_, err = New(cfg, [2]camera.FrameSource{}, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg.Algorithm = "var"
	_, err = New(cfg, replaySources(t, lefts, rights, false), nil, logger)
	test.That(t, errors.Is(err, ErrInvalidConfig), test.ShouldBeTrue)
}
