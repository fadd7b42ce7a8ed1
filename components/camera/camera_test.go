package camera

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pion/mediadevices"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/testutils"
)

func writeFrames(t *testing.T, n int) []string {
	t.Helper()
	dir := testutils.TempDir(t, "", "replay")
	paths := make([]string, n)
	for i := range paths {
		img := rimage.NewGrayImage(8+i, 6)
		paths[i] = filepath.Join(dir, "frame"+string(rune('a'+i))+".png")
		test.That(t, rimage.WriteImageToFile(paths[i], img), test.ShouldBeNil)
	}
	return paths
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	paths := writeFrames(t, 2)
	src, err := NewReplay(paths, false)
	test.That(t, err, test.ShouldBeNil)

	for i := 0; i < 2; i++ {
		img, release, err := src.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 8+i)
		release()
	}
	_, _, err = src.Read(ctx)
	test.That(t, errors.Is(err, ErrEndOfStream), test.ShouldBeTrue)

	test.That(t, src.Close(ctx), test.ShouldBeNil)
	_, _, err = src.Read(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrEndOfStream), test.ShouldBeFalse)
}

func TestReplayLoop(t *testing.T) {
	ctx := context.Background()
	paths := writeFrames(t, 2)
	src, err := NewReplay(paths, true)
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 5; i++ {
		img, release, err := src.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Bounds().Dx(), test.ShouldEqual, 8+i%2)
		release()
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = src.Read(cancelled)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestReplayErrors(t *testing.T) {
	_, err := NewReplay(nil, false)
	test.That(t, err, test.ShouldNotBeNil)

	src, err := NewReplay([]string{"/nonexistent/frame.png"}, false)
	test.That(t, err, test.ShouldBeNil)
	_, _, err = src.Read(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "/nonexistent/frame.png")
	// the broken file is consumed
	_, _, err = src.Read(context.Background())
	test.That(t, errors.Is(err, ErrEndOfStream), test.ShouldBeTrue)
}

func TestWebcamConfigValidate(t *testing.T) {
	test.That(t, WebcamConfig{}.Validate("left"), test.ShouldBeNil)
	test.That(t, WebcamConfig{Width: 640, Height: 480, FrameRate: 30}.Validate("left"), test.ShouldBeNil)

	err := WebcamConfig{Width: -1}.Validate("left")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "left")
	test.That(t, WebcamConfig{FrameRate: -2}.Validate("right"), test.ShouldNotBeNil)
}

func TestMakeConstraints(t *testing.T) {
	logger := logging.NewTestLogger(t)

	var picked mediadevices.MediaTrackConstraints
	makeConstraints("video1", WebcamConfig{Width: 320, FrameRate: 15}, logger).Video(&picked)
	_, ok := picked.DeviceID.Compare("video1")
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = picked.DeviceID.Compare("video0")
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = picked.Width.Compare(320)
	test.That(t, ok, test.ShouldBeTrue)
	_, ok = picked.Width.Compare(640)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = picked.FrameRate.Compare(15)
	test.That(t, ok, test.ShouldBeTrue)

	var loose mediadevices.MediaTrackConstraints
	makeConstraints("video0", WebcamConfig{}, logger).Video(&loose)
	_, ok = loose.Height.Compare(720)
	test.That(t, ok, test.ShouldBeTrue)
}
