package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/calibration"
	"go.viam.com/stereo/rimage/rectification"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/testutils"
)

const (
	testWidth     = 160
	testHeight    = 120
	testDisparity = 8
)

// parallelCalibration is a rig of two identical cameras 6 cm apart along x, so rectification
// keeps rows and only shifts columns.
func parallelCalibration(t *testing.T, id string) *calibration.Result {
	t.Helper()
	k := &transform.PinholeCameraIntrinsics{
		Width: testWidth, Height: testHeight, Fx: 150, Fy: 150, Ppx: 80, Ppy: 60,
	}
	identity := mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	calib, err := calibration.NewResult(id, image.Pt(testWidth, testHeight), k, k,
		&transform.BrownConrady{}, &transform.BrownConrady{}, identity, r3.Vector{X: -0.06})
	test.That(t, err, test.ShouldBeNil)
	return calib
}

func parallelRectification(t *testing.T) *rectification.Result {
	t.Helper()
	rect, err := rectification.Compute(parallelCalibration(t, "parallel"), image.Pt(testWidth, testHeight),
		rectification.DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	return rect
}

// writeCalibration stores the documents of calib in dir and returns a config using them.
func writeCalibration(t *testing.T, dir string, calib *calibration.Result) Config {
	t.Helper()
	rect, err := rectification.Compute(calib, calib.ImageSize(), rectification.Options{Alpha: 1, ZeroDisparity: true})
	test.That(t, err, test.ShouldBeNil)
	cfg := DefaultConfig()
	cfg.IntrinsicsPath = filepath.Join(dir, "intrinsics.yml")
	cfg.ExtrinsicsPath = filepath.Join(dir, "extrinsics.json")
	test.That(t, calibration.WriteDocument(cfg.IntrinsicsPath, calib.IntrinsicsDocument()), test.ShouldBeNil)
	test.That(t, calibration.WriteDocument(cfg.ExtrinsicsPath, rect.ExtrinsicsDocument()), test.ShouldBeNil)
	return cfg
}

// writeFrames writes n texture pairs to dir and returns the left and right paths.
func writeFrames(t *testing.T, dir string, n, width, height int) ([]string, []string) {
	t.Helper()
	var lefts, rights []string
	for i := 0; i < n; i++ {
		left, right := testutils.RandomTexturePair(width, height, testDisparity, int64(i))
		lp := filepath.Join(dir, fmt.Sprintf("left%02d.png", i))
		rp := filepath.Join(dir, fmt.Sprintf("right%02d.png", i))
		test.That(t, rimage.WriteImageToFile(lp, left), test.ShouldBeNil)
		test.That(t, rimage.WriteImageToFile(rp, right), test.ShouldBeNil)
		lefts = append(lefts, lp)
		rights = append(rights, rp)
	}
	return lefts, rights
}

// recordingSink remembers the last frame of every window and how often it was shown.
type recordingSink struct {
	mu     sync.Mutex
	frames map[string]image.Image
	counts map[string]int
	closed bool
	onShow func()
}

func newRecordingSink() *recordingSink {
	return &recordingSink{frames: map[string]image.Image{}, counts: map[string]int{}}
}

func (s *recordingSink) Show(ctx context.Context, name string, img image.Image) error {
	s.mu.Lock()
	s.frames[name] = img
	s.counts[name]++
	onShow := s.onShow
	s.mu.Unlock()
	if onShow != nil {
		onShow()
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}
