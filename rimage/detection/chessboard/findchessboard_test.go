package chessboard

import (
	"context"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/testutils"
)

var testBoard = testutils.Board{Width: 7, Height: 5, Square: 0.03}

func renderBoard(t *testing.T, rvec r3.Vector) (*rimage.GrayImage, []r2.Point) {
	t.Helper()
	return renderBoardAt(t, rvec, 0.5)
}

// renderBoardAt renders the test board with its center at distance z in front of the left camera.
func renderBoardAt(t *testing.T, rvec r3.Vector, z float64) (*rimage.GrayImage, []r2.Point) {
	t.Helper()
	rig := testutils.NewRig(nil, nil)
	rot := transform.RodriguesToRotation(rvec)
	center := testBoard.Center()
	pose := &transform.CamPose{
		Rotation:    rot,
		Translation: r3.Vector{X: 0.003, Y: -0.002, Z: z}.Sub(transform.RotateVector(rot, center)),
	}
	img := testBoard.Render(rig.Left, pose, rig.Width, rig.Height)
	return img, testBoard.Project(rig.Left, pose)
}

func newTestDetector(t *testing.T, width, height int) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultDetectorConfig(width, height), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return d
}

func assertCornersNear(t *testing.T, got CornerSet, expected []r2.Point, tol float64) {
	t.Helper()
	test.That(t, len(got), test.ShouldEqual, len(expected))
	for i := range expected {
		test.That(t, got[i].Sub(expected[i]).Norm(), test.ShouldBeLessThan, tol)
	}
}

func TestFindFrontoParallel(t *testing.T) {
	img, expected := renderBoard(t, r3.Vector{})
	d := newTestDetector(t, 7, 5)
	corners, err := d.Find(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	assertCornersNear(t, corners, expected, 0.5)
	// canonical order: first corner top left, last corner bottom right
	test.That(t, corners[0].X, test.ShouldBeLessThan, corners[6].X)
	test.That(t, corners[0].Y, test.ShouldBeLessThan, corners[34].Y)
}

func TestFindTiltedBoard(t *testing.T) {
	img, expected := renderBoard(t, r3.Vector{X: 0.2, Y: -0.25, Z: 0.3})
	d := newTestDetector(t, 7, 5)
	corners, err := d.Find(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)
	assertCornersNear(t, corners, expected, 0.5)
}

func TestFindSmallBoardNeedsUpscaling(t *testing.T) {
	for _, z := range []float64{1.8, 2.4} {
		img, expected := renderBoardAt(t, r3.Vector{}, z)

		cfg := DefaultDetectorConfig(7, 5)
		cfg.MaxScale = 1
		single, err := NewDetector(cfg, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		_, err = single.Find(context.Background(), img)
		test.That(t, err, test.ShouldWrap, ErrPatternNotFound)

		cfg.MaxScale = 2
		upscaled, err := NewDetector(cfg, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		corners, err := upscaled.Find(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		assertCornersNear(t, corners, expected, 0.5)
	}
}

func TestFindWrongPattern(t *testing.T) {
	img, _ := renderBoard(t, r3.Vector{})

	smaller := newTestDetector(t, 6, 5)
	_, err := smaller.Find(context.Background(), img)
	test.That(t, err, test.ShouldWrap, ErrPatternNotFound)

	larger := newTestDetector(t, 8, 5)
	_, err = larger.Find(context.Background(), img)
	test.That(t, err, test.ShouldWrap, ErrPatternNotFound)
}

func TestFindBlankAndEmpty(t *testing.T) {
	d := newTestDetector(t, 7, 5)
	blank := rimage.NewGrayImage(160, 120)
	_, err := d.Find(context.Background(), blank)
	test.That(t, err, test.ShouldWrap, ErrPatternNotFound)

	_, err = d.Find(context.Background(), rimage.NewGrayImage(0, 0))
	test.That(t, err, test.ShouldEqual, ErrEmptyImage)
}

func TestFindAllMatchesSequential(t *testing.T) {
	good1, _ := renderBoard(t, r3.Vector{X: 0.1})
	good2, _ := renderBoard(t, r3.Vector{Y: -0.2})
	blank := rimage.NewGrayImage(good1.Width(), good1.Height())
	d := newTestDetector(t, 7, 5)

	results, err := d.FindAll(context.Background(), []*rimage.GrayImage{good1, blank, good2})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(results), test.ShouldEqual, 3)
	test.That(t, results[0].Found(), test.ShouldBeTrue)
	test.That(t, results[1].Found(), test.ShouldBeFalse)
	test.That(t, results[1].Err, test.ShouldWrap, ErrPatternNotFound)
	test.That(t, results[2].Found(), test.ShouldBeTrue)

	for i, img := range []*rimage.GrayImage{good1, good2} {
		seq, err := d.Find(context.Background(), img)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, results[i*2].Corners, test.ShouldResemble, seq)
	}
}

func TestFindAllCancelled(t *testing.T) {
	img, _ := renderBoard(t, r3.Vector{})
	d := newTestDetector(t, 7, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.FindAll(ctx, []*rimage.GrayImage{img, img})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectorConfigValidate(t *testing.T) {
	cfg := DefaultDetectorConfig(7, 5)
	test.That(t, cfg.Validate("detector"), test.ShouldBeNil)

	bad := DefaultDetectorConfig(2, 5)
	_, err := NewDetector(bad, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	bad = DefaultDetectorConfig(7, 5)
	bad.MaxScale = 0
	test.That(t, bad.Validate("detector"), test.ShouldNotBeNil)

	bad = DefaultDetectorConfig(7, 5)
	bad.Criteria.Epsilon = 0
	test.That(t, bad.Validate("detector"), test.ShouldNotBeNil)

	bad = DefaultDetectorConfig(7, 5)
	bad.RingRadii = nil
	test.That(t, bad.Validate("detector"), test.ShouldNotBeNil)
}

func TestDrawCorners(t *testing.T) {
	img, _ := renderBoard(t, r3.Vector{})
	d := newTestDetector(t, 7, 5)
	corners, err := d.Find(context.Background(), img)
	test.That(t, err, test.ShouldBeNil)

	drawn := DrawCorners(img, d.Pattern(), corners, true)
	test.That(t, drawn.Bounds(), test.ShouldResemble, img.Bounds())
	// the overlay is colored where the input was gray
	c := drawn.GetXY(int(corners[0].X+3.5), int(corners[0].Y))
	test.That(t, c.R == c.G && c.G == c.B, test.ShouldBeFalse)

	missed := DrawCorners(img, d.Pattern(), corners[:4], false)
	test.That(t, missed.Bounds(), test.ShouldResemble, img.Bounds())
}
