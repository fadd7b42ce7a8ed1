package calibration

import (
	"image"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/testutils"
)

func TestInitCameraMatrix(t *testing.T) {
	// principal point on the image center, where the closed form is exact
	model := &transform.PinholeCameraModel{
		PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
			Width: 320, Height: 240, Fx: 310, Fy: 290, Ppx: 159.5, Ppy: 119.5,
		},
	}
	var views [][]r2.Point
	for _, pose := range testutils.BoardPoses(testBoard, 6) {
		views = append(views, testBoard.Project(model, pose))
	}
	k, err := InitCameraMatrix(testBoard.Corners(), views, image.Pt(320, 240))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.Fx, test.ShouldAlmostEqual, 310, 1e-3)
	test.That(t, k.Fy, test.ShouldAlmostEqual, 290, 1e-3)
	test.That(t, k.Ppx, test.ShouldEqual, 159.5)
	test.That(t, k.Ppy, test.ShouldEqual, 119.5)
	test.That(t, k.Width, test.ShouldEqual, 320)
}

func TestInitCameraMatrixErrors(t *testing.T) {
	views := [][]r2.Point{testBoard.Project(testutils.NewRig(nil, nil).Left, testutils.BoardPoses(testBoard, 1)[0])}

	_, err := InitCameraMatrix(testBoard.Corners(), views, image.Pt(0, 0))
	test.That(t, err, test.ShouldBeError)

	_, err = InitCameraMatrix(testBoard.Corners(), nil, image.Pt(320, 240))
	test.That(t, err, test.ShouldBeError)

	lifted := testBoard.Corners()
	lifted[3] = lifted[3].Add(r3.Vector{Z: 0.1})
	_, err = InitCameraMatrix(lifted, views, image.Pt(320, 240))
	test.That(t, err, test.ShouldBeError)
	test.That(t, err.Error(), test.ShouldContainSubstring, "z=0")

	_, err = InitCameraMatrix(testBoard.Corners()[:10], views, image.Pt(320, 240))
	test.That(t, err, test.ShouldBeError)
}
