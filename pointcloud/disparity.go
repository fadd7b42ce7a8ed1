package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/rectification"
)

// missingEpsilon is how close to rectification.MissingZ a depth must be to count as missing.
const missingEpsilon = 1e-5

// IsMissing reports whether a reprojected point carries no depth: either the placeholder depth
// of an invalid disparity or a non finite coordinate.
func IsMissing(p r3.Vector) bool {
	return math.Abs(p.Z-rectification.MissingZ) < missingEpsilon || !finite(p)
}

// NewFromDisparity reprojects every valid pixel of disp to 3D in the rectified frame of camera 1.
// When colors is given, it must have the disparity map's size and colors the points.
func NewFromDisparity(rect *rectification.Result, disp *rimage.DisparityMap, colors *rimage.Image) (PointCloud, error) {
	if rect == nil || disp == nil {
		return nil, errors.New("rectification and disparity map are required")
	}
	if size := rect.ImageSize(); disp.Width() != size.X || disp.Height() != size.Y {
		return nil, errors.Wrapf(rimage.ErrSizeMismatch, "disparity map is %dx%d but rectification is %v",
			disp.Width(), disp.Height(), size)
	}
	if colors != nil && (colors.Width() != disp.Width() || colors.Height() != disp.Height()) {
		return nil, errors.Wrapf(rimage.ErrSizeMismatch, "color image is %dx%d but disparity map is %dx%d",
			colors.Width(), colors.Height(), disp.Width(), disp.Height())
	}
	points := rect.Reproject(disp)
	cloud := NewWithPrealloc(disp.ValidCount())
	for idx, p := range points {
		if IsMissing(p) {
			continue
		}
		var data Data
		if colors != nil {
			c := colors.GetXY(idx%disp.Width(), idx/disp.Width())
			data = NewColoredData(color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
		} else {
			data = NewBasicData()
		}
		if err := cloud.Set(p, data); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
