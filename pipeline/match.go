package pipeline

import (
	"context"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/rectification"
)

// MatchOutput is the result of matching a single pair.
type MatchOutput struct {
	*Frame
	// Rectification is nil when the pair was matched as given.
	Rectification *rectification.Result
	// Cloud is only computed when a point cloud output is configured.
	Cloud pointcloud.PointCloud
}

// MatchPair computes the disparity of one pair of images. The pair is rectified with the
// calibration of cfg when its documents exist, otherwise it is assumed to be rectified already.
// The 8 bit disparity is written to cfg.DisparityOut and the reprojected points to
// cfg.PointCloudOut when they are set; a point cloud needs a calibration.
func MatchPair(
	ctx context.Context,
	cfg Config,
	left, right image.Image,
	logger logging.Logger,
	opts ...Option,
) (*MatchOutput, error) {
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	o := newOptions(opts)
	rect := o.rect
	if rect == nil && calibrationExists(cfg) {
		var err error
		if rect, err = LoadRectification(cfg); err != nil {
			return nil, err
		}
	}
	if rect == nil {
		if cfg.PointCloudOut != "" {
			return nil, errors.Errorf("point cloud output %q needs the calibration in %q and %q",
				cfg.PointCloudOut, cfg.IntrinsicsPath, cfg.ExtrinsicsPath)
		}
		logger.Infow("no calibration found, matching the images as given",
			"intrinsics", cfg.IntrinsicsPath, "extrinsics", cfg.ExtrinsicsPath)
	}

	raw := rectification.FramePair{
		Left:  scaleFrame(rimage.ConvertToGray(left), cfg.Scale),
		Right: scaleFrame(rimage.ConvertToGray(right), cfg.Scale),
	}
	if err := raw.Left.SameSize(raw.Right); err != nil {
		return nil, err
	}
	state, err := newLiveState(cfg, rect, raw.Left.Width(), logger.Sublogger("stereo"))
	if err != nil {
		return nil, err
	}
	frame, err := state.process(ctx, raw)
	if err != nil {
		return nil, err
	}
	out := &MatchOutput{Frame: frame, Rectification: rect}
	logger.Infow("pair matched",
		"algorithm", state.matcher.Algorithm(),
		"valid", frame.Disparity.ValidCount(),
		"pixels", frame.Disparity.Width()*frame.Disparity.Height())

	if cfg.DisparityOut != "" {
		if err := rimage.WriteImageToFile(cfg.DisparityOut, frame.Visual); err != nil {
			return nil, err
		}
	}
	if cfg.PointCloudOut != "" {
		colors, err := rectifiedColors(left, cfg.Scale, rect)
		if err != nil {
			return nil, err
		}
		if out.Cloud, err = pointcloud.NewFromDisparity(rect, frame.Disparity, colors); err != nil {
			return nil, err
		}
		if err := pointcloud.WriteToFile(out.Cloud, cfg.PointCloudOut); err != nil {
			return nil, err
		}
		logger.Infow("point cloud written", "path", cfg.PointCloudOut, "points", out.Cloud.Size())
	}
	return out, nil
}

func calibrationExists(cfg Config) bool {
	for _, p := range []string{cfg.IntrinsicsPath, cfg.ExtrinsicsPath} {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// rectifiedColors brings the left color image into the rectified frame so points keep their
// color.
func rectifiedColors(img image.Image, scale float64, rect *rectification.Result) (*rimage.Image, error) {
	if scale != 1 {
		b := img.Bounds()
		img = imaging.Resize(img, int(float64(b.Dx())*scale+0.5), int(float64(b.Dy())*scale+0.5), imaging.Linear)
	}
	left, _ := rect.Maps()
	return left.ApplyColor(rimage.NewImageFromStdImage(img))
}
