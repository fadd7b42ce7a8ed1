package pipeline

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/calibration"
	"go.viam.com/stereo/rimage/detection/chessboard"
	"go.viam.com/stereo/rimage/rectification"
)

// AcceptedPair is a pair of the list whose corners were used for calibration.
type AcceptedPair struct {
	Index       int
	Left, Right string
}

// RejectedPair is a pair of the list that did not take part in calibration.
type RejectedPair struct {
	Index       int
	Left, Right string
	Reason      error
}

// CalibrationRun is the report of a calibration from an image list.
type CalibrationRun struct {
	ID            string
	Pairs         int
	Accepted      []AcceptedPair
	Rejected      []RejectedPair
	Result        *calibration.Result
	Rectification *rectification.Result
	Quality       calibration.QualityReport

	IntrinsicsPath string
	ExtrinsicsPath string
}

type calibrateOptions struct {
	reviewer     Reviewer
	solverConfig func(*calibration.SolverConfig)
}

// A CalibrateOption changes how CalibrateFromList runs.
type CalibrateOption func(*calibrateOptions)

// WithReviewer shows the detected corners of every accepted pair to r before solving.
func WithReviewer(r Reviewer) CalibrateOption {
	return func(o *calibrateOptions) {
		o.reviewer = r
	}
}

// WithSolverConfig lets the caller adjust the solver settings derived from the config.
func WithSolverConfig(f func(*calibration.SolverConfig)) CalibrateOption {
	return func(o *calibrateOptions) {
		o.solverConfig = f
	}
}

// CalibrateFromList calibrates the stereo rig from the chessboard images of a list file, then
// writes the intrinsics and extrinsics documents named by cfg. Pairs that cannot be read,
// differ in size or miss the pattern are skipped and reported.
func CalibrateFromList(
	ctx context.Context,
	cfg Config,
	listPath string,
	logger logging.Logger,
	opts ...CalibrateOption,
) (*CalibrationRun, error) {
	var options calibrateOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	paths, err := ReadImageList(listPath)
	if err != nil {
		return nil, err
	}
	pairs, err := pairList(paths)
	if err != nil {
		return nil, errors.Wrapf(err, "in %q", listPath)
	}
	run := &CalibrationRun{Pairs: len(pairs)}

	candidates, size := loadPairs(pairs, run, logger)
	if len(candidates) == 0 {
		return run, errors.Wrapf(calibration.ErrInsufficientPairs, "no readable pairs in %q", listPath)
	}

	detector, err := chessboard.NewDetector(cfg.DetectorConfig(), logger.Sublogger("chessboard"))
	if err != nil {
		return nil, err
	}
	images := lo.FlatMap(candidates, func(p candidatePair, _ int) []*rimage.GrayImage {
		return []*rimage.GrayImage{p.Left, p.Right}
	})
	found, err := detector.FindAll(ctx, images)
	if err != nil {
		return nil, err
	}

	var obs []calibration.PairObservation
	for i, pair := range candidates {
		left, right := found[2*i], found[2*i+1]
		if options.reviewer != nil {
			for k, res := range []chessboard.Result{left, right} {
				img := []*rimage.GrayImage{pair.Left, pair.Right}[k]
				overlay := chessboard.DrawCorners(img, cfg.Pattern(), res.Corners, res.Found())
				name := reviewName([]string{pair.LeftPath, pair.RightPath}[k])
				if err := options.reviewer.Review(ctx, name, rimage.FitWithin(overlay, reviewMaxSide)); err != nil {
					return nil, err
				}
			}
		}
		if !left.Found() || !right.Found() {
			reason := lo.Ternary(left.Found(), right.Err, left.Err)
			if reason == nil {
				reason = chessboard.ErrPatternNotFound
			}
			run.reject(pair.index, pair.LeftPath, pair.RightPath, reason)
			logger.Debugw("pattern not found", "left", pair.LeftPath, "right", pair.RightPath, "error", reason)
			continue
		}
		run.Accepted = append(run.Accepted, AcceptedPair{Index: pair.index, Left: pair.LeftPath, Right: pair.RightPath})
		obs = append(obs, calibration.PairObservation{Left: left.Corners, Right: right.Corners})
	}
	logger.Infof("%d pairs have been successfully detected.", len(obs))

	solverConfig := cfg.SolverConfig()
	if options.solverConfig != nil {
		options.solverConfig(&solverConfig)
	}
	solver, err := calibration.NewSolver(solverConfig, logger.Sublogger("calibration"))
	if err != nil {
		return nil, err
	}
	result, err := solver.Calibrate(ctx, obs, size)
	if err != nil {
		return run, err
	}
	run.Result = result
	run.ID = result.ID()
	logger = logger.WithFields("run", run.ID)
	logger.Infow("calibration done", "rms", result.RMS(), "pairs", result.Pairs(), "baseline", result.Baseline())

	if run.Quality, err = result.EpipolarError(obs); err != nil {
		return run, err
	}
	logger.Infow("average epipolar error", "error", run.Quality.Average, "median", run.Quality.Median, "max", run.Quality.Max)

	run.Rectification, err = rectification.Compute(result, size, rectification.Options{Alpha: 1, ZeroDisparity: true})
	if err != nil {
		return run, err
	}

	if err := calibration.WriteDocument(cfg.IntrinsicsPath, result.IntrinsicsDocument()); err != nil {
		return run, err
	}
	run.IntrinsicsPath = cfg.IntrinsicsPath
	if err := calibration.WriteDocument(cfg.ExtrinsicsPath, run.Rectification.ExtrinsicsDocument()); err != nil {
		return run, err
	}
	run.ExtrinsicsPath = cfg.ExtrinsicsPath
	logger.Infow("calibration written",
		"intrinsics", cfg.IntrinsicsPath,
		"extrinsics", cfg.ExtrinsicsPath,
		"accepted", len(run.Accepted),
		"rejected", len(run.Rejected))
	return run, nil
}

type candidatePair struct {
	calibration.ImagePair
	index int
}

// loadPairs reads every pair, rejecting the ones that cannot be read or whose size differs from
// the first readable image.
func loadPairs(pairs [][2]string, run *CalibrationRun, logger logging.Logger) ([]candidatePair, image.Point) {
	var (
		out  []candidatePair
		size image.Point
	)
	for i, p := range pairs {
		pair, err := loadPair(p[0], p[1])
		if err == nil && size != (image.Point{}) && pair.Left.Size() != size {
			err = errors.Wrapf(rimage.ErrSizeMismatch, "expected %v, got %v", size, pair.Left.Size())
		}
		if err != nil {
			logger.Warnw("skipping pair", "index", i, "left", p[0], "right", p[1], "error", err)
			run.reject(i, p[0], p[1], err)
			continue
		}
		if size == (image.Point{}) {
			size = pair.Left.Size()
		}
		out = append(out, candidatePair{ImagePair: pair, index: i})
	}
	return out, size
}

func loadPair(leftPath, rightPath string) (calibration.ImagePair, error) {
	pair := calibration.ImagePair{LeftPath: leftPath, RightPath: rightPath}
	var err error
	if pair.Left, err = rimage.ReadGrayFromFile(leftPath); err != nil {
		return pair, err
	}
	if pair.Right, err = rimage.ReadGrayFromFile(rightPath); err != nil {
		return pair, err
	}
	return pair, pair.Validate()
}

func (run *CalibrationRun) reject(index int, left, right string, reason error) {
	run.Rejected = append(run.Rejected, RejectedPair{Index: index, Left: left, Right: right, Reason: reason})
}

func reviewName(path string) string {
	base := filepath.Base(path)
	return fmt.Sprintf("corners_%s", base[:len(base)-len(filepath.Ext(base))])
}
