// Package chessboard finds the inner corners of a chessboard calibration pattern with sub-pixel
// accuracy.
package chessboard

import (
	"context"
	"fmt"
	"math"
	"path/filepath"

	"github.com/golang/geo/r2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/utils"
)

var (
	// ErrPatternNotFound is returned when the complete pattern is not visible in an image.
	ErrPatternNotFound = errors.New("chessboard pattern not found")
	// ErrEmptyImage is returned for images without pixels.
	ErrEmptyImage = errors.New("image is empty")
)

// Pattern is the number of inner corners of the board along its width and its height.
type Pattern struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Count is the number of corners of the pattern.
func (p Pattern) Count() int {
	return p.Width * p.Height
}

func (p Pattern) String() string {
	return fmt.Sprintf("%dx%d", p.Width, p.Height)
}

// CornerSet holds the corners of one image in row-major order: Pattern.Width corners per row,
// first row on top, first corner of each row on the left.
type CornerSet []r2.Point

// DetectorConfig stores the parameters necessary for chessboard detection in an image.
type DetectorConfig struct {
	Pattern          Pattern             `json:"pattern"`
	MaxScale         int                 `json:"max_scale"`
	RefineHalfWindow int                 `json:"refine_half_window"`
	Criteria         TermCriteria        `json:"criteria"`
	Saddle           SaddleConfiguration `json:"saddle"`
	RingRadii        []float64           `json:"ring_radii"`
	MinContrast      float64             `json:"min_contrast"`
	DebugDir         string              `json:"debug_dir,omitempty"`
}

// DefaultDetectorConfig returns the detection parameters for a board of width x height inner
// corners.
func DefaultDetectorConfig(width, height int) DetectorConfig {
	return DetectorConfig{
		Pattern:          Pattern{Width: width, Height: height},
		MaxScale:         2,
		RefineHalfWindow: 5,
		Criteria:         DefaultTermCriteria,
		Saddle:           DefaultSaddleConf,
		RingRadii:        []float64{4, 3, 6},
		MinContrast:      20,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *DetectorConfig) Validate(path string) error {
	if cfg.Pattern.Width < 3 || cfg.Pattern.Height < 3 {
		return utils.NewOutOfRangeError(path+".pattern", cfg.Pattern.String(), "at least 3x3")
	}
	if cfg.MaxScale < 1 {
		return utils.NewOutOfRangeError(path+".max_scale", cfg.MaxScale, ">= 1")
	}
	if cfg.RefineHalfWindow < 2 {
		return utils.NewOutOfRangeError(path+".refine_half_window", cfg.RefineHalfWindow, ">= 2")
	}
	if cfg.Criteria.MaxIterations < 1 || cfg.Criteria.Epsilon <= 0 {
		return utils.NewOutOfRangeError(path+".criteria", cfg.Criteria, "max_iterations >= 1 and epsilon > 0")
	}
	if len(cfg.RingRadii) == 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "ring_radii")
	}
	for _, r := range cfg.RingRadii {
		if r < 1 {
			return utils.NewOutOfRangeError(path+".ring_radii", r, ">= 1")
		}
	}
	return cfg.Saddle.Validate(path + ".saddle")
}

// Detector finds a fixed chessboard pattern in gray images.
type Detector struct {
	cfg    DetectorConfig
	logger logging.Logger
}

// NewDetector validates cfg and returns a detector.
func NewDetector(cfg DetectorConfig, logger logging.Logger) (*Detector, error) {
	if err := cfg.Validate("detector"); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg, logger: logger}, nil
}

// Pattern returns the pattern this detector looks for.
func (d *Detector) Pattern() Pattern {
	return d.cfg.Pattern
}

// Find returns the refined corners of the pattern in img. It returns ErrPatternNotFound when
// the complete pattern cannot be located at any scale.
func (d *Detector) Find(ctx context.Context, img *rimage.GrayImage) (CornerSet, error) {
	if img.Empty() {
		return nil, ErrEmptyImage
	}
	norm := img.Normalize()
	for scale := 1; scale <= d.cfg.MaxScale; scale++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scaled := norm
		if scale > 1 {
			scaled = rimage.Upscale(norm, scale)
		}
		corners, err := d.findGrid(scaled, scale)
		if err != nil {
			return nil, err
		}
		if corners == nil {
			d.logger.Debugw("pattern not found", "scale", scale, "pattern", d.cfg.Pattern.String())
			continue
		}
		if scale > 1 {
			s := float64(scale)
			for k, p := range corners {
				corners[k] = r2.Point{X: (p.X+0.5)/s - 0.5, Y: (p.Y+0.5)/s - 0.5}
			}
		}
		halfWin := refineWindow(corners, d.cfg.Pattern.Width, d.cfg.Pattern.Height, d.cfg.RefineHalfWindow)
		return RefineCorners(img, corners, halfWin, d.cfg.Criteria), nil
	}
	return nil, errors.Wrapf(ErrPatternNotFound, "pattern %s", d.cfg.Pattern)
}

// Result is the outcome of detection on one image of a batch.
type Result struct {
	Corners CornerSet
	Err     error
}

// Found reports whether the pattern was detected.
func (r Result) Found() bool {
	return r.Err == nil && r.Corners != nil
}

// FindAll runs Find on every image in parallel. Results are indexed like imgs and do not
// depend on scheduling. Only cancellation of ctx fails the whole batch.
func (d *Detector) FindAll(ctx context.Context, imgs []*rimage.GrayImage) ([]Result, error) {
	results := make([]Result, len(imgs))
	err := utils.ParallelForEachIndex(ctx, len(imgs), func(ctx context.Context, i int) error {
		corners, err := d.Find(ctx, imgs[i])
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		results[i] = Result{Corners: corners, Err: err}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// findGrid searches an image at one scale. It returns nil corners when the pattern is absent.
func (d *Detector) findGrid(img *rimage.GrayImage, scale int) (CornerSet, error) {
	_, saddles, err := GetSaddleMapPoints(img.ToDense(), &d.cfg.Saddle)
	if err != nil {
		return nil, err
	}
	cands := make([]r2.Point, 0, len(saddles))
	kept := make([]SaddlePoint, 0, len(saddles))
	for _, s := range saddles {
		p := r2.Point{X: float64(s.Pos.X), Y: float64(s.Pos.Y)}
		if d.isXJunction(img, p) {
			cands = append(cands, p)
			kept = append(kept, s)
		}
	}
	if d.cfg.DebugDir != "" {
		fn := filepath.Join(d.cfg.DebugDir, fmt.Sprintf("saddles_%s_x%d.png", uuid.NewString(), scale))
		if err := PlotSaddleMap(img, kept, fn); err != nil {
			d.logger.Warnw("cannot write saddle debug image", "error", err)
		}
	}
	d.logger.Debugw("saddle candidates", "scale", scale, "saddles", len(saddles), "x_junctions", len(cands))
	if len(cands) < d.cfg.Pattern.Count() {
		return nil, nil
	}

	maxSide := max(d.cfg.Pattern.Width, d.cfg.Pattern.Height)
	tried := make(map[int]bool, len(cands))
	for seed := range cands {
		if tried[seed] {
			continue
		}
		g, ok := seedGrid(cands, seed)
		if !ok {
			continue
		}
		g.grow(maxSide)
		for k := range g.used {
			tried[k] = true
		}
		if pts, ok := g.extract(d.cfg.Pattern.Width, d.cfg.Pattern.Height); ok {
			return pts, nil
		}
	}
	return nil, nil
}

// ringSamples is the number of points sampled on each circle of the X-junction test.
const ringSamples = 32

// isXJunction samples circles around p, thresholds them at their own mid level and accepts p
// when one circle shows four alternating, point symmetric dark and light runs.
func (d *Detector) isXJunction(img *rimage.GrayImage, p r2.Point) bool {
	for _, radius := range d.cfg.RingRadii {
		if ringTest(img, p, radius, d.cfg.MinContrast) {
			return true
		}
	}
	return false
}

func ringTest(img *rimage.GrayImage, p r2.Point, radius, minContrast float64) bool {
	var values [ringSamples]float64
	lo, hi := math.Inf(1), math.Inf(-1)
	for k := 0; k < ringSamples; k++ {
		theta := 2 * math.Pi * float64(k) / ringSamples
		x := p.X + radius*math.Cos(theta)
		y := p.Y + radius*math.Sin(theta)
		if x < 0 || y < 0 || x > float64(img.Width()-1) || y > float64(img.Height()-1) {
			return false
		}
		v := img.Bilinear(x, y)
		values[k] = v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi-lo < minContrast {
		return false
	}
	mid := (hi + lo) / 2
	var bits [ringSamples]bool
	for k, v := range values {
		bits[k] = v > mid
	}

	transitions := 0
	runStart := -1
	minRun := ringSamples
	for k := 0; k < ringSamples; k++ {
		if bits[k] != bits[(k+ringSamples-1)%ringSamples] {
			if runStart >= 0 {
				minRun = min(minRun, k-runStart)
			}
			runStart = k
			transitions++
		}
	}
	if transitions != 4 {
		return false
	}
	// the run wrapping around the end of the circle
	first := 0
	for bits[first] == bits[ringSamples-1] {
		first++
	}
	minRun = min(minRun, first+ringSamples-runStart)
	if minRun < 2 {
		return false
	}

	symmetric := 0
	for k := 0; k < ringSamples/2; k++ {
		if bits[k] == bits[k+ringSamples/2] {
			symmetric++
		}
	}
	return symmetric*8 >= ringSamples/2*6
}
