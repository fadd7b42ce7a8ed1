// Package pipeline runs the stereo system end to end: calibrating a rig from a list of
// chessboard images, and the live capture, rectify, match and display loop.
package pipeline

import (
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/stereo/components/camera"
	"go.viam.com/stereo/rimage/calibration"
	"go.viam.com/stereo/rimage/detection/chessboard"
	"go.viam.com/stereo/rimage/rectification"
	"go.viam.com/stereo/rimage/stereo"
	"go.viam.com/stereo/utils"
)

// ErrInvalidConfig is matched by every configuration error.
var ErrInvalidConfig = errors.New("invalid configuration")

type configError struct {
	err error
}

func (e *configError) Error() string {
	return ErrInvalidConfig.Error() + ": " + e.err.Error()
}

func (e *configError) Unwrap() error {
	return e.err
}

func (e *configError) Is(target error) bool {
	return target == ErrInvalidConfig
}

func invalidConfig(err error) error {
	return &configError{err: err}
}

// Config holds every setting of a run. Paths are used as given.
type Config struct {
	BoardWidth  int     `json:"board_width"`
	BoardHeight int     `json:"board_height"`
	SquareSize  float64 `json:"square_size"`

	Algorithm string `json:"algorithm"`
	// MaxDisparity is the number of disparities searched; 0 derives it from the image width.
	MaxDisparity int     `json:"max_disparity"`
	BlockSize    int     `json:"block_size"`
	Scale        float64 `json:"scale"`
	// Alpha is the free scaling used for live rectification.
	Alpha float64 `json:"alpha"`

	IntrinsicsPath string `json:"intrinsics"`
	ExtrinsicsPath string `json:"extrinsics"`
	DisparityOut   string `json:"disparity_out,omitempty"`
	PointCloudOut  string `json:"point_cloud_out,omitempty"`

	NoRectifiedDisplay bool                `json:"no_rectified_display"`
	LeftCamera         int                 `json:"left_camera"`
	RightCamera        int                 `json:"right_camera"`
	Webcam             camera.WebcamConfig `json:"webcam"`
	// MaxFPS paces the live loop; 0 runs as fast as frames arrive.
	MaxFPS float64 `json:"max_fps"`

	HTTPAddr          string `json:"http,omitempty"`
	OutDir            string `json:"out_dir,omitempty"`
	ReviewDir         string `json:"review_dir,omitempty"`
	InteractiveReview bool   `json:"interactive_review"`
	ErrorPlot         string `json:"error_plot,omitempty"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BoardWidth:     7,
		BoardHeight:    5,
		SquareSize:     3.4,
		Algorithm:      string(stereo.AlgorithmHH),
		MaxDisparity:   32,
		BlockSize:      1,
		Scale:          1,
		Alpha:          -1,
		IntrinsicsPath: "intrinsics.yml",
		ExtrinsicsPath: "extrinsics.yml",
		LeftCamera:     0,
		RightCamera:    1,
	}
}

// Validate ensures all parts of the config are valid. Every error matches ErrInvalidConfig.
func (c *Config) Validate(path string) error {
	if err := c.validate(path); err != nil {
		return invalidConfig(err)
	}
	return nil
}

func (c *Config) validate(path string) error {
	if c.BoardWidth < 3 || c.BoardHeight < 3 {
		return utils.NewOutOfRangeError(path+".board", c.Pattern().String(), "at least 3x3 inner corners")
	}
	if c.SquareSize <= 0 || !utils.IsFinite(c.SquareSize) {
		return utils.NewOutOfRangeError(path+".square_size", c.SquareSize, "> 0")
	}
	if c.MaxDisparity < 0 || c.MaxDisparity%16 != 0 {
		return utils.NewOutOfRangeError(path+".max_disparity", c.MaxDisparity, "0 or a positive multiple of 16")
	}
	if c.Scale <= 0 || !utils.IsFinite(c.Scale) {
		return utils.NewOutOfRangeError(path+".scale", c.Scale, "> 0")
	}
	if c.IntrinsicsPath == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "intrinsics")
	}
	if c.ExtrinsicsPath == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "extrinsics")
	}
	if c.MaxFPS < 0 {
		return utils.NewOutOfRangeError(path+".max_fps", c.MaxFPS, ">= 0")
	}
	if err := c.RectificationOptions().Validate(path); err != nil {
		return err
	}
	if err := c.Webcam.Validate(path + ".webcam"); err != nil {
		return err
	}
	// the search range is only known once the image width is, any valid one checks the rest
	alg, params, err := c.MatcherParams(16 * 8)
	if err != nil {
		return err
	}
	return errors.Wrapf(params.Validate(alg), "%s.stereo", path)
}

// Pattern is the board's inner corner layout.
func (c *Config) Pattern() chessboard.Pattern {
	return chessboard.Pattern{Width: c.BoardWidth, Height: c.BoardHeight}
}

// DetectorConfig returns the corner detection settings for the configured board.
func (c *Config) DetectorConfig() chessboard.DetectorConfig {
	return chessboard.DefaultDetectorConfig(c.BoardWidth, c.BoardHeight)
}

// SolverConfig returns the calibration settings for the configured board.
func (c *Config) SolverConfig() calibration.SolverConfig {
	return calibration.DefaultSolverConfig(c.Pattern(), c.SquareSize)
}

// RectificationOptions returns the options of live rectification.
func (c *Config) RectificationOptions() rectification.Options {
	opts := rectification.DefaultOptions()
	opts.Alpha = c.Alpha
	return opts
}

// MatcherParams returns the algorithm and its parameters for rectified images of the given
// width.
func (c *Config) MatcherParams(width int) (stereo.Algorithm, stereo.Params, error) {
	alg, err := stereo.ParseAlgorithm(c.Algorithm)
	if err != nil {
		return "", stereo.Params{}, err
	}
	numDisparities := c.MaxDisparity
	if numDisparities == 0 {
		numDisparities = stereo.AutoNumDisparities(width)
	}
	blockSize := c.BlockSize
	if alg == stereo.AlgorithmBM && blockSize <= 1 {
		// the shared default of 1 suits semi-global matching only
		blockSize = 0
	}
	return alg, stereo.DefaultParams(alg, numDisparities, blockSize, 1), nil
}

// LoadConfigFile overlays the settings of a JSON or YAML file on cfg. Keys missing from the file
// keep their current value; unknown keys are rejected.
func LoadConfigFile(path string, cfg *Config) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "cannot read config %q", path)
	}
	// YAML is a superset of JSON, so one parser reads both.
	var attributes map[string]interface{}
	if err := yaml.Unmarshal(data, &attributes); err != nil {
		return invalidConfig(errors.Wrapf(err, "cannot parse config %q", path))
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(attributes); err != nil {
		return invalidConfig(errors.Wrapf(err, "cannot decode config %q", path))
	}
	return nil
}
