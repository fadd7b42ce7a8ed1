package cli

import (
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
)

// configFromContext builds the run configuration: defaults, then the config file, then every
// flag given on the command line.
func configFromContext(c *cli.Context) (pipeline.Config, error) {
	cfg := pipeline.DefaultConfig()
	if path := c.String(configFlag); path != "" {
		if err := pipeline.LoadConfigFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	setInt := func(name string, dst *int) {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	setFloat := func(name string, dst *float64) {
		if c.IsSet(name) {
			*dst = c.Float64(name)
		}
	}
	setString := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if c.IsSet(name) {
			*dst = c.Bool(name)
		}
	}

	setInt(boardWidthFlag, &cfg.BoardWidth)
	setInt(boardHeightFlag, &cfg.BoardHeight)
	setFloat(squareSizeFlag, &cfg.SquareSize)
	setString(reviewDirFlag, &cfg.ReviewDir)
	setBool(interactiveReviewFlag, &cfg.InteractiveReview)
	setString(errorPlotFlag, &cfg.ErrorPlot)

	setString(intrinsicsFlag, &cfg.IntrinsicsPath)
	setString(extrinsicsFlag, &cfg.ExtrinsicsPath)

	setString(algorithmFlag, &cfg.Algorithm)
	setInt(maxDisparityFlag, &cfg.MaxDisparity)
	setInt(blockSizeFlag, &cfg.BlockSize)
	setFloat(scaleFlag, &cfg.Scale)
	setString(disparityOutFlag, &cfg.DisparityOut)
	setString(pointCloudFlag, &cfg.PointCloudOut)

	setBool(noRectifiedFlag, &cfg.NoRectifiedDisplay)
	setInt(leftCameraFlag, &cfg.LeftCamera)
	setInt(rightCameraFlag, &cfg.RightCamera)
	setString(httpFlag, &cfg.HTTPAddr)
	setString(outDirFlag, &cfg.OutDir)
	setFloat(maxFPSFlag, &cfg.MaxFPS)

	return cfg, cfg.Validate("config")
}

// newLogger returns the logger of a command, at debug level with --debug and also writing to
// --log-file when given.
func newLogger(c *cli.Context) logging.Logger {
	var logger logging.Logger
	if c.Bool(debugFlag) {
		logger = logging.NewDebugLogger("stereo")
	} else {
		logger = logging.NewLogger("stereo")
	}
	if path := c.String(logFileFlag); path != "" {
		logger.AddAppender(logging.NewFileAppender(path, 64, 3))
	}
	return logger
}
