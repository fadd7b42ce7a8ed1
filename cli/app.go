// Package cli contains the commands of the stereo program: calibrating a rig, matching pairs and
// running the live loop.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/pipeline"
)

const (
	// Global flags.
	configFlag  = "config"
	debugFlag   = "debug"
	logFileFlag = "log-file"

	// Board flags.
	boardWidthFlag        = "w"
	boardHeightFlag       = "h"
	squareSizeFlag        = "s"
	reviewDirFlag         = "review-dir"
	interactiveReviewFlag = "interactive-review"
	errorPlotFlag         = "error-plot"

	// Calibration document flags.
	intrinsicsFlag = "i"
	extrinsicsFlag = "e"

	// Matching flags.
	algorithmFlag    = "algorithm"
	maxDisparityFlag = "max-disparity"
	blockSizeFlag    = "blocksize"
	scaleFlag        = "scale"
	disparityOutFlag = "o"
	pointCloudFlag   = "p"

	// Display and capture flags.
	noRectifiedFlag = "nr"
	leftCameraFlag  = "left"
	rightCameraFlag = "right"
	leftImagesFlag  = "left-images"
	rightImagesFlag = "right-images"
	loopFlag        = "loop"
	httpFlag        = "http"
	outDirFlag      = "out-dir"
	maxFPSFlag      = "max-fps"
)

func init() {
	// -h is the board height
	cli.HelpFlag = &cli.BoolFlag{Name: "help", Usage: "show help"}
}

var defaults = pipeline.DefaultConfig()

var calibrationFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  intrinsicsFlag,
		Usage: "intrinsics document `FILE` (.yml, .yaml or .json)",
		Value: defaults.IntrinsicsPath,
	},
	&cli.StringFlag{
		Name:  extrinsicsFlag,
		Usage: "extrinsics document `FILE` (.yml, .yaml or .json)",
		Value: defaults.ExtrinsicsPath,
	},
}

var boardFlags = []cli.Flag{
	&cli.IntFlag{
		Name:  boardWidthFlag,
		Usage: "inner corners along the board width",
		Value: defaults.BoardWidth,
	},
	&cli.IntFlag{
		Name:  boardHeightFlag,
		Usage: "inner corners along the board height",
		Value: defaults.BoardHeight,
	},
	&cli.Float64Flag{
		Name:  squareSizeFlag,
		Usage: "size of a board square, in the unit of the calibration",
		Value: defaults.SquareSize,
	},
	&cli.StringFlag{
		Name:  reviewDirFlag,
		Usage: "write the detected corners of every image to `DIR`",
	},
	&cli.BoolFlag{
		Name:  interactiveReviewFlag,
		Usage: "wait for enter after every reviewed image; q quits the calibration",
	},
	&cli.StringFlag{
		Name:  errorPlotFlag,
		Usage: "plot the epipolar error of every pair to `FILE` (.png, .svg or .pdf)",
	},
}

var matcherFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  algorithmFlag,
		Usage: "one of bm, sgbm, hh, sgbm3way",
		Value: defaults.Algorithm,
	},
	&cli.IntFlag{
		Name:  maxDisparityFlag,
		Usage: "number of disparities searched, a multiple of 16; 0 derives it from the image width",
		Value: defaults.MaxDisparity,
	},
	&cli.IntFlag{
		Name:  blockSizeFlag,
		Usage: "odd matching block size",
		Value: defaults.BlockSize,
	},
	&cli.Float64Flag{
		Name:  scaleFlag,
		Usage: "resize factor applied to the frames before rectification",
		Value: defaults.Scale,
	},
}

var displayFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  httpFlag,
		Usage: "serve the latest frames at `ADDR`",
	},
	&cli.StringFlag{
		Name:  outDirFlag,
		Usage: "write the latest frames to `DIR`",
	},
}

func concatFlags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var app = &cli.App{
	Name:            "stereo",
	Usage:           "calibrate a stereo camera rig and compute depth from it",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE` (.json or .yml); flags override it",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
		&cli.StringFlag{
			Name:  logFileFlag,
			Usage: "also log to `FILE`, rotated by size",
		},
	},
	Commands: []*cli.Command{
		{
			Name:      "calibrate",
			Usage:     "calibrate the rig from chessboard images",
			UsageText: "stereo calibrate [options] <image list>",
			ArgsUsage: "<image list>",
			Description: "The image list holds an even number of paths alternating between the left and the right\n" +
				"camera, as a JSON or YAML sequence or one path per line.",
			Flags:  concatFlags(boardFlags, calibrationFlags, displayFlags[:1]),
			Action: CalibrateAction,
		},
		{
			Name:      "match",
			Usage:     "compute the disparity of one pair of images",
			ArgsUsage: "<left image> <right image>",
			Flags: concatFlags(matcherFlags, calibrationFlags, displayFlags[1:], []cli.Flag{
				&cli.StringFlag{
					Name:  disparityOutFlag,
					Usage: "write the 8 bit disparity to `FILE`",
				},
				&cli.StringFlag{
					Name:  pointCloudFlag,
					Usage: "write the reprojected points to `FILE` (.txt, .xyz, .pcd or .ply)",
				},
			}),
			Action: MatchAction,
		},
		{
			Name:  "run",
			Usage: "capture, rectify and match frames until interrupted",
			Flags: concatFlags(matcherFlags, calibrationFlags, displayFlags, []cli.Flag{
				&cli.BoolFlag{
					Name:  noRectifiedFlag,
					Usage: "show the raw frames instead of the rectified ones",
				},
				&cli.IntFlag{
					Name:  leftCameraFlag,
					Usage: "index of the left camera",
					Value: defaults.LeftCamera,
				},
				&cli.IntFlag{
					Name:  rightCameraFlag,
					Usage: "index of the right camera",
					Value: defaults.RightCamera,
				},
				&cli.StringFlag{
					Name:  leftImagesFlag,
					Usage: "replay the images of list `FILE` instead of the left camera",
				},
				&cli.StringFlag{
					Name:  rightImagesFlag,
					Usage: "replay the images of list `FILE` instead of the right camera",
				},
				&cli.BoolFlag{
					Name:  loopFlag,
					Usage: "start replays over when they end",
				},
				&cli.Float64Flag{
					Name:  maxFPSFlag,
					Usage: "limit the frame rate; 0 runs as fast as frames arrive",
				},
			}),
			Action: RunAction,
		},
		{
			Name:      "rectify",
			Usage:     "rectify one pair of images and draw rows across both",
			ArgsUsage: "<left image> <right image>",
			Flags: concatFlags(calibrationFlags, matcherFlags[3:], []cli.Flag{
				&cli.StringFlag{
					Name:  outDirFlag,
					Usage: "write the rectified images to `DIR`",
					Value: ".",
				},
			}),
			Action: RectifyAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}
