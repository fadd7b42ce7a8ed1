package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.viam.com/test"

	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/calibration"
	"go.viam.com/stereo/rimage/detection/chessboard"
	"go.viam.com/stereo/rimage/stereo"
	"go.viam.com/stereo/testutils"
)

func TestMain(m *testing.M) {
	testutils.VerifyTestMain(m)
}

// configApp parses the flags of every command and hands the resulting config to got.
func configApp(got func(pipeline.Config, error)) *cli.App {
	return &cli.App{
		Name:   "stereo",
		Writer: &bytes.Buffer{},
		Flags: concatFlags(
			[]cli.Flag{&cli.StringFlag{Name: configFlag}},
			boardFlags, calibrationFlags, matcherFlags, displayFlags,
			[]cli.Flag{&cli.Float64Flag{Name: maxFPSFlag}},
		),
		Action: func(c *cli.Context) error {
			got(configFromContext(c))
			return nil
		},
	}
}

func TestConfigFromContext(t *testing.T) {
	dir := testutils.TempDir(t, "", "cli")
	configPath := filepath.Join(dir, "stereo.yml")
	test.That(t, os.WriteFile(configPath, []byte("algorithm: sgbm\nblock_size: 5\nscale: 0.5\n"), 0o600), test.ShouldBeNil)

	t.Run("defaults", func(t *testing.T) {
		var cfg pipeline.Config
		app := configApp(func(c pipeline.Config, err error) {
			test.That(t, err, test.ShouldBeNil)
			cfg = c
		})
		test.That(t, app.Run([]string{"stereo"}), test.ShouldBeNil)
		test.That(t, cfg, test.ShouldResemble, pipeline.DefaultConfig())
	})

	t.Run("flags override the file", func(t *testing.T) {
		var cfg pipeline.Config
		app := configApp(func(c pipeline.Config, err error) {
			test.That(t, err, test.ShouldBeNil)
			cfg = c
		})
		err := app.Run([]string{"stereo", "--config", configPath, "--blocksize", "7", "-w", "9", "-h", "6", "--out-dir", dir})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Algorithm, test.ShouldEqual, "sgbm")
		test.That(t, cfg.BlockSize, test.ShouldEqual, 7)
		test.That(t, cfg.Scale, test.ShouldEqual, 0.5)
		test.That(t, cfg.BoardWidth, test.ShouldEqual, 9)
		test.That(t, cfg.BoardHeight, test.ShouldEqual, 6)
		test.That(t, cfg.OutDir, test.ShouldEqual, dir)
		test.That(t, cfg.MaxDisparity, test.ShouldEqual, pipeline.DefaultConfig().MaxDisparity)
	})

	t.Run("invalid", func(t *testing.T) {
		var gotErr error
		app := configApp(func(_ pipeline.Config, err error) {
			gotErr = err
		})
		test.That(t, app.Run([]string{"stereo", "--algorithm", "var"}), test.ShouldBeNil)
		test.That(t, errors.Is(gotErr, stereo.ErrUnknownAlgorithm), test.ShouldBeTrue)

		test.That(t, app.Run([]string{"stereo", "--max-disparity", "20"}), test.ShouldBeNil)
		test.That(t, errors.Is(gotErr, pipeline.ErrInvalidConfig), test.ShouldBeTrue)
	})
}

func TestMatchCommand(t *testing.T) {
	dir := testutils.TempDir(t, "", "cli")
	left, right := testutils.RandomTexturePair(160, 120, 8, 3)
	leftPath, rightPath := filepath.Join(dir, "left.png"), filepath.Join(dir, "right.png")
	test.That(t, rimage.WriteImageToFile(leftPath, left), test.ShouldBeNil)
	test.That(t, rimage.WriteImageToFile(rightPath, right), test.ShouldBeNil)

	var out, errOut bytes.Buffer
	app := NewApp(&out, &errOut)
	dispPath := filepath.Join(dir, "disp.png")
	err := app.Run([]string{
		"stereo", "match",
		"-i", filepath.Join(dir, "intrinsics.yml"),
		"-e", filepath.Join(dir, "extrinsics.yml"),
		"-o", dispPath,
		"--out-dir", filepath.Join(dir, "frames"),
		leftPath, rightPath,
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "disparity written to "+dispPath)
	test.That(t, out.String(), test.ShouldContainSubstring, "the images were matched as given")
	test.That(t, out.String(), test.ShouldContainSubstring, "disparity (px):")

	disp, err := rimage.ReadGrayFromFile(dispPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, disp.Size(), test.ShouldResemble, left.Size())
	for _, name := range []string{pipeline.WindowDisparity, pipeline.WindowLeft, pipeline.WindowRight} {
		_, err := os.Stat(filepath.Join(dir, "frames", name+".png"))
		test.That(t, err, test.ShouldBeNil)
	}

	t.Run("needs two images", func(t *testing.T) {
		err := NewApp(&out, &errOut).Run([]string{"stereo", "match", leftPath})
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "expected a left and a right image")
	})
}

func TestRectifyCommandNeedsCalibration(t *testing.T) {
	dir := testutils.TempDir(t, "", "cli")
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{
		"stereo", "rectify",
		"-i", filepath.Join(dir, "missing.yml"),
		"-e", filepath.Join(dir, "missing.json"),
		filepath.Join(dir, "l.png"), filepath.Join(dir, "r.png"),
	})
	test.That(t, err, test.ShouldNotBeNil)
}

func fakeRun() *pipeline.CalibrationRun {
	return &pipeline.CalibrationRun{
		ID:    "run",
		Pairs: 4,
		Accepted: []pipeline.AcceptedPair{
			{Index: 0, Left: "l1.png", Right: "r1.png"},
			{Index: 2, Left: "l3.png", Right: "r3.png"},
			{Index: 3, Left: "l4.png", Right: "r4.png"},
		},
		Rejected: []pipeline.RejectedPair{
			{Index: 1, Left: "l2.png", Right: "r2.png", Reason: errors.Wrap(chessboard.ErrPatternNotFound, "right image")},
		},
		Quality: calibration.QualityReport{Average: 0.2, PerPair: []float64{0.1, 0.3, 0.2}},
	}
}

func TestReportRows(t *testing.T) {
	rows := reportRows(fakeRun())
	test.That(t, rows, test.ShouldHaveLength, 4)
	for i, r := range rows {
		test.That(t, r.index, test.ShouldEqual, i)
	}
	test.That(t, rows[1].accepted, test.ShouldBeFalse)
	test.That(t, rows[1].detail, test.ShouldContainSubstring, chessboard.ErrPatternNotFound.Error())
	test.That(t, rows[2].accepted, test.ShouldBeTrue)
	test.That(t, rows[2].detail, test.ShouldEqual, "0.3000 px")

	var out bytes.Buffer
	printCalibrationReport(&out, fakeRun())
	test.That(t, out.String(), test.ShouldContainSubstring, "l3.png")
	test.That(t, out.String(), test.ShouldContainSubstring, "3 of 4")
	test.That(t, out.String(), test.ShouldNotContainSubstring, "3 OF 4")
	test.That(t, out.String(), test.ShouldContainSubstring, "EPIPOLAR ERROR / REASON")
}

func TestWriteErrorPlot(t *testing.T) {
	dir := testutils.TempDir(t, "", "cli")
	path := filepath.Join(dir, "plots", "errors.png")
	test.That(t, writeErrorPlot(path, fakeRun()), test.ShouldBeNil)
	img, err := rimage.ReadImageFromFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldBeGreaterThan, 0)

	test.That(t, writeErrorPlot(path, &pipeline.CalibrationRun{}), test.ShouldNotBeNil)
}

func TestNewDisplayWithoutSinks(t *testing.T) {
	var errOut bytes.Buffer
	app := &cli.App{
		Name:      "stereo",
		ErrWriter: &errOut,
		Action: func(c *cli.Context) error {
			sink, err := newDisplay(c, pipeline.DefaultConfig(), nil)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, sink.Show(context.Background(), "x", rimage.NewGrayImage(1, 1)), test.ShouldBeNil)
			return sink.Close()
		},
	}
	test.That(t, app.Run([]string{"stereo"}), test.ShouldBeNil)
	test.That(t, errOut.String(), test.ShouldContainSubstring, "frames are not shown")
}
