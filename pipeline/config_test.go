package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereo/rimage/stereo"
	"go.viam.com/stereo/testutils"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)
	test.That(t, cfg.Pattern().Count(), test.ShouldEqual, 35)
	test.That(t, cfg.RectificationOptions().Alpha, test.ShouldEqual, -1)
	test.That(t, cfg.RectificationOptions().ZeroDisparity, test.ShouldBeTrue)

	alg, params, err := cfg.MatcherParams(640)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, alg, test.ShouldEqual, stereo.AlgorithmHH)
	test.That(t, params.NumDisparities, test.ShouldEqual, 32)
	test.That(t, params.BlockSize, test.ShouldEqual, 1)
	test.That(t, params.P1, test.ShouldEqual, 8)
	test.That(t, params.P2, test.ShouldEqual, 32)
}

func TestMatcherParams(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDisparity = 0
	_, params, err := cfg.MatcherParams(640)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.NumDisparities, test.ShouldEqual, 80)

	cfg.Algorithm = "BM"
	alg, params, err := cfg.MatcherParams(320)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, alg, test.ShouldEqual, stereo.AlgorithmBM)
	test.That(t, params.NumDisparities, test.ShouldEqual, 48)
	test.That(t, params.BlockSize, test.ShouldEqual, 9)

	cfg.BlockSize = 15
	_, params, err = cfg.MatcherParams(320)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, params.BlockSize, test.ShouldEqual, 15)

	cfg.Algorithm = "var"
	_, _, err = cfg.MatcherParams(320)
	test.That(t, errors.Is(err, stereo.ErrUnknownAlgorithm), test.ShouldBeTrue)
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		match  error
	}{
		{"board", func(c *Config) { c.BoardHeight = 2 }, nil},
		{"square size", func(c *Config) { c.SquareSize = 0 }, nil},
		{"max disparity", func(c *Config) { c.MaxDisparity = 20 }, nil},
		{"negative max disparity", func(c *Config) { c.MaxDisparity = -16 }, nil},
		{"scale", func(c *Config) { c.Scale = 0 }, nil},
		{"alpha", func(c *Config) { c.Alpha = 2 }, nil},
		{"intrinsics", func(c *Config) { c.IntrinsicsPath = "" }, nil},
		{"extrinsics", func(c *Config) { c.ExtrinsicsPath = "" }, nil},
		{"fps", func(c *Config) { c.MaxFPS = -1 }, nil},
		{"webcam", func(c *Config) { c.Webcam.Width = -1 }, nil},
		{"algorithm", func(c *Config) { c.Algorithm = "var" }, stereo.ErrUnknownAlgorithm},
		{"sgbm block size", func(c *Config) { c.BlockSize = 4 }, stereo.ErrInvalidParams},
		{"bm block size", func(c *Config) {
			c.Algorithm = "bm"
			c.BlockSize = 3
		}, stereo.ErrInvalidParams},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(&cfg)
			err := cfg.Validate("config")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, errors.Is(err, ErrInvalidConfig), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, "invalid configuration")
			if tc.match != nil {
				test.That(t, errors.Is(err, tc.match), test.ShouldBeTrue)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := testutils.TempDir(t, "", "config")

	yamlPath := filepath.Join(dir, "stereo.yml")
	test.That(t, os.WriteFile(yamlPath, []byte(`
algorithm: bm
max_disparity: 64
square_size: 2.5
webcam:
  width_px: 640
  frame_rate: 15
`), 0o600), test.ShouldBeNil)

	cfg := DefaultConfig()
	test.That(t, LoadConfigFile(yamlPath, &cfg), test.ShouldBeNil)
	test.That(t, cfg.Algorithm, test.ShouldEqual, "bm")
	test.That(t, cfg.MaxDisparity, test.ShouldEqual, 64)
	test.That(t, cfg.SquareSize, test.ShouldEqual, 2.5)
	test.That(t, cfg.Webcam.Width, test.ShouldEqual, 640)
	test.That(t, cfg.Webcam.FrameRate, test.ShouldEqual, float32(15))
	// untouched keys keep their value
	test.That(t, cfg.BoardWidth, test.ShouldEqual, 7)
	test.That(t, cfg.IntrinsicsPath, test.ShouldEqual, "intrinsics.yml")
	test.That(t, cfg.Validate("config"), test.ShouldBeNil)

	jsonPath := filepath.Join(dir, "stereo.json")
	test.That(t, os.WriteFile(jsonPath, []byte(`{"board_width": 9, "board_height": 6, "scale": 0.5}`), 0o600), test.ShouldBeNil)
	test.That(t, LoadConfigFile(jsonPath, &cfg), test.ShouldBeNil)
	test.That(t, cfg.BoardWidth, test.ShouldEqual, 9)
	test.That(t, cfg.BoardHeight, test.ShouldEqual, 6)
	test.That(t, cfg.Scale, test.ShouldEqual, 0.5)
	test.That(t, cfg.Algorithm, test.ShouldEqual, "bm")

	unknownPath := filepath.Join(dir, "unknown.yml")
	test.That(t, os.WriteFile(unknownPath, []byte("block: 3\n"), 0o600), test.ShouldBeNil)
	err := LoadConfigFile(unknownPath, &cfg)
	test.That(t, errors.Is(err, ErrInvalidConfig), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "block")

	brokenPath := filepath.Join(dir, "broken.yml")
	test.That(t, os.WriteFile(brokenPath, []byte("algorithm: [hh\n"), 0o600), test.ShouldBeNil)
	test.That(t, errors.Is(LoadConfigFile(brokenPath, &cfg), ErrInvalidConfig), test.ShouldBeTrue)

	err = LoadConfigFile(filepath.Join(dir, "missing.yml"), &cfg)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "missing.yml")
	test.That(t, errors.Is(err, ErrInvalidConfig), test.ShouldBeFalse)
}
