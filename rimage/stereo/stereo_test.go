package stereo

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/testutils"
	"go.viam.com/stereo/utils"
)

func TestMatchersRecoverConstantDisparity(t *testing.T) {
	const disparity = 8
	left, right := testutils.RandomTexturePair(160, 120, disparity, 42)
	for _, alg := range Algorithms {
		t.Run(string(alg), func(t *testing.T) {
			params := DefaultParams(alg, 32, 0, 1)
			m, err := NewMatcher(alg, params, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, m.Algorithm(), test.ShouldEqual, alg)
			test.That(t, m.Params(), test.ShouldResemble, params)

			disp, err := m.Compute(context.Background(), left, right)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, disp.Width(), test.ShouldEqual, 160)
			test.That(t, disp.Height(), test.ShouldEqual, 120)

			var total, good int
			for y := 10; y < 110; y++ {
				for x := 40; x < 150; x++ {
					total++
					d := disp.Get(x, y)
					if d != disp.Invalid() && utils.AbsInt(int(d)-disparity*rimage.DisparityScale) <= rimage.DisparityScale {
						good++
					}
				}
			}
			test.That(t, float64(good)/float64(total), test.ShouldBeGreaterThan, 0.9)

			// columns without a full search range are never matched
			for y := 0; y < disp.Height(); y++ {
				for x := 0; x < 31; x++ {
					test.That(t, disp.Get(x, y), test.ShouldEqual, disp.Invalid())
				}
			}
		})
	}
}

func TestMatcherIsDeterministic(t *testing.T) {
	left, right := testutils.RandomTexturePair(96, 64, 5, 7)
	for _, alg := range []Algorithm{AlgorithmBM, AlgorithmHH} {
		m, err := NewMatcher(alg, DefaultParams(alg, 16, 0, 1), logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		a, err := m.Compute(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		b, err := m.Compute(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a, test.ShouldResemble, b)
	}
}

func TestMatcherErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	left, right := testutils.RandomTexturePair(96, 64, 4, 1)

	_, err := NewMatcher("var", DefaultParams(AlgorithmBM, 16, 0, 1), logger)
	test.That(t, errors.Is(err, ErrUnknownAlgorithm), test.ShouldBeTrue)

	m, err := NewMatcher(AlgorithmSGBM, DefaultParams(AlgorithmSGBM, 16, 0, 1), logger)
	test.That(t, err, test.ShouldBeNil)

	_, err = m.Compute(context.Background(), left, rimage.NewGrayImage(95, 64))
	test.That(t, errors.Is(err, ErrSizeMismatch), test.ShouldBeTrue)

	_, err = m.Compute(context.Background(), nil, right)
	test.That(t, err, test.ShouldNotBeNil)

	narrowL, narrowR := testutils.RandomTexturePair(18, 20, 2, 1)
	_, err = m.Compute(context.Background(), narrowL, narrowR)
	test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Compute(ctx, left, right)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestParseAlgorithm(t *testing.T) {
	for _, name := range []string{"bm", "SGBM", " hh ", "sgbm3way"} {
		alg, err := ParseAlgorithm(name)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, Algorithms, test.ShouldContain, alg)
	}
	alg, err := ParseAlgorithm("HH")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, alg, test.ShouldEqual, AlgorithmHH)
	test.That(t, alg.IsSemiGlobal(), test.ShouldBeTrue)
	test.That(t, AlgorithmBM.IsSemiGlobal(), test.ShouldBeFalse)

	for _, name := range []string{"var", "", "gc"} {
		_, err := ParseAlgorithm(name)
		test.That(t, errors.Is(err, ErrUnknownAlgorithm), test.ShouldBeTrue)
	}
}

func TestParamsValidate(t *testing.T) {
	test.That(t, DefaultParams(AlgorithmBM, 64, 0, 1).Validate(AlgorithmBM), test.ShouldBeNil)
	test.That(t, DefaultParams(AlgorithmSGBM, 64, 0, 3).Validate(AlgorithmSGBM), test.ShouldBeNil)

	sgbm := DefaultParams(AlgorithmSGBM, 64, 3, 1)
	test.That(t, sgbm.P1, test.ShouldEqual, 72)
	test.That(t, sgbm.P2, test.ShouldEqual, 288)

	for name, tc := range map[string]struct {
		alg    Algorithm
		mutate func(*Params)
		field  string
	}{
		"num disparities not multiple of 16": {AlgorithmBM, func(p *Params) { p.NumDisparities = 20 }, "num_disparities"},
		"zero disparities":                   {AlgorithmSGBM, func(p *Params) { p.NumDisparities = 0 }, "num_disparities"},
		"even bm block":                      {AlgorithmBM, func(p *Params) { p.BlockSize = 8 }, "block_size"},
		"small bm block":                     {AlgorithmBM, func(p *Params) { p.BlockSize = 3 }, "block_size"},
		"large sgbm block":                   {AlgorithmSGBM, func(p *Params) { p.BlockSize = 13 }, "block_size"},
		"p2 below p1":                        {AlgorithmHH, func(p *Params) { p.P2 = p.P1 }, "p1/p2"},
		"pre filter cap":                     {AlgorithmBM, func(p *Params) { p.PreFilterCap = 64 }, "pre_filter_cap"},
		"negative uniqueness":                {AlgorithmSGBM3Way, func(p *Params) { p.UniquenessRatio = -1 }, "uniqueness_ratio"},
		"negative speckle":                   {AlgorithmBM, func(p *Params) { p.SpeckleRange = -1 }, "speckle"},
	} {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams(tc.alg, 64, 0, 1)
			tc.mutate(&p)
			err := p.Validate(tc.alg)
			test.That(t, errors.Is(err, ErrInvalidParams), test.ShouldBeTrue)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.field)
		})
	}
}

func TestAutoNumDisparities(t *testing.T) {
	test.That(t, AutoNumDisparities(640), test.ShouldEqual, 80)
	test.That(t, AutoNumDisparities(320), test.ShouldEqual, 48)
	test.That(t, AutoNumDisparities(1), test.ShouldEqual, 0)
}

func TestValidDisparityROI(t *testing.T) {
	roi := image.Rect(10, 5, 300, 230)
	r := ValidDisparityROI(roi, roi, 0, 64, 9)
	test.That(t, r, test.ShouldResemble, image.Rect(10+63+4, 9, 300-4, 226))

	test.That(t, ValidDisparityROI(image.Rect(0, 0, 50, 50), image.Rect(0, 0, 50, 50), 0, 64, 5), test.ShouldResemble, image.Rectangle{})
	test.That(t, ValidDisparityROI(image.Rect(0, 0, 200, 4), image.Rect(0, 0, 200, 4), 0, 16, 5), test.ShouldResemble, image.Rectangle{})
}

func TestROINarrowerThanSearchRange(t *testing.T) {
	left, right := testutils.RandomTexturePair(200, 100, 8, 11)
	roi := image.Rect(0, 0, 50, 50)
	for _, alg := range []Algorithm{AlgorithmBM, AlgorithmSGBM} {
		params := DefaultParams(alg, 64, 0, 1)
		params.SpeckleWindowSize = 0
		params.ROI1, params.ROI2 = roi, roi
		m, err := NewMatcher(alg, params, logging.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		disp, err := m.Compute(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, disp.ValidCount(), test.ShouldEqual, 0)
	}
}

func TestFilterSpeckles(t *testing.T) {
	disp := rimage.NewDisparityMap(10, 10, 0, 16)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			disp.Set(x, y, 100+int16(x))
		}
	}
	// an island of two pixels far from its surroundings
	disp.Set(4, 4, 500)
	disp.Set(5, 4, 505)
	// a single pixel within range of its neighbors
	disp.Set(8, 8, 110)

	FilterSpeckles(disp, disp.Invalid(), 3, 16)
	test.That(t, disp.Get(4, 4), test.ShouldEqual, disp.Invalid())
	test.That(t, disp.Get(5, 4), test.ShouldEqual, disp.Invalid())
	test.That(t, disp.Get(8, 8), test.ShouldEqual, int16(110))
	test.That(t, disp.ValidCount(), test.ShouldEqual, 98)

	// with a window larger than the image everything goes
	FilterSpeckles(disp, disp.Invalid(), 1000, 16)
	test.That(t, disp.ValidCount(), test.ShouldEqual, 0)
}

func TestToVisual(t *testing.T) {
	disp := rimage.NewDisparityMap(3, 1, 0, 16)
	disp.Set(1, 0, 8*rimage.DisparityScale)
	disp.Set(2, 0, 40*rimage.DisparityScale)
	vis := ToVisual(disp, 16)
	test.That(t, vis.Get(0, 0), test.ShouldEqual, uint8(0))
	test.That(t, vis.Get(1, 0), test.ShouldEqual, uint8(128))
	test.That(t, vis.Get(2, 0), test.ShouldEqual, uint8(255))
}

func TestWinner(t *testing.T) {
	_, fixed, ok := winner([]int32{10, 4, 2, 4, 10}, 3, 10)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, fixed, test.ShouldEqual, int16(5*rimage.DisparityScale))

	// a second minimum far away fails uniqueness
	_, _, ok = winner([]int32{2, 9, 9, 9, 2}, 0, 10)
	test.That(t, ok, test.ShouldBeFalse)
	_, _, ok = winner([]int32{2, 9, 9, 9, 2}, 0, 0)
	test.That(t, ok, test.ShouldBeTrue)

	best, fixed, ok := winner([]int64{10, 2, 6, 10}, 0, 0)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, best, test.ShouldEqual, 1)
	// parabola through (0,10) (1,2) (2,6) has its minimum at 1 + 4/24
	test.That(t, fixed, test.ShouldEqual, int16(19))
}

func TestLeftRightCheck(t *testing.T) {
	const invalid = int16(-16)
	row := []int16{invalid, 32, 32, 48}
	bestDisp := []int{noMatch, 2, 2, 3}
	rightBest, rightCost := newRightMatches(4)
	markRight(rightBest, rightCost, 1, 2, 5)
	markRight(rightBest, rightCost, 2, 2, 3)
	markRight(rightBest, rightCost, 3, 3, 1)
	// right pixel 0 is claimed by x=3 at a lower cost, so x=2 disagrees by one pixel
	leftRightCheck(row, bestDisp, rightBest, invalid, 0)
	test.That(t, row, test.ShouldResemble, []int16{invalid, 32, invalid, 48})

	row = []int16{invalid, 32, 32, 48}
	leftRightCheck(row, bestDisp, rightBest, invalid, 1)
	test.That(t, row, test.ShouldResemble, []int16{invalid, 32, 32, 48})
}
