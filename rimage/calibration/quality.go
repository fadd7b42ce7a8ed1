package calibration

import (
	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage/transform"
)

// QualityReport summarizes how well corner pairs satisfy the epipolar constraint. Distances
// are in pixels and are the sum of both point-to-epipolar-line distances of a correspondence.
type QualityReport struct {
	// Average is the total error divided by the number of corners over all pairs.
	Average float64
	// PerPair holds the average error of each pair.
	PerPair []float64
	Mean    float64
	Median  float64
	P95     float64
	Max     float64
	Points  int
}

// EpipolarError undistorts the observed corners with the calibrated models and measures, for
// every correspondence, |x1 . l1| + |x2 . l2| where l2 = F x1 and l1 = F^T x2 are the
// normalized epipolar lines. No threshold is applied.
func (r *Result) EpipolarError(obs []PairObservation) (QualityReport, error) {
	if len(obs) == 0 {
		return QualityReport{}, errors.Wrap(ErrInsufficientPairs, "no pairs to evaluate")
	}
	m1, m2 := r.Model1(), r.Model2()
	f := r.F()

	report := QualityReport{PerPair: make([]float64, 0, len(obs))}
	var total float64
	for i, o := range obs {
		if len(o.Left) != len(o.Right) || len(o.Left) == 0 {
			return QualityReport{}, errors.Errorf("pair %d has %d/%d corners", i, len(o.Left), len(o.Right))
		}
		p1 := undistortAll(m1, o.Left)
		p2 := undistortAll(m2, o.Right)
		lines2, err := transform.ComputeCorrespondEpilines(p1, 1, f)
		if err != nil {
			return QualityReport{}, err
		}
		lines1, err := transform.ComputeCorrespondEpilines(p2, 2, f)
		if err != nil {
			return QualityReport{}, err
		}
		var pairErr float64
		for j := range p1 {
			pairErr += transform.PointLineDistance(p1[j], lines1[j]) + transform.PointLineDistance(p2[j], lines2[j])
		}
		total += pairErr
		report.Points += len(p1)
		report.PerPair = append(report.PerPair, pairErr/float64(len(p1)))
	}
	report.Average = total / float64(report.Points)

	data := stats.Float64Data(report.PerPair)
	var err error
	if report.Mean, err = data.Mean(); err != nil {
		return QualityReport{}, err
	}
	if report.Median, err = data.Median(); err != nil {
		return QualityReport{}, err
	}
	if report.P95, err = data.Percentile(95); err != nil {
		return QualityReport{}, err
	}
	if report.Max, err = data.Max(); err != nil {
		return QualityReport{}, err
	}
	return report, nil
}

// undistortAll removes the lens distortion of pixels and re-projects them with the same
// camera matrix.
func undistortAll(model *transform.PinholeCameraModel, pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, p := range pts {
		out[i] = model.UndistortPixel(p, model.PinholeCameraIntrinsics)
	}
	return out
}
