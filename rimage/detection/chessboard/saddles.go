package chessboard

import (
	"image"
	"image/color"
	"sort"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/rimage"
)

// SaddleConfiguration stores the parameters to process the Hessian determinant image into a relevant saddle points map.
type SaddleConfiguration struct {
	BlurSize          int     `json:"blur_size"`          // gaussian pre-filter size, odd
	BlurSigma         float64 `json:"blur_sigma"`         // gaussian pre-filter sigma
	RelativeThreshold float64 `json:"relative_threshold"` // fraction of the strongest saddle response kept by pruning
	NMSWindowSize     int     `json:"win_size"`           // half window size for non-maximum suppression
	MaxCandidates     int     `json:"max_candidates"`     // strongest saddle points kept after suppression
}

// DefaultSaddleConf stores the default parameters for saddle detection.
var DefaultSaddleConf = SaddleConfiguration{
	BlurSize:          5,
	BlurSigma:         1.,
	RelativeThreshold: 0.05,
	NMSWindowSize:     3,
	MaxCandidates:     2000,
}

// Validate ensures all parts of the config are valid.
func (cfg *SaddleConfiguration) Validate(path string) error {
	if cfg.BlurSize < 1 || cfg.BlurSize%2 == 0 {
		return errors.Errorf("%s: blur_size must be odd and positive, got %d", path, cfg.BlurSize)
	}
	if cfg.RelativeThreshold <= 0 || cfg.RelativeThreshold >= 1 {
		return errors.Errorf("%s: relative_threshold must be in (0, 1), got %v", path, cfg.RelativeThreshold)
	}
	if cfg.NMSWindowSize < 1 {
		return errors.Errorf("%s: win_size must be positive, got %d", path, cfg.NMSWindowSize)
	}
	if cfg.MaxCandidates < 1 {
		return errors.Errorf("%s: max_candidates must be positive, got %d", path, cfg.MaxCandidates)
	}
	return nil
}

// SaddlePoint is a pixel where the image intensity surface is a saddle, with its response.
type SaddlePoint struct {
	Pos   image.Point
	Score float64
}

// computePixelWiseHessianDeterminant computes hessian components for each pixel and returns a *mat.Dense containing
// the value of the determinant of the Hessian for each pixel.
// The sign and value of the determinant of the Hessian gives location of saddle points.
func computePixelWiseHessianDeterminant(img *mat.Dense) (*mat.Dense, error) {
	nRows, nCols := img.Dims()
	sobelX := rimage.GetSobelX()
	sobelY := rimage.GetSobelY()
	gX, err := rimage.ConvolveGrayFloat64(img, &sobelX)
	if err != nil {
		return nil, err
	}
	gY, err := rimage.ConvolveGrayFloat64(img, &sobelY)
	if err != nil {
		return nil, err
	}
	gXX, err := rimage.ConvolveGrayFloat64(gX, &sobelX)
	if err != nil {
		return nil, err
	}
	gYY, err := rimage.ConvolveGrayFloat64(gY, &sobelY)
	if err != nil {
		return nil, err
	}
	gXY, err := rimage.ConvolveGrayFloat64(gX, &sobelY)
	if err != nil {
		return nil, err
	}
	m1 := mat.NewDense(nRows, nCols, nil)
	m2 := mat.NewDense(nRows, nCols, nil)
	out := mat.NewDense(nRows, nCols, nil)
	m1.MulElem(gXX, gYY)
	m2.MulElem(gXY, gXY)
	out.Sub(m1, m2)
	return out, nil
}

// PruneSaddle zeroes every response below RelativeThreshold times the strongest response.
func PruneSaddle(s mat.Matrix, cfg *SaddleConfiguration) *mat.Dense {
	pruned := mat.DenseCopyOf(s)
	thresh := mat.Max(pruned) * cfg.RelativeThreshold
	pruned.Apply(func(r, c int, v float64) float64 {
		if v < thresh || v <= 0 {
			return 0.
		}
		return v
	}, pruned)
	return pruned
}

// NonMaxSuppression keeps only the pixels of img that are the maximum of their (2*winSize+1)
// window. Ties keep the first pixel in raster order.
func NonMaxSuppression(img *mat.Dense, winSize int) *mat.Dense {
	h, w := img.Dims()
	imgSup := mat.NewDense(h, w, nil)
	for i := 0; i < h; i++ {
		for j := 0; j < w; j++ {
			v := img.At(i, j)
			if v == 0 {
				continue
			}
			isMax := true
		window:
			for y := max(0, i-winSize); y < min(h, i+winSize+1); y++ {
				for x := max(0, j-winSize); x < min(w, j+winSize+1); x++ {
					n := img.At(y, x)
					if n > v || (n == v && (y < i || (y == i && x < j))) {
						isMax = false
						break window
					}
				}
			}
			if isMax {
				imgSup.Set(i, j, v)
			}
		}
	}
	return imgSup
}

// GetSaddleMapPoints gets a saddle point presence map and a slice of relevant saddle points,
// strongest first.
func GetSaddleMapPoints(img *mat.Dense, conf *SaddleConfiguration) (*mat.Dense, []SaddlePoint, error) {
	nRows, nCols := img.Dims()
	blur, err := rimage.GetGaussian(conf.BlurSize, conf.BlurSigma)
	if err != nil {
		return nil, nil, err
	}
	imgBlur, err := rimage.ConvolveGrayFloat64(img, &blur)
	if err != nil {
		return nil, nil, err
	}
	hessian, err := computePixelWiseHessianDeterminant(imgBlur)
	if err != nil {
		return nil, nil, err
	}
	// saddle points are points where determinant of hessian is <0
	// for better readability, using negative determinant of Hessian
	hessian.Scale(-1.0, hessian)
	saddleMap := mat.NewDense(nRows, nCols, nil)
	saddleMap.Apply(func(r, c int, v float64) float64 {
		if v < 0 {
			return 0.
		}
		return v
	}, hessian)
	saddleMap = PruneSaddle(saddleMap, conf)
	nms := NonMaxSuppression(saddleMap, conf.NMSWindowSize)

	saddlePoints := make([]SaddlePoint, 0)
	for y := 0; y < nRows; y++ {
		for x := 0; x < nCols; x++ {
			if v := nms.At(y, x); v > 0 {
				saddlePoints = append(saddlePoints, SaddlePoint{Pos: image.Point{x, y}, Score: v})
			}
		}
	}
	sort.SliceStable(saddlePoints, func(i, j int) bool {
		return saddlePoints[i].Score > saddlePoints[j].Score
	})
	if len(saddlePoints) > conf.MaxCandidates {
		saddlePoints = saddlePoints[:conf.MaxCandidates]
	}
	return saddleMap, saddlePoints, nil
}

// PlotSaddleMap draws the saddle points in red over img and saves it to a png file.
func PlotSaddleMap(img image.Image, saddlePoints []SaddlePoint, outFile string) error {
	dc := gg.NewContextForImage(img)
	dc.SetColor(color.RGBA{
		R: 255,
		G: 0,
		B: 0,
		A: 255,
	})
	for _, pt := range saddlePoints {
		dc.DrawPoint(float64(pt.Pos.X), float64(pt.Pos.Y), 1.5)
		dc.Fill()
	}
	return errors.Wrapf(dc.SavePNG(outFile), "cannot save saddle map to %q", outFile)
}
