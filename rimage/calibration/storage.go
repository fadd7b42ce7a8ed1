package calibration

import (
	"encoding/json"
	"image"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/utils"
)

// Matrix is the on disk form of a dense matrix, stored row major.
type Matrix struct {
	Rows int       `json:"rows" yaml:"rows"`
	Cols int       `json:"cols" yaml:"cols"`
	Data []float64 `json:"data" yaml:"data,flow"`
}

// NewMatrix copies m into its on disk form.
func NewMatrix(m mat.Matrix) *Matrix {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return &Matrix{Rows: r, Cols: c, Data: data}
}

// Dense returns the stored matrix after checking its shape.
func (m *Matrix) Dense(rows, cols int) (*mat.Dense, error) {
	if m == nil {
		return nil, errors.New("matrix missing")
	}
	if m.Rows != rows || m.Cols != cols || len(m.Data) != rows*cols {
		return nil, errors.Errorf("expected a %dx%d matrix, got %dx%d with %d values", rows, cols, m.Rows, m.Cols, len(m.Data))
	}
	if !utils.IsFinite(m.Data...) {
		return nil, errors.New("matrix holds non-finite values")
	}
	return mat.NewDense(rows, cols, append([]float64(nil), m.Data...)), nil
}

// Rect is an image rectangle in pixels.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// NewRect converts an image.Rectangle.
func NewRect(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Rectangle converts back to an image.Rectangle.
func (r Rect) Rectangle() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// IntrinsicsDocument holds the camera matrices and distortion of both cameras.
type IntrinsicsDocument struct {
	ID          string  `json:"id" yaml:"id"`
	ImageWidth  int     `json:"image_width" yaml:"image_width"`
	ImageHeight int     `json:"image_height" yaml:"image_height"`
	RMS         float64 `json:"rms" yaml:"rms"`
	M1          *Matrix `json:"M1" yaml:"M1"`
	D1          *Matrix `json:"D1" yaml:"D1"`
	M2          *Matrix `json:"M2" yaml:"M2"`
	D2          *Matrix `json:"D2" yaml:"D2"`
}

// ExtrinsicsDocument holds the relative pose of the cameras and, once rectified, the
// rectification transforms, projections, reprojection matrix and valid regions.
type ExtrinsicsDocument struct {
	ID   string  `json:"id" yaml:"id"`
	R    *Matrix `json:"R" yaml:"R"`
	T    *Matrix `json:"T" yaml:"T"`
	R1   *Matrix `json:"R1,omitempty" yaml:"R1,omitempty"`
	R2   *Matrix `json:"R2,omitempty" yaml:"R2,omitempty"`
	P1   *Matrix `json:"P1,omitempty" yaml:"P1,omitempty"`
	P2   *Matrix `json:"P2,omitempty" yaml:"P2,omitempty"`
	Q    *Matrix `json:"Q,omitempty" yaml:"Q,omitempty"`
	ROI1 *Rect   `json:"roi1,omitempty" yaml:"roi1,omitempty"`
	ROI2 *Rect   `json:"roi2,omitempty" yaml:"roi2,omitempty"`
}

// IntrinsicsDocument returns the persisted form of both camera models.
func (r *Result) IntrinsicsDocument() *IntrinsicsDocument {
	return &IntrinsicsDocument{
		ID:          r.id,
		ImageWidth:  r.size.X,
		ImageHeight: r.size.Y,
		RMS:         r.rms,
		M1:          NewMatrix(r.k1.Matrix()),
		D1:          &Matrix{Rows: 1, Cols: transform.NumDistortionParameters, Data: r.d1.Parameters()},
		M2:          NewMatrix(r.k2.Matrix()),
		D2:          &Matrix{Rows: 1, Cols: transform.NumDistortionParameters, Data: r.d2.Parameters()},
	}
}

// ExtrinsicsDocument returns the persisted relative pose, without rectification data.
func (r *Result) ExtrinsicsDocument() *ExtrinsicsDocument {
	return &ExtrinsicsDocument{
		ID: r.id,
		R:  NewMatrix(r.rot),
		T:  &Matrix{Rows: 3, Cols: 1, Data: []float64{r.t.X, r.t.Y, r.t.Z}},
	}
}

func distortionFrom(m *Matrix) (*transform.BrownConrady, error) {
	if m == nil {
		return nil, errors.New("distortion missing")
	}
	if m.Rows*m.Cols != len(m.Data) || (m.Rows != 1 && m.Cols != 1) {
		return nil, errors.Errorf("distortion must be a vector, got %dx%d", m.Rows, m.Cols)
	}
	return transform.NewBrownConrady(m.Data)
}

// NewResultFromDocuments rebuilds a calibration from its persisted documents.
func NewResultFromDocuments(in *IntrinsicsDocument, ex *ExtrinsicsDocument) (*Result, error) {
	if in == nil || ex == nil {
		return nil, errors.New("both intrinsics and extrinsics are required")
	}
	size := image.Point{in.ImageWidth, in.ImageHeight}
	var ks [2]*transform.PinholeCameraIntrinsics
	var ds [2]*transform.BrownConrady
	for i, pair := range [2][2]*Matrix{{in.M1, in.D1}, {in.M2, in.D2}} {
		m, err := pair[0].Dense(3, 3)
		if err != nil {
			return nil, errors.Wrapf(err, "M%d", i+1)
		}
		if ks[i], err = transform.NewPinholeCameraIntrinsicsFromMatrix(m, size.X, size.Y); err != nil {
			return nil, errors.Wrapf(err, "M%d", i+1)
		}
		if ds[i], err = distortionFrom(pair[1]); err != nil {
			return nil, errors.Wrapf(err, "D%d", i+1)
		}
	}
	rot, err := ex.R.Dense(3, 3)
	if err != nil {
		return nil, errors.Wrap(err, "R")
	}
	if ex.T == nil || len(ex.T.Data) != 3 {
		return nil, errors.New("T must hold 3 values")
	}
	t := r3.Vector{X: ex.T.Data[0], Y: ex.T.Data[1], Z: ex.T.Data[2]}
	res, err := NewResult(in.ID, size, ks[0], ks[1], ds[0], ds[1], rot, t)
	if err != nil {
		return nil, err
	}
	res.rms = in.RMS
	return res, nil
}

// WriteDocument writes doc to path as JSON or YAML depending on the extension.
func WriteDocument(path string, doc interface{}) (err error) {
	var data []byte
	switch ext := utils.Ext(path); ext {
	case "json":
		data, err = json.MarshalIndent(doc, "", "  ")
	case "yml", "yaml":
		data, err = yaml.Marshal(doc)
	default:
		return errors.Errorf("unsupported document extension %q for %q", ext, path)
	}
	if err != nil {
		return errors.Wrapf(err, "cannot encode %q", path)
	}
	if err := utils.EnsureParentDir(path); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot write %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if _, err := f.Write(data); err != nil {
		return errors.Wrapf(err, "cannot write %q", path)
	}
	return f.Sync()
}

// ReadDocument decodes the JSON or YAML file at path into doc.
func ReadDocument(path string, doc interface{}) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "cannot read %q", path)
	}
	switch ext := utils.Ext(path); ext {
	case "json":
		err = json.Unmarshal(data, doc)
	case "yml", "yaml":
		err = yaml.Unmarshal(data, doc)
	default:
		return errors.Errorf("unsupported document extension %q for %q", ext, path)
	}
	return errors.Wrapf(err, "cannot decode %q", path)
}

// LoadCalibration reads the intrinsics and extrinsics documents written by a calibration run.
func LoadCalibration(intrinsicsPath, extrinsicsPath string) (*Result, *ExtrinsicsDocument, error) {
	var in IntrinsicsDocument
	if err := ReadDocument(intrinsicsPath, &in); err != nil {
		return nil, nil, err
	}
	var ex ExtrinsicsDocument
	if err := ReadDocument(extrinsicsPath, &ex); err != nil {
		return nil, nil, err
	}
	res, err := NewResultFromDocuments(&in, &ex)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "invalid calibration in %q and %q", intrinsicsPath, extrinsicsPath)
	}
	return res, &ex, nil
}
