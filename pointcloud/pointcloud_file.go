package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/chenzhekl/goply"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/utils"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
)

// WriteToFile writes the cloud in the format given by the file extension: .txt or .xyz for
// "x y z" lines, .pcd for ascii PCD and .ply for ascii PLY.
func WriteToFile(cloud PointCloud, path string) (err error) {
	ext := utils.Ext(path)
	var write func(PointCloud, io.Writer) error
	switch ext {
	case "txt", "xyz":
		write = ToXYZ
	case "pcd":
		write = func(c PointCloud, w io.Writer) error { return ToPCD(c, w, PCDAscii) }
	case "ply":
		write = ToPLY
	default:
		return errors.Errorf("do not know how to write point cloud file %q", path)
	}
	if err := utils.EnsureParentDir(path); err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create point cloud file %q", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err := write(cloud, w); err != nil {
		return errors.Wrapf(err, "cannot write point cloud file %q", path)
	}
	return w.Flush()
}

// NewFromFile returns a pointcloud read in from the given file.
func NewFromFile(path string) (PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	switch utils.Ext(path) {
	case "txt", "xyz":
		return ReadXYZ(f)
	case "ply":
		return ReadPLY(f)
	default:
		return nil, errors.Errorf("do not know how to read file %q", path)
	}
}

// ToXYZ writes one "x y z" line per point.
func ToXYZ(cloud PointCloud, out io.Writer) error {
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
		return err == nil
	})
	return err
}

// ReadXYZ reads "x y z" lines; blank lines are skipped.
func ReadXYZ(in io.Reader) (PointCloud, error) {
	cloud := New()
	scanner := bufio.NewScanner(in)
	line := 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 3 {
			return nil, errors.Errorf("line %d: expected 3 values, got %d", line, len(fields))
		}
		var v [3]float64
		for i, f := range fields {
			parsed, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
			v[i] = parsed
		}
		if err := cloud.Set(NewVector(v[0], v[1], v[2]), NewBasicData()); err != nil {
			return nil, err
		}
	}
	return cloud, scanner.Err()
}

func colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 0
	}
	r, g, b := pt.RGB255()
	return int(r)<<16 | int(g)<<8 | int(b)
}

// ToPCD writes the cloud as an unorganized PCD v0.7 file.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	hasColor := cloud.MetaData().HasColor
	var header strings.Builder
	header.WriteString("VERSION .7\n")
	if hasColor {
		header.WriteString("FIELDS x y z rgb\nSIZE 4 4 4 4\nTYPE F F F I\nCOUNT 1 1 1 1\n")
	} else {
		header.WriteString("FIELDS x y z\nSIZE 4 4 4\nTYPE F F F\nCOUNT 1 1 1\n")
	}
	fmt.Fprintf(&header, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n", cloud.Size(), cloud.Size())
	switch outputType {
	case PCDAscii:
		header.WriteString("DATA ascii\n")
	case PCDBinary:
		header.WriteString("DATA binary\n")
	default:
		return errors.Errorf("unsupported pcd type %d", outputType)
	}
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}

	var err error
	buf := make([]byte, 16)
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(p.X)))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(float32(p.Y)))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(float32(p.Z)))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], uint32(colorToPCDInt(d)))
				n = 16
			}
			_, err = out.Write(buf[:n])
		default:
			if hasColor {
				_, err = fmt.Fprintf(out, "%f %f %f %d\n", p.X, p.Y, p.Z, colorToPCDInt(d))
			} else {
				_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
			}
		}
		return err == nil
	})
	return err
}

// ToPLY writes the cloud as an ascii PLY file with one vertex element.
func ToPLY(cloud PointCloud, out io.Writer) error {
	hasColor := cloud.MetaData().HasColor
	var header strings.Builder
	header.WriteString("ply\nformat ascii 1.0\n")
	fmt.Fprintf(&header, "element vertex %d\n", cloud.Size())
	header.WriteString("property float x\nproperty float y\nproperty float z\n")
	if hasColor {
		header.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	header.WriteString("end_header\n")
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		if hasColor {
			var r, g, b uint8
			if d != nil && d.HasColor() {
				r, g, b = d.RGB255()
			}
			_, err = fmt.Fprintf(out, "%f %f %f %d %d %d\n", p.X, p.Y, p.Z, r, g, b)
		} else {
			_, err = fmt.Fprintf(out, "%f %f %f\n", p.X, p.Y, p.Z)
		}
		return err == nil
	})
	return err
}

// ReadPLY reads the vertices of an ascii PLY file, with their colors when present.
func ReadPLY(in io.Reader) (cloud PointCloud, err error) {
	// the parser panics on malformed input
	defer func() {
		if r := recover(); r != nil {
			cloud, err = nil, errors.Errorf("invalid ply file: %v", r)
		}
	}()
	ply := goply.New(in)
	vertices := ply.Elements("vertex")
	cloud = NewWithPrealloc(len(vertices))
	for _, v := range vertices {
		x, okX := plyFloat(v.Property("x"))
		y, okY := plyFloat(v.Property("y"))
		z, okZ := plyFloat(v.Property("z"))
		if !okX || !okY || !okZ {
			return nil, errors.New("ply vertex is missing a coordinate")
		}
		var data Data = NewBasicData()
		r, okR := v.Property("red").(uint8)
		g, okG := v.Property("green").(uint8)
		b, okB := v.Property("blue").(uint8)
		if okR && okG && okB {
			data = NewColoredData(color.NRGBA{R: r, G: g, B: b, A: 255})
		}
		if err := cloud.Set(NewVector(x, y, z), data); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

func plyFloat(v interface{}) (float64, bool) {
	switch f := v.(type) {
	case float32:
		return float64(f), true
	case float64:
		return f, true
	default:
		return 0, false
	}
}
