package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"go.viam.com/stereo/utils"
)

// ErrOddImageList is returned when a calibration list does not alternate left and right images.
var ErrOddImageList = errors.New("odd number of images in calibration list")

type imageListDocument struct {
	Images []string `json:"images" yaml:"images"`
}

// ReadImageList reads the image paths of a calibration list. JSON and YAML lists hold either a
// sequence of paths or an object with an "images" sequence; any other file is read as one path
// per line, skipping blank lines and lines starting with '#'. Relative paths are resolved
// against the directory of the list file.
func ReadImageList(path string) ([]string, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read image list %q", path)
	}
	var paths []string
	switch utils.Ext(path) {
	case "json":
		paths, err = decodeList(data, json.Unmarshal)
	case "yml", "yaml":
		paths, err = decodeList(data, yaml.Unmarshal)
	default:
		paths, err = readLines(data)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse image list %q", path)
	}
	dir := filepath.Dir(path)
	return lo.Map(paths, func(p string, _ int) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}), nil
}

func decodeList(data []byte, unmarshal func([]byte, interface{}) error) ([]string, error) {
	var seq []string
	if err := unmarshal(data, &seq); err == nil {
		return seq, nil
	}
	var doc imageListDocument
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Images == nil {
		return nil, errors.New(`expected a sequence of paths or an "images" key`)
	}
	return doc.Images, nil
}

func readLines(data []byte) ([]string, error) {
	var paths []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, line)
	}
	return paths, scanner.Err()
}

// pairList splits a list into (left, right) pairs.
func pairList(paths []string) ([][2]string, error) {
	if len(paths)%2 != 0 {
		return nil, errors.Wrapf(ErrOddImageList, "got %d images", len(paths))
	}
	return lo.Map(lo.Chunk(paths, 2), func(c []string, _ int) [2]string {
		return [2]string{c[0], c[1]}
	}), nil
}
