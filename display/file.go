package display

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// FileSink writes the latest frame of each name to <dir>/<name>.png.
type FileSink struct {
	dir string
}

// NewFileSink returns a sink writing into dir, creating it if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create display directory %q", dir)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns where frames of name are written.
func (s *FileSink) Path(name string) string {
	return filepath.Join(s.dir, unsafeName.ReplaceAllString(name, "_")+".png")
}

// Show writes img to a temporary file and renames it over the previous frame so readers never
// see a partial image.
func (s *FileSink) Show(ctx context.Context, name string, img image.Image) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(name)
	tmp := path + ".tmp.png"
	if err := rimage.WriteImageToFile(tmp, img); err != nil {
		return err
	}
	return errors.Wrapf(os.Rename(tmp, path), "cannot replace frame %q", path)
}

// Close does nothing; written frames stay on disk.
func (s *FileSink) Close() error {
	return nil
}
