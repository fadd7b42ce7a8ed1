// Package camera defines the frame sources the live loop reads from: webcams opened by index and
// replays of image files.
package camera

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// ErrEndOfStream is returned by a FrameSource that has no more frames to give.
var ErrEndOfStream = errors.New("end of stream")

// A FrameSource produces frames one at a time.
type FrameSource interface {
	// Read blocks until the next frame is available. The returned release function must be called
	// once the caller is done with the image.
	Read(ctx context.Context) (image.Image, func(), error)
	// Close releases the underlying device.
	Close(ctx context.Context) error
}

func noRelease() {}
