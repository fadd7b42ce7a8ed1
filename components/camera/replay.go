package camera

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/stereo/rimage"
)

// Replay is a FrameSource that reads a fixed list of image files in order.
type Replay struct {
	mu     sync.Mutex
	paths  []string
	next   int
	loop   bool
	closed bool
}

// NewReplay returns a replay of the given files. With loop set, the replay starts over after the
// last file instead of ending the stream.
func NewReplay(paths []string, loop bool) (*Replay, error) {
	if len(paths) == 0 {
		return nil, errors.New("replay needs at least one image")
	}
	return &Replay{paths: append([]string(nil), paths...), loop: loop}, nil
}

// Read decodes the next file. A file that cannot be decoded is returned as an error and skipped
// by the following Read.
func (r *Replay) Read(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, nil, errors.New("replay has been closed")
	}
	if r.next >= len(r.paths) {
		if !r.loop {
			r.mu.Unlock()
			return nil, nil, ErrEndOfStream
		}
		r.next = 0
	}
	path := r.paths[r.next]
	r.next++
	r.mu.Unlock()

	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return nil, nil, err
	}
	return img, noRelease, nil
}

// Close stops the replay.
func (r *Replay) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
