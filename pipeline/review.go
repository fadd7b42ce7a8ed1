package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/pkg/errors"

	"go.viam.com/stereo/display"
	"go.viam.com/stereo/logging"
)

// ErrReviewAborted is returned when the user quits the corner review. It stops the whole run.
var ErrReviewAborted = errors.New("corner review aborted")

// reviewMaxSide bounds the long side of review overlays.
const reviewMaxSide = 640

// A Reviewer is shown the corner overlay of every image before calibration.
type Reviewer interface {
	Review(ctx context.Context, name string, overlay image.Image) error
}

// SinkReviewer shows every overlay on a display sink without waiting.
type SinkReviewer struct {
	Sink display.Sink
}

// Review shows overlay under name.
func (r SinkReviewer) Review(ctx context.Context, name string, overlay image.Image) error {
	return r.Sink.Show(ctx, name, overlay)
}

// InteractiveReviewer shows every overlay on a sink, then waits for a line on its input. A line
// of "q" or an ESC character aborts the review; anything else continues.
type InteractiveReviewer struct {
	sink   display.Sink
	in     *bufio.Reader
	out    io.Writer
	logger logging.Logger
}

// NewInteractiveReviewer returns a reviewer that prompts on out and reads answers from in.
func NewInteractiveReviewer(sink display.Sink, in io.Reader, out io.Writer, logger logging.Logger) *InteractiveReviewer {
	return &InteractiveReviewer{sink: sink, in: bufio.NewReader(in), out: out, logger: logger}
}

// Review shows overlay and waits for the user.
func (r *InteractiveReviewer) Review(ctx context.Context, name string, overlay image.Image) error {
	if err := r.sink.Show(ctx, name, overlay); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(r.out, "reviewing %s, press enter to continue or q to quit: ", name); err != nil {
		return err
	}
	answers := make(chan string, 1)
	go func() {
		line, err := r.in.ReadString('\n')
		if err != nil && line == "" {
			// closed input has nobody left to answer
			line = "q"
		}
		answers <- line
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case line := <-answers:
		answer := strings.TrimSpace(line)
		if strings.EqualFold(answer, "q") || strings.ContainsRune(line, '\x1b') {
			r.logger.Infow("corner review quit", "image", name)
			return ErrReviewAborted
		}
		return nil
	}
}
