// Package display shows the frames of the live loop: written to files, served over HTTP or both.
package display

import (
	"context"
	"image"

	"go.uber.org/multierr"
)

// A Sink shows named frames. Showing a frame under a name replaces the previous frame of that
// name, like a window being redrawn.
type Sink interface {
	Show(ctx context.Context, name string, img image.Image) error
	Close() error
}

// NopSink discards every frame.
type NopSink struct{}

// Show does nothing.
func (NopSink) Show(ctx context.Context, name string, img image.Image) error {
	return nil
}

// Close does nothing.
func (NopSink) Close() error {
	return nil
}

type multiSink struct {
	sinks []Sink
}

// NewMultiSink returns a Sink showing every frame on all of sinks.
func NewMultiSink(sinks ...Sink) Sink {
	return &multiSink{sinks: sinks}
}

func (m *multiSink) Show(ctx context.Context, name string, img image.Image) error {
	var err error
	for _, s := range m.sinks {
		err = multierr.Combine(err, s.Show(ctx, name, img))
	}
	return err
}

func (m *multiSink) Close() error {
	var err error
	for _, s := range m.sinks {
		err = multierr.Combine(err, s.Close())
	}
	return err
}
