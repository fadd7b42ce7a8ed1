package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/pion/mediadevices"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
)

var errClosed = errors.New("camera has been closed")

// WebcamConfig is the capture format requested from a webcam. Zero values let the driver pick.
type WebcamConfig struct {
	Width     int     `json:"width_px,omitempty"`
	Height    int     `json:"height_px,omitempty"`
	FrameRate float32 `json:"frame_rate,omitempty"`
	Format    string  `json:"format,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c WebcamConfig) Validate(path string) error {
	if c.Width < 0 || c.Height < 0 {
		return errors.Errorf("%s: got illegal negative dimensions for width_px and height_px (%d, %d)", path, c.Width, c.Height)
	}
	if c.FrameRate < 0 {
		return errors.Errorf("%s: got illegal negative frame rate (%.2f)", path, c.FrameRate)
	}
	return nil
}

// makeConstraints returns the constraints given to mediadevices to pick the video stream.
func makeConstraints(deviceID string, conf WebcamConfig, logger logging.Logger) mediadevices.MediaStreamConstraints {
	return mediadevices.MediaStreamConstraints{
		Video: func(constraint *mediadevices.MediaTrackConstraints) {
			constraint.DeviceID = prop.StringExact(deviceID)
			if conf.Width > 0 {
				constraint.Width = prop.IntExact(conf.Width)
			} else {
				constraint.Width = prop.IntRanged{Min: 0, Ideal: 640, Max: 4096}
			}
			if conf.Height > 0 {
				constraint.Height = prop.IntExact(conf.Height)
			} else {
				constraint.Height = prop.IntRanged{Min: 0, Ideal: 480, Max: 2160}
			}
			if conf.FrameRate > 0 {
				constraint.FrameRate = prop.FloatExact(conf.FrameRate)
			} else {
				constraint.FrameRate = prop.FloatRanged{Min: 0, Ideal: 30, Max: 140}
			}
			if conf.Format == "" {
				constraint.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatI420,
					frame.FormatYUY2,
					frame.FormatUYVY,
					frame.FormatRGBA,
					frame.FormatMJPEG,
					frame.FormatNV12,
				}
			} else {
				constraint.FrameFormat = prop.FrameFormatExact(conf.Format)
			}
			logger.Debugw("webcam constraints", "device", deviceID, "constraints", fmt.Sprintf("%v", constraint))
		},
	}
}

// videoDevices lists the video inputs known to mediadevices, in enumeration order.
func videoDevices() []mediadevices.MediaDeviceInfo {
	mediadevicescamera.Initialize()
	var out []mediadevices.MediaDeviceInfo
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.VideoInput {
			out = append(out, d)
		}
	}
	return out
}

// webcam is a FrameSource reading from a video device.
type webcam struct {
	mu     sync.Mutex
	label  string
	track  mediadevices.Track
	reader video.Reader
	closed bool
	logger logging.Logger
}

// NewWebcam opens the index-th video device.
func NewWebcam(ctx context.Context, index int, conf WebcamConfig, logger logging.Logger) (FrameSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := conf.Validate("webcam"); err != nil {
		return nil, err
	}
	devices := videoDevices()
	if index < 0 || index >= len(devices) {
		return nil, errors.Errorf("cannot open camera %d: found %d video devices", index, len(devices))
	}
	device := devices[index]
	stream, err := mediadevices.GetUserMedia(makeConstraints(device.DeviceID, conf, logger))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open camera %d (%s)", index, device.Label)
	}
	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.Errorf("camera %d (%s) has no video track", index, device.Label)
	}
	videoTrack, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		return nil, errors.Errorf("camera %d (%s) returned an unexpected track type %T", index, device.Label, tracks[0])
	}
	logger.Infow("opened camera", "index", index, "label", device.Label)
	return &webcam{
		label:  device.Label,
		track:  videoTrack,
		reader: videoTrack.NewReader(false),
		logger: logger,
	}, nil
}

func (c *webcam) Read(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, errClosed
	}
	img, release, err := c.reader.Read()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "cannot read from camera %s", c.label)
	}
	if release == nil {
		release = noRelease
	}
	return img, release, nil
}

func (c *webcam) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("webcam already closed")
	}
	c.closed = true
	return c.track.Close()
}
