package source

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petems/visiontone/internal/frame"
)

var (
	// ErrDeviceOpen is returned when a capture device cannot be opened.
	ErrDeviceOpen = errors.New("failed to open capture device")
	// ErrReadFailed is returned by Device.Read when no frame could be grabbed.
	ErrReadFailed = errors.New("failed to read frame")
	// ErrNoImage is returned when a still-image source has nothing to emit.
	ErrNoImage = errors.New("no still image loaded")
	// ErrDeviceClosed is returned by reads on a released device.
	ErrDeviceClosed = errors.New("capture device closed")
)

// MaxProbeIndex bounds the device indices probed by EnumerateDevices.
const MaxProbeIndex = 10

// Device is an open frame origin. Implementations need not be safe for
// concurrent use; Source serializes Read and Close.
type Device interface {
	Read() (*frame.Frame, error)
	Close() error
}

// Opener opens capture devices by index.
type Opener interface {
	Open(index int) (Device, error)
}

// lockedDevice serializes Read and Close. Stop may release a device while a
// worker that missed the join timeout is still reading, so Close waits for
// the read in flight and later reads fail with ErrDeviceClosed.
type lockedDevice struct {
	mu     sync.Mutex
	dev    Device
	closed bool
}

func newLockedDevice(dev Device) *lockedDevice {
	return &lockedDevice{dev: dev}
}

func (d *lockedDevice) Read() (*frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrDeviceClosed
	}
	return d.dev.Read()
}

func (d *lockedDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.dev.Close()
}

// stillDevice re-emits a copy of one image on every read.
type stillDevice struct {
	img *frame.Frame
}

func (d *stillDevice) Read() (*frame.Frame, error) {
	if d.img == nil {
		return nil, ErrNoImage
	}
	return d.img.Clone(), nil
}

func (d *stillDevice) Close() error { return nil }

// stillOpener serves a pre-loaded image in place of a device.
type stillOpener struct {
	img *frame.Frame
}

func (o stillOpener) Open(int) (Device, error) {
	if o.img == nil || len(o.img.Pix) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrDeviceOpen, ErrNoImage)
	}
	return &stillDevice{img: o.img}, nil
}

// EnumerateDevices probes indices [0, MaxProbeIndex) and returns those that
// open, closing each device right after the probe.
func EnumerateDevices(opener Opener) []int {
	var found []int
	for i := 0; i < MaxProbeIndex; i++ {
		dev, err := opener.Open(i)
		if err != nil {
			continue
		}
		dev.Close()
		found = append(found, i)
	}
	return found
}
