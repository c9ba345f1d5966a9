// Package webcam opens camera devices through OpenCV.
package webcam

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/petems/visiontone/internal/frame"
	"github.com/petems/visiontone/internal/source"
)

// Opener opens OpenCV capture devices and requests the configured format.
type Opener struct {
	Width  int
	Height int
	FPS    int
}

// Open opens camera index and applies the requested resolution and rate.
func (o Opener) Open(index int) (source.Device, error) {
	capture, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %w", source.ErrDeviceOpen, index, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w %d", source.ErrDeviceOpen, index)
	}

	if o.Width > 0 && o.Height > 0 {
		capture.Set(gocv.VideoCaptureFrameWidth, float64(o.Width))
		capture.Set(gocv.VideoCaptureFrameHeight, float64(o.Height))
	}
	if o.FPS > 0 {
		capture.Set(gocv.VideoCaptureFPS, float64(o.FPS))
	}

	return &device{
		capture: capture,
		bgr:     gocv.NewMat(),
		rgb:     gocv.NewMat(),
	}, nil
}

type device struct {
	capture *gocv.VideoCapture
	bgr     gocv.Mat
	rgb     gocv.Mat
}

// Read grabs one frame and converts it from OpenCV's BGR layout to RGB.
func (d *device) Read() (*frame.Frame, error) {
	if ok := d.capture.Read(&d.bgr); !ok || d.bgr.Empty() {
		return nil, source.ErrReadFailed
	}

	gocv.CvtColor(d.bgr, &d.rgb, gocv.ColorBGRToRGB)

	pix := d.rgb.ToBytes()
	return frame.New(d.rgb.Cols(), d.rgb.Rows(), d.rgb.Channels(), pix)
}

func (d *device) Close() error {
	d.bgr.Close()
	d.rgb.Close()
	return d.capture.Close()
}
