package frame

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Frame is a raw captured image: Height rows of Width pixels, each pixel
// holding Channels interleaved samples. Channel order is RGB(A) or gray.
type Frame struct {
	Width      int
	Height     int
	Channels   int
	Pix        []uint8
	Seq        uint64
	CapturedAt time.Time
}

// New wraps pix as a frame. len(pix) must be width*height*channels.
func New(width, height, channels int, pix []uint8) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if channels != 1 && channels != 3 && channels != 4 {
		return nil, fmt.Errorf("unsupported channel count %d", channels)
	}
	if len(pix) != width*height*channels {
		return nil, fmt.Errorf("pixel buffer has %d bytes, want %d", len(pix), width*height*channels)
	}
	return &Frame{Width: width, Height: height, Channels: channels, Pix: pix}, nil
}

// At returns the samples of pixel (row, col).
func (f *Frame) At(row, col int) []uint8 {
	i := (row*f.Width + col) * f.Channels
	return f.Pix[i : i+f.Channels]
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = append([]uint8(nil), f.Pix...)
	return &c
}

// Crop returns the sub-rectangle r of f, clipped to the frame bounds.
// ok is false when the clipped rectangle is empty.
func (f *Frame) Crop(r image.Rectangle) (*Frame, bool) {
	r = r.Intersect(image.Rect(0, 0, f.Width, f.Height))
	if r.Empty() {
		return nil, false
	}
	out := &Frame{
		Width:      r.Dx(),
		Height:     r.Dy(),
		Channels:   f.Channels,
		Pix:        make([]uint8, r.Dx()*r.Dy()*f.Channels),
		Seq:        f.Seq,
		CapturedAt: f.CapturedAt,
	}
	rowBytes := r.Dx() * f.Channels
	for y := 0; y < r.Dy(); y++ {
		src := ((r.Min.Y+y)*f.Width + r.Min.X) * f.Channels
		copy(out.Pix[y*rowBytes:(y+1)*rowBytes], f.Pix[src:src+rowBytes])
	}
	return out, true
}

// FromImage converts any image into an RGB frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := &Frame{
		Width:    b.Dx(),
		Height:   b.Dy(),
		Channels: 3,
		Pix:      make([]uint8, b.Dx()*b.Dy()*3),
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
			i += 3
		}
	}
	return f
}

// Image returns f as an RGBA image.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for row := 0; row < f.Height; row++ {
		for col := 0; col < f.Width; col++ {
			px := f.At(row, col)
			c := color.RGBA{A: 255}
			switch f.Channels {
			case 1:
				c.R, c.G, c.B = px[0], px[0], px[0]
			default:
				c.R, c.G, c.B = px[0], px[1], px[2]
			}
			img.SetRGBA(col, row, c)
		}
	}
	return img
}

// Resize scales f to width×height with bilinear interpolation. A frame that
// already has the requested size is returned unchanged.
func Resize(f *Frame, width, height int) *Frame {
	if f.Width == width && f.Height == height {
		return f
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image(), image.Rect(0, 0, f.Width, f.Height), xdraw.Src, nil)

	out := FromImage(dst)
	out.Seq = f.Seq
	out.CapturedAt = f.CapturedAt
	return out
}

// Load decodes a PNG, JPEG, GIF or WEBP file into a frame.
func Load(path string) (*Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return FromImage(img), nil
}
