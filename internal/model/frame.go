package model

import (
	"fmt"
	"image"
)

// Frame is a decoded image: a dense, row-major, interleaved 8-bit buffer.
type Frame struct {
	Width    int    `json:"width" msgpack:"width"`
	Height   int    `json:"height" msgpack:"height"`
	Channels int    `json:"channels" msgpack:"channels"`
	Pix      []byte `json:"-" msgpack:"-"`
}

func (f Frame) Stride() int {
	return f.Width * f.Channels
}

func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if f.Channels != 1 && f.Channels != 3 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	if len(f.Pix) != f.Stride()*f.Height {
		return fmt.Errorf("pixel buffer has %d bytes, want %d", len(f.Pix), f.Stride()*f.Height)
	}
	return nil
}

// Image wraps the frame for the image/* encoders without copying gray frames.
func (f Frame) Image() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)
	if f.Channels == 1 {
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: rect}, nil
	}
	out := image.NewRGBA(rect)
	for i, j := 0, 0; i < len(f.Pix); i, j = i+3, j+4 {
		out.Pix[j] = f.Pix[i]
		out.Pix[j+1] = f.Pix[i+1]
		out.Pix[j+2] = f.Pix[i+2]
		out.Pix[j+3] = 0xff
	}
	return out, nil
}
