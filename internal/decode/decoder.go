package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"frame-poller/internal/model"
)

var ErrEmptyPayload = errors.New("empty image payload")

// Decoder turns encoded image bytes into a dense frame. Implementations must
// be safe for concurrent use.
type Decoder interface {
	Decode(raw []byte) (model.Frame, error)
}

// DecodeError is returned for malformed, truncated or unsupported payloads.
type DecodeError struct {
	Size int
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %d bytes: %v", e.Size, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ImageDecoder decodes JPEG, PNG, BMP and WebP into RGB (or gray) frames.
// It holds no state and is shared by every channel loop.
type ImageDecoder struct{}

func NewImageDecoder() *ImageDecoder {
	return &ImageDecoder{}
}

func (d *ImageDecoder) Decode(raw []byte) (model.Frame, error) {
	if len(raw) == 0 {
		return model.Frame{}, &DecodeError{Size: 0, Err: ErrEmptyPayload}
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return model.Frame{}, &DecodeError{Size: len(raw), Err: err}
	}
	b := img.Bounds()
	if b.Empty() {
		return model.Frame{}, &DecodeError{Size: len(raw), Err: fmt.Errorf("image has no pixels")}
	}
	return toFrame(img), nil
}

func toFrame(img image.Image) model.Frame {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	if g, ok := img.(*image.Gray); ok {
		pix := make([]byte, w*h)
		for y := 0; y < h; y++ {
			row := g.Pix[y*g.Stride : y*g.Stride+w]
			copy(pix[y*w:], row)
		}
		return model.Frame{Width: w, Height: h, Channels: 1, Pix: pix}
	}

	pix := make([]byte, w*h*3)
	i := 0
	switch src := img.(type) {
	case *image.YCbCr:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				yi := src.YOffset(x, y)
				ci := src.COffset(x, y)
				r, g, bl := color.YCbCrToRGB(src.Y[yi], src.Cb[ci], src.Cr[ci])
				pix[i], pix[i+1], pix[i+2] = r, g, bl
				i += 3
			}
		}
	case *image.NRGBA:
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			for x := 0; x < w*4; x += 4 {
				pix[i], pix[i+1], pix[i+2] = row[x], row[x+1], row[x+2]
				i += 3
			}
		}
	default:
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
				pix[i], pix[i+1], pix[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
	}
	return model.Frame{Width: w, Height: h, Channels: 3, Pix: pix}
}
