// Package pixel defines the BGRA pixel buffers exchanged between framebuffer
// streams, the video recorder and the screenshot writer.
package pixel

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// BytesPerPixel is fixed by the BGRA layout.
const BytesPerPixel = 4

// Buffer is a BGRA frame. Stride may exceed Width*4 when rows are padded.
type Buffer struct {
	Width  int
	Height int
	Stride int
	Data   []byte
}

// New allocates a zeroed, tightly packed buffer.
func New(width, height int) Buffer {
	return Buffer{
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		Data:   make([]byte, width*height*BytesPerPixel),
	}
}

// FromImage converts any image into a packed BGRA buffer.
func FromImage(img image.Image) Buffer {
	bounds := img.Bounds()
	buf := New(bounds.Dx(), bounds.Dy())
	for y := 0; y < buf.Height; y++ {
		row := buf.Row(y)
		for x := 0; x < buf.Width; x++ {
			c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := x * BytesPerPixel
			row[i] = c.B
			row[i+1] = c.G
			row[i+2] = c.R
			row[i+3] = c.A
		}
	}
	return buf
}

// Validate checks that the declared geometry fits the backing slice.
func (b Buffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("invalid dimensions %dx%d", b.Width, b.Height)
	}
	if b.Stride < b.Width*BytesPerPixel {
		return fmt.Errorf("stride %d shorter than row of %d pixels", b.Stride, b.Width)
	}
	if len(b.Data) < b.Stride*(b.Height-1)+b.Width*BytesPerPixel {
		return errors.New("pixel data shorter than declared geometry")
	}
	return nil
}

// Row returns the visible bytes of row y.
func (b Buffer) Row(y int) []byte {
	start := y * b.Stride
	return b.Data[start : start+b.Width*BytesPerPixel]
}

// Packed returns the pixels without row padding. It returns the backing slice
// when the buffer is already packed.
func (b Buffer) Packed() []byte {
	rowLen := b.Width * BytesPerPixel
	if b.Stride == rowLen {
		return b.Data[:rowLen*b.Height]
	}
	out := make([]byte, 0, rowLen*b.Height)
	for y := 0; y < b.Height; y++ {
		out = append(out, b.Row(y)...)
	}
	return out
}

// Image converts the buffer into an NRGBA image.
func (b Buffer) Image() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		src := b.Row(y)
		dst := img.Pix[y*img.Stride : y*img.Stride+b.Width*4]
		for x := 0; x < b.Width; x++ {
			i := x * BytesPerPixel
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
			dst[i+3] = src[i+3]
		}
	}
	return img
}
