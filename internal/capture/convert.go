package capture

import (
	"fmt"
	"image"
)

// FromBGRA copies a 32bpp BGRA/BGRX buffer into a fresh top-down RGBA image
// with opaque alpha. bottomUp flips rows for DIB-style buffers. The source
// buffer is never retained, so platform memory may be released right after.
func FromBGRA(src []byte, width, height, stride int, bottomUp bool) (*image.RGBA, error) {
	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: empty %dx%d buffer", ErrUnavailable, width, height)
	}
	if stride < width*4 {
		return nil, fmt.Errorf("%w: stride %d too small for width %d", ErrUnavailable, stride, width)
	}
	if need := stride*(height-1) + width*4; len(src) < need {
		return nil, fmt.Errorf("%w: short pixel buffer (%d < %d bytes)", ErrUnavailable, len(src), need)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		sy := y
		if bottomUp {
			sy = height - 1 - y
		}
		srow := src[sy*stride : sy*stride+width*4]
		drow := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for i := 0; i < len(srow); i += 4 {
			drow[i] = srow[i+2]
			drow[i+1] = srow[i+1]
			drow[i+2] = srow[i]
			drow[i+3] = 255
		}
	}
	return img, nil
}

// FlipVertical returns a copy of img with its rows reversed.
func FlipVertical(img *image.RGBA) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Max.Y-1-y):]
		copy(out.Pix[y*out.Stride:y*out.Stride+rowLen], src[:rowLen])
	}
	return out
}
