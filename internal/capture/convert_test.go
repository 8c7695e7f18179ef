package capture

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestFromBGRASwizzlesAndForcesAlpha(t *testing.T) {
	// 2x1: blue-ish then red-ish, with junk alpha
	src := []byte{
		10, 20, 30, 0,
		40, 50, 60, 7,
	}
	img, err := FromBGRA(src, 2, 1, 8, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(0, 0); got != (color.RGBA{30, 20, 10, 255}) {
		t.Fatalf("pixel 0 = %v", got)
	}
	if got := img.RGBAAt(1, 0); got != (color.RGBA{60, 50, 40, 255}) {
		t.Fatalf("pixel 1 = %v", got)
	}

	src[0] = 99
	if img.RGBAAt(0, 0).B != 10 {
		t.Fatal("FromBGRA must not alias the source buffer")
	}
}

func TestFromBGRABottomUpAndStride(t *testing.T) {
	// 1x2 with 8-byte stride; bottom row stored first
	src := []byte{
		1, 1, 1, 0, 0xEE, 0xEE, 0xEE, 0xEE,
		2, 2, 2, 0, 0xEE, 0xEE, 0xEE, 0xEE,
	}
	img, err := FromBGRA(src, 1, 2, 8, true)
	if err != nil {
		t.Fatal(err)
	}
	if img.RGBAAt(0, 0).R != 2 || img.RGBAAt(0, 1).R != 1 {
		t.Fatalf("rows not flipped: top=%v bottom=%v", img.RGBAAt(0, 0), img.RGBAAt(0, 1))
	}
}

func TestFromBGRARejectsBadBuffers(t *testing.T) {
	cases := []struct {
		name          string
		n, w, h, step int
	}{
		{"empty", 0, 0, 0, 0},
		{"short", 7, 2, 1, 8},
		{"narrow stride", 16, 2, 2, 4},
	}
	for _, c := range cases {
		_, err := FromBGRA(make([]byte, c.n), c.w, c.h, c.step, false)
		if !errors.Is(err, ErrUnavailable) {
			t.Errorf("%s: err = %v, want ErrUnavailable", c.name, err)
		}
	}
}

func TestFlipVertical(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 3))
	for y := 0; y < 3; y++ {
		img.SetRGBA(0, y, color.RGBA{uint8(y), 0, 0, 255})
	}
	out := FlipVertical(img)
	for y := 0; y < 3; y++ {
		if got := out.RGBAAt(0, y).R; got != uint8(2-y) {
			t.Fatalf("row %d = %d, want %d", y, got, 2-y)
		}
	}
}

func TestFrameCropAndClone(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(2, 3, color.RGBA{9, 9, 9, 255})
	f := NewFrame(img, SourceWindow)

	c := f.Crop(Rect{2, 2, 2, 2})
	if c.Width() != 2 || c.Height() != 2 {
		t.Fatalf("crop size = %dx%d", c.Width(), c.Height())
	}
	if c.RGBAAt(0, 1).R != 9 {
		t.Fatalf("crop lost pixel: %v", c.RGBAAt(0, 1))
	}

	w := f.CloneRGBA()
	w.SetRGBA(2, 3, color.RGBA{})
	if f.RGBAAt(2, 3).R != 9 {
		t.Fatal("CloneRGBA must not alias the frame")
	}
}

func TestNewFrameRebasesOffsetImages(t *testing.T) {
	img := image.NewRGBA(image.Rect(5, 5, 8, 9))
	f := NewFrame(img, SourceScreen)
	if f.Bounds() != image.Rect(0, 0, 3, 4) {
		t.Fatalf("bounds = %v", f.Bounds())
	}
}
