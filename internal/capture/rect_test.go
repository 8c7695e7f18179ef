package capture

import "testing"

func TestClampCrop(t *testing.T) {
	tests := []struct {
		name string
		crop Rect
		w, h int
		want Rect
	}{
		{"inside", Rect{10, 20, 30, 40}, 100, 100, Rect{10, 20, 30, 40}},
		{"full", Rect{0, 0, 100, 80}, 100, 80, Rect{0, 0, 100, 80}},
		{"negative origin", Rect{-5, -7, 50, 50}, 100, 100, Rect{0, 0, 50, 50}},
		{"overflows right and bottom", Rect{90, 70, 50, 50}, 100, 80, Rect{90, 70, 10, 10}},
		{"origin past window", Rect{500, 500, 10, 10}, 100, 80, Rect{99, 79, 1, 1}},
		{"zero size", Rect{10, 10, 0, 0}, 100, 80, Rect{10, 10, 1, 1}},
		{"negative size", Rect{10, 10, -4, -9}, 100, 80, Rect{10, 10, 1, 1}},
		{"degenerate window", Rect{3, 3, 10, 10}, 0, 0, Rect{0, 0, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampCrop(tt.crop, tt.w, tt.h)
			if got != tt.want {
				t.Fatalf("ClampCrop(%v, %d, %d) = %v, want %v", tt.crop, tt.w, tt.h, got, tt.want)
			}
		})
	}
}

func TestClampCropAlwaysInside(t *testing.T) {
	for w := 1; w <= 9; w += 4 {
		for h := 1; h <= 9; h += 4 {
			for x := -3; x <= 12; x += 3 {
				for cw := -2; cw <= 14; cw += 4 {
					c := ClampCrop(Rect{X: x, Y: x, Width: cw, Height: cw}, w, h)
					if c.X < 0 || c.Y < 0 || c.Width < 1 || c.Height < 1 ||
						c.X+c.Width > w || c.Y+c.Height > h {
						t.Fatalf("crop %v escapes %dx%d window", c, w, h)
					}
				}
			}
		}
	}
}

func TestRectIntersect(t *testing.T) {
	a := Rect{0, 0, 800, 600}
	if got := a.Intersect(Rect{50, 50, 200, 200}); got != (Rect{50, 50, 200, 200}) {
		t.Fatalf("contained intersect = %v", got)
	}
	if got := a.Intersect(Rect{700, 500, 200, 200}); got != (Rect{700, 500, 100, 100}) {
		t.Fatalf("partial intersect = %v", got)
	}
	if got := a.Intersect(Rect{900, 0, 10, 10}); !got.Empty() {
		t.Fatalf("disjoint intersect = %v, want empty", got)
	}
}

func TestWindowScreenRect(t *testing.T) {
	win := Rect{100, 200, 640, 480}
	if got := WindowScreenRect(win, nil); got != win {
		t.Fatalf("uncropped = %v, want %v", got, win)
	}
	crop := Rect{600, 10, 100, 100}
	if got := WindowScreenRect(win, &crop); got != (Rect{700, 210, 40, 100}) {
		t.Fatalf("cropped = %v", got)
	}
}

func TestTargetValidate(t *testing.T) {
	if err := RegionTarget(Rect{0, 0, 0, 10}).Validate(); err == nil {
		t.Fatal("zero-width region should be invalid")
	}
	if err := WindowTarget(0, "", nil).Validate(); err == nil {
		t.Fatal("window target without id should be invalid")
	}
	crop := Rect{1, 2, 3, 4}
	tgt := WindowTarget(7, "editor", &crop)
	crop.X = 99
	if tgt.Crop.X != 1 {
		t.Fatal("WindowTarget must copy the crop")
	}
	if err := tgt.Validate(); err != nil {
		t.Fatalf("valid target rejected: %v", err)
	}
}
