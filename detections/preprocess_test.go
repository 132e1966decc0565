package detections

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/disintegration/imaging"
)

func TestAnchorCount(t *testing.T) {
	tests := map[int]int{
		640: 8400,
		320: 2100,
		32:  21,
	}
	for size, want := range tests {
		if got := AnchorCount(size); got != want {
			t.Errorf("AnchorCount(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestLetterboxImage(t *testing.T) {
	tests := []struct {
		name      string
		w, h      int
		size      int
		wantScale float64
		wantPadX  float64
		wantPadY  float64
	}{
		{name: "landscape fits width", w: 640, h: 480, size: 640, wantScale: 1, wantPadX: 0, wantPadY: 80},
		{name: "portrait downscale", w: 480, h: 960, size: 320, wantScale: 1.0 / 3, wantPadX: 80, wantPadY: 0},
		{name: "square upscale", w: 100, h: 100, size: 640, wantScale: 6.4, wantPadX: 0, wantPadY: 0},
		{name: "wide strip", w: 128, h: 64, size: 64, wantScale: 0.5, wantPadX: 0, wantPadY: 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := imaging.New(tt.w, tt.h, color.NRGBA{R: 255, A: 255})
			canvas, lb := letterboxImage(src, tt.size)

			if canvas.Bounds().Dx() != tt.size || canvas.Bounds().Dy() != tt.size {
				t.Fatalf("canvas is %v, want %dx%d", canvas.Bounds(), tt.size, tt.size)
			}
			if math.Abs(lb.scale-tt.wantScale) > 1e-9 {
				t.Errorf("scale = %v, want %v", lb.scale, tt.wantScale)
			}
			if lb.padX != tt.wantPadX || lb.padY != tt.wantPadY {
				t.Errorf("pad = (%v, %v), want (%v, %v)", lb.padX, lb.padY, tt.wantPadX, tt.wantPadY)
			}
		})
	}
}

func TestLetterboxPadsWithGray(t *testing.T) {
	src := imaging.New(640, 480, color.NRGBA{R: 255, A: 255})
	canvas, _ := letterboxImage(src, 640)

	if got := canvas.NRGBAAt(10, 10); got != (color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255}) {
		t.Errorf("pad pixel = %v, want gray %d", got, PadValue)
	}
	if got := canvas.NRGBAAt(320, 320); got.R != 255 || got.G != 0 {
		t.Errorf("image pixel = %v, want red", got)
	}
}

func TestToSourceInvertsLetterbox(t *testing.T) {
	lb := letterbox{size: 64, scale: 0.5, padX: 0, padY: 16}
	x, y := lb.toSource(32, 48)
	if x != 64 || y != 64 {
		t.Errorf("toSource(32, 48) = (%v, %v), want (64, 64)", x, y)
	}
}

func TestFillTensor(t *testing.T) {
	pic := image.NewNRGBA(image.Rect(0, 0, 4, 3))
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			pic.SetNRGBA(x, y, color.NRGBA{R: 255, G: 51, B: uint8(x * 10), A: 0})
		}
	}

	dst := make([]float32, 3*4*3)
	fillTensor(dst, pic)

	plane := 12
	for i := 0; i < plane; i++ {
		if dst[i] != 1 {
			t.Fatalf("R[%d] = %v, want 1", i, dst[i])
		}
		if math.Abs(float64(dst[plane+i])-0.2) > 1e-6 {
			t.Fatalf("G[%d] = %v, want 0.2", i, dst[plane+i])
		}
	}
	// pixel (3, 2) blue channel
	if got, want := dst[2*plane+2*4+3], float32(30)/255; got != want {
		t.Errorf("B(3,2) = %v, want %v", got, want)
	}
}

func TestInputBufferPoolSizes(t *testing.T) {
	buf := getInputBuffer(32)
	if len(buf) != 3*32*32 {
		t.Fatalf("buffer for 32 has length %d", len(buf))
	}
	putInputBuffer(32, buf)

	buf = getInputBuffer(64)
	if len(buf) != 3*64*64 {
		t.Fatalf("buffer for 64 has length %d", len(buf))
	}
	putInputBuffer(64, buf)
}
