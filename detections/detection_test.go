package detections

import (
	"context"
	"errors"
	"image/color"
	"testing"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/disintegration/imaging"
)

type fakeRunner struct {
	native     int
	names      []string
	err        error
	fill       func(p Prediction)
	calls      int
	lastSize   int
	lastLength int
}

func (f *fakeRunner) InputSize(requested int) int {
	if f.native > 0 {
		return f.native
	}
	return requested
}

func (f *fakeRunner) Infer(input []float32, size int) (Prediction, error) {
	f.calls++
	f.lastSize = size
	f.lastLength = len(input)
	if f.err != nil {
		return Prediction{}, f.err
	}
	p := newPrediction(len(f.names), AnchorCount(size))
	if f.fill != nil {
		f.fill(p)
	}
	return p, nil
}

func (f *fakeRunner) Labels() []string {
	return f.names
}

func TestDetectorDetect(t *testing.T) {
	runner := &fakeRunner{
		names: []string{"person", "dog"},
		fill: func(p Prediction) {
			p.set(0, 32, 32, 20, 20, 1, 0.9)
			p.set(1, 33, 33, 20, 20, 1, 0.8) // suppressed by anchor 0
			p.set(2, 10, 40, 8, 8, 0, 0.1)   // below threshold
		},
	}
	detector := NewDetector(runner, DetectorConfig{})

	img := imaging.New(128, 64, color.NRGBA{G: 200, A: 255})
	timings := &models.ProcessingTimings{}
	result, err := detector.Detect(context.Background(), img, Options{Confidence: 0.25, ImageSize: 64}, timings)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}

	if runner.lastSize != 64 || runner.lastLength != 3*64*64 {
		t.Errorf("runner got size %d len %d", runner.lastSize, runner.lastLength)
	}
	if result.InputSize != 64 {
		t.Errorf("InputSize = %d, want 64", result.InputSize)
	}
	if len(result.Detections) != 1 {
		t.Fatalf("got %d detections, want 1: %+v", len(result.Detections), result.Detections)
	}

	d := result.Detections[0]
	if d.Label != "dog" || d.ClassID != 1 {
		t.Errorf("detection = %+v, want dog", d)
	}
	if d.BBox != [4]int32{44, 12, 84, 52} {
		t.Errorf("bbox = %v, want [44 12 84 52]", d.BBox)
	}

	b := result.Annotated.Bounds()
	if b.Dx() != 128 || b.Dy() != 64 {
		t.Errorf("annotated is %dx%d, want 128x64", b.Dx(), b.Dy())
	}
}

func TestDetectorUsesNativeSize(t *testing.T) {
	runner := &fakeRunner{native: 32, names: []string{"a"}}
	detector := NewDetector(runner, DetectorConfig{IoUThreshold: 0.5, MaxDetections: 10})

	img := imaging.New(40, 40, color.NRGBA{A: 255})
	result, err := detector.Detect(context.Background(), img, Options{Confidence: 0.5, ImageSize: 640}, nil)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if runner.lastSize != 32 || result.InputSize != 32 {
		t.Errorf("static model should run at native size, got runner %d result %d", runner.lastSize, result.InputSize)
	}
	if len(result.Detections) != 0 {
		t.Errorf("expected no detections, got %v", result.Detections)
	}
}

func TestDetectorInferenceError(t *testing.T) {
	cause := errors.New("boom")
	runner := &fakeRunner{names: []string{"a"}, err: cause}
	detector := NewDetector(runner, DetectorConfig{})

	img := imaging.New(32, 32, color.NRGBA{A: 255})
	_, err := detector.Detect(context.Background(), img, Options{Confidence: 0.25, ImageSize: 32}, nil)

	var procErr *ProcessingError
	if !errors.As(err, &procErr) {
		t.Fatalf("expected ProcessingError, got %v", err)
	}
	if procErr.Stage != "model inference" || !errors.Is(err, cause) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDetectorCancelledContext(t *testing.T) {
	runner := &fakeRunner{names: []string{"a"}}
	detector := NewDetector(runner, DetectorConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	img := imaging.New(32, 32, color.NRGBA{A: 255})
	_, err := detector.Detect(ctx, img, Options{Confidence: 0.25, ImageSize: 32}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if runner.calls != 0 {
		t.Errorf("runner should not be called after cancellation, got %d calls", runner.calls)
	}
}

func TestDetectorNilImage(t *testing.T) {
	detector := NewDetector(&fakeRunner{names: []string{"a"}}, DetectorConfig{})
	if _, err := detector.Detect(context.Background(), nil, Options{}, nil); !errors.Is(err, ErrNilImage) {
		t.Fatalf("expected ErrNilImage, got %v", err)
	}
}
