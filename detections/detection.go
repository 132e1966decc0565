package detections

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/Tutortoise/object-detection-service/models"
)

// Runner executes the model. ModelSession is the production implementation.
type Runner interface {
	InputSize(requested int) int
	Infer(input []float32, size int) (Prediction, error)
	Labels() []string
}

type Options struct {
	Confidence float32
	ImageSize  int
}

type DetectorConfig struct {
	IoUThreshold  float64
	MaxDetections int
}

// ProcessingError tags a detection failure with the stage it happened in.
type ProcessingError struct {
	Stage string
	Cause error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Cause)
	}
	return e.Stage
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

var ErrNilImage = errors.New("nil image")

type Detector struct {
	runner        Runner
	iouThreshold  float64
	maxDetections int
}

func NewDetector(runner Runner, cfg DetectorConfig) *Detector {
	if cfg.IoUThreshold <= 0 || cfg.IoUThreshold > 1 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	if cfg.MaxDetections <= 0 {
		cfg.MaxDetections = DefaultMaxDetections
	}
	return &Detector{
		runner:        runner,
		iouThreshold:  cfg.IoUThreshold,
		maxDetections: cfg.MaxDetections,
	}
}

// Detect runs a single synchronous pass over img and renders the result.
func (d *Detector) Detect(ctx context.Context, img image.Image, opts Options, timings *models.ProcessingTimings) (*models.Result, error) {
	if img == nil {
		return nil, &ProcessingError{Stage: "prepare input", Cause: ErrNilImage}
	}
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	if opts.Confidence <= 0 || opts.Confidence >= 1 {
		opts.Confidence = DefaultConfThreshold
	}
	if opts.ImageSize <= 0 {
		opts.ImageSize = DefaultImageSize
	}

	size := d.runner.InputSize(opts.ImageSize)
	bounds := img.Bounds()

	letterboxStart := time.Now()
	canvas, lb := letterboxImage(img, size)
	input := getInputBuffer(size)
	defer putInputBuffer(size, input)
	fillTensor(input, canvas)
	timings.Letterbox = time.Since(letterboxStart)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inferStart := time.Now()
	prediction, err := d.runner.Infer(input, size)
	if err != nil {
		return nil, &ProcessingError{Stage: "model inference", Cause: err}
	}
	timings.Inference = time.Since(inferStart)

	postStart := time.Now()
	candidates, err := decodePredictions(prediction, opts.Confidence, lb, bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, &ProcessingError{Stage: "process predictions", Cause: err}
	}
	kept := nonMaxSuppression(candidates, d.iouThreshold, d.maxDetections)
	detections := toDetections(kept, d.runner.Labels())
	timings.Postprocess = time.Since(postStart)

	renderStart := time.Now()
	annotated := Annotate(img, detections)
	timings.Render = time.Since(renderStart)

	return &models.Result{
		Detections: detections,
		Annotated:  annotated,
		InputSize:  size,
	}, nil
}
