package models

import (
	"image"
	"time"
)

type Detection struct {
	BBox       [4]int32 `json:"bbox"`
	ClassID    int      `json:"class_id"`
	Label      string   `json:"label"`
	Confidence float32  `json:"confidence"`
}

// Result is the outcome of one detection pass over a single image.
type Result struct {
	Detections []Detection
	Annotated  image.Image
	InputSize  int
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Letterbox   time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Render      time.Duration
	Encode      time.Duration
	Total       time.Duration
}
