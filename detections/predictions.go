package detections

import (
	"fmt"
	"math"
	"sort"

	"github.com/Tutortoise/object-detection-service/models"
)

// maxNMSCandidates caps how many boxes enter suppression.
const maxNMSCandidates = 30000

// Prediction is the raw YOLOv8 head output laid out as
// [4+nc][anchors]: cx, cy, w, h rows followed by one score row per class.
type Prediction struct {
	Data     []float32
	Channels int
	Anchors  int
}

type candidate struct {
	box   [4]float64
	score float32
	class int
}

// decodePredictions keeps anchors whose best class score exceeds conf and
// maps their boxes from letterboxed input space onto a width x height
// source image.
func decodePredictions(p Prediction, conf float32, lb letterbox, width, height int) ([]candidate, error) {
	if p.Channels <= 4 {
		return nil, fmt.Errorf("prediction has %d channels, need more than 4", p.Channels)
	}
	if expected := p.Channels * p.Anchors; len(p.Data) != expected {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(p.Data), expected)
	}

	numClasses := p.Channels - 4
	n := p.Anchors
	candidates := make([]candidate, 0, 100)

	for i := 0; i < n; i++ {
		best, class := float32(0), -1
		for c := 0; c < numClasses; c++ {
			if s := p.Data[(4+c)*n+i]; s > best {
				best, class = s, c
			}
		}
		if class < 0 || best <= conf {
			continue
		}

		cx, cy := p.Data[i], p.Data[n+i]
		w, h := p.Data[2*n+i], p.Data[3*n+i]

		x1, y1 := lb.toSource(cx-w/2, cy-h/2)
		x2, y2 := lb.toSource(cx+w/2, cy+h/2)

		candidates = append(candidates, candidate{
			box: [4]float64{
				clamp(x1, 0, float64(width)),
				clamp(y1, 0, float64(height)),
				clamp(x2, 0, float64(width)),
				clamp(y2, 0, float64(height)),
			},
			score: best,
			class: class,
		})
	}

	return candidates, nil
}

// nonMaxSuppression greedily keeps the highest scoring box of each class
// and drops same-class boxes overlapping it by more than iouThreshold.
func nonMaxSuppression(candidates []candidate, iouThreshold float64, maxDetections int) []candidate {
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxNMSCandidates {
		candidates = candidates[:maxNMSCandidates]
	}

	kept := make([]candidate, 0, min(len(candidates), maxDetections))
	suppressed := make([]bool, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		if len(kept) == maxDetections {
			break
		}
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] || candidates[j].class != candidates[i].class {
				continue
			}
			if calculateIOU(candidates[i].box, candidates[j].box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func calculateIOU(box1, box2 [4]float64) float64 {
	x1 := math.Max(box1[0], box2[0])
	y1 := math.Max(box1[1], box2[1])
	x2 := math.Min(box1[2], box2[2])
	y2 := math.Min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func toDetections(candidates []candidate, names []string) []models.Detection {
	detections := make([]models.Detection, 0, len(candidates))
	for _, c := range candidates {
		label := fallbackLabel(c.class)
		if c.class < len(names) {
			label = names[c.class]
		}
		detections = append(detections, models.Detection{
			BBox: [4]int32{
				int32(math.Round(c.box[0])),
				int32(math.Round(c.box[1])),
				int32(math.Round(c.box[2])),
				int32(math.Round(c.box[3])),
			},
			ClassID:    c.class,
			Label:      label,
			Confidence: c.score,
		})
	}
	return detections
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
