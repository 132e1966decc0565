package detections

import (
	"math"
	"testing"
)

// newPrediction builds an empty (4+nc) x anchors head output.
func newPrediction(numClasses, anchors int) Prediction {
	return Prediction{
		Data:     make([]float32, (4+numClasses)*anchors),
		Channels: 4 + numClasses,
		Anchors:  anchors,
	}
}

func (p Prediction) set(anchor int, cx, cy, w, h float32, class int, score float32) {
	n := p.Anchors
	p.Data[anchor] = cx
	p.Data[n+anchor] = cy
	p.Data[2*n+anchor] = w
	p.Data[3*n+anchor] = h
	p.Data[(4+class)*n+anchor] = score
}

func TestDecodePredictions(t *testing.T) {
	p := newPrediction(2, 10)
	p.set(0, 32, 48, 20, 10, 1, 0.9)
	p.set(3, 10, 10, 4, 4, 0, 0.25) // equal to threshold, dropped
	p.set(7, 60, 20, 40, 40, 0, 0.6)

	lb := letterbox{size: 64, scale: 0.5, padX: 0, padY: 16}
	got, err := decodePredictions(p, 0.25, lb, 128, 64)
	if err != nil {
		t.Fatalf("decodePredictions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2", len(got))
	}

	first := got[0]
	if first.class != 1 || first.score != 0.9 {
		t.Errorf("first = class %d score %v, want class 1 score 0.9", first.class, first.score)
	}
	want := [4]float64{44, 54, 84, 64}
	for i := range want {
		if math.Abs(first.box[i]-want[i]) > 1e-6 {
			t.Errorf("first box = %v, want %v", first.box, want)
			break
		}
	}

	// (60±20, 20±20) in input space maps past the right and top edges.
	second := got[1]
	if second.box[0] != 80 || second.box[1] != 0 || second.box[2] != 128 || second.box[3] != 48 {
		t.Errorf("second box = %v, want clipped [80 0 128 48]", second.box)
	}
}

func TestDecodePredictionsRejectsBadShape(t *testing.T) {
	p := Prediction{Data: make([]float32, 10), Channels: 6, Anchors: 3}
	if _, err := decodePredictions(p, 0.25, letterbox{scale: 1}, 10, 10); err == nil {
		t.Error("expected error for mismatched prediction length")
	}

	p = Prediction{Data: make([]float32, 12), Channels: 4, Anchors: 3}
	if _, err := decodePredictions(p, 0.25, letterbox{scale: 1}, 10, 10); err == nil {
		t.Error("expected error for prediction without class rows")
	}
}

func TestNonMaxSuppression(t *testing.T) {
	candidates := []candidate{
		{box: [4]float64{0, 0, 10, 10}, score: 0.6, class: 0},
		{box: [4]float64{1, 1, 11, 11}, score: 0.9, class: 0},
		{box: [4]float64{1, 1, 11, 11}, score: 0.5, class: 1},
		{box: [4]float64{50, 50, 60, 60}, score: 0.4, class: 0},
	}

	kept := nonMaxSuppression(candidates, 0.5, 300)
	if len(kept) != 3 {
		t.Fatalf("kept %d boxes, want 3: %+v", len(kept), kept)
	}
	if kept[0].score != 0.9 {
		t.Errorf("highest score should come first, got %v", kept[0].score)
	}
	for _, k := range kept {
		if k.class == 0 && k.score == 0.6 {
			t.Errorf("overlapping lower-score box of the same class was kept")
		}
	}
}

func TestNonMaxSuppressionCapsDetections(t *testing.T) {
	var candidates []candidate
	for i := 0; i < 10; i++ {
		x := float64(i * 20)
		candidates = append(candidates, candidate{box: [4]float64{x, 0, x + 10, 10}, score: float32(i) / 10, class: 0})
	}

	kept := nonMaxSuppression(candidates, 0.5, 4)
	if len(kept) != 4 {
		t.Fatalf("kept %d, want 4", len(kept))
	}
	if kept[0].score != 0.9 || kept[3].score != 0.6 {
		t.Errorf("unexpected order: %+v", kept)
	}
}

func TestNonMaxSuppressionEmpty(t *testing.T) {
	if kept := nonMaxSuppression(nil, 0.5, 10); kept != nil {
		t.Errorf("expected nil, got %v", kept)
	}
}

func TestCalculateIOU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float64
		want float64
	}{
		{"identical", [4]float64{0, 0, 10, 10}, [4]float64{0, 0, 10, 10}, 1},
		{"disjoint", [4]float64{0, 0, 10, 10}, [4]float64{20, 20, 30, 30}, 0},
		{"half overlap", [4]float64{0, 0, 10, 10}, [4]float64{5, 0, 15, 10}, 50.0 / 150.0},
		{"degenerate", [4]float64{0, 0, 0, 0}, [4]float64{0, 0, 0, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := calculateIOU(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("calculateIOU = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToDetectionsLabels(t *testing.T) {
	dets := toDetections([]candidate{
		{box: [4]float64{1.4, 2.6, 10.5, 20}, score: 0.8, class: 0},
		{box: [4]float64{0, 0, 1, 1}, score: 0.7, class: 5},
	}, []string{"person"})

	if dets[0].Label != "person" || dets[0].BBox != [4]int32{1, 3, 11, 20} {
		t.Errorf("first detection = %+v", dets[0])
	}
	if dets[1].Label != "class5" {
		t.Errorf("unknown class label = %q, want class5", dets[1].Label)
	}
}
