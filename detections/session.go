package detections

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

type ModelConfig struct {
	Path           string
	IntraOpThreads int
	InterOpThreads int
}

// ModelInfo describes the tensors of a loaded model. NativeSize and
// Anchors are zero when the corresponding dimensions are dynamic.
type ModelInfo struct {
	InputName  string   `json:"input_name"`
	OutputName string   `json:"output_name"`
	NativeSize int      `json:"native_size"`
	Channels   int      `json:"channels"`
	Anchors    int      `json:"anchors"`
	Stride     int      `json:"stride"`
	Names      []string `json:"names"`
}

func (i ModelInfo) Dynamic() bool {
	return i.NativeSize == 0
}

func (i ModelInfo) NumClasses() int {
	return i.Channels - 4
}

// ModelSession owns the ONNX Runtime session for a YOLOv8 detection model.
// A single DynamicAdvancedSession is safe for concurrent Run calls as long
// as every call brings its own tensors.
type ModelSession struct {
	session *ort.DynamicAdvancedSession
	info    ModelInfo
}

func NewModelSession(cfg ModelConfig) (*ModelSession, error) {
	info, err := inspectModel(cfg.Path)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	intra := cfg.IntraOpThreads
	if intra <= 0 {
		intra = runtime.NumCPU()
	}
	inter := cfg.InterOpThreads
	if inter <= 0 {
		inter = 1
	}
	if err := options.SetIntraOpNumThreads(intra); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(inter); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.Path,
		[]string{info.InputName},
		[]string{info.OutputName},
		options,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating session: %w", err)
	}

	return &ModelSession{
		session: session,
		info:    info,
	}, nil
}

func inspectModel(path string) (ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("error reading model io info: %w", err)
	}
	if len(inputs) != 1 {
		return ModelInfo{}, fmt.Errorf("expected 1 model input, got %d", len(inputs))
	}
	if len(outputs) == 0 {
		return ModelInfo{}, errors.New("model has no outputs")
	}

	in, out := inputs[0], outputs[0]
	if len(in.Dimensions) != 4 {
		return ModelInfo{}, fmt.Errorf("input %q: expected NCHW shape, got %v", in.Name, in.Dimensions)
	}
	if len(out.Dimensions) != 3 {
		return ModelInfo{}, fmt.Errorf("output %q: expected (batch, 4+nc, anchors) shape, got %v", out.Name, out.Dimensions)
	}

	info := ModelInfo{
		InputName:  in.Name,
		OutputName: out.Name,
		Stride:     Stride,
	}

	h, w := in.Dimensions[2], in.Dimensions[3]
	if h > 0 && w > 0 {
		if h != w {
			return ModelInfo{}, fmt.Errorf("input %q: non-square input %dx%d is not supported", in.Name, w, h)
		}
		info.NativeSize = int(h)
		if out.Dimensions[2] > 0 {
			info.Anchors = int(out.Dimensions[2])
		}
	}
	if out.Dimensions[1] > 0 {
		info.Channels = int(out.Dimensions[1])
	}

	names, stride, err := readMetadata(path)
	if err != nil {
		return ModelInfo{}, err
	}
	if stride > 0 {
		info.Stride = stride
	}

	if info.Channels == 0 {
		if len(names) == 0 {
			return ModelInfo{}, fmt.Errorf("output %q: class count is dynamic and model has no names metadata", out.Name)
		}
		info.Channels = 4 + len(names)
	}
	if info.NumClasses() <= 0 {
		return ModelInfo{}, fmt.Errorf("output %q: %d channels leaves no class scores", out.Name, info.Channels)
	}
	info.Names = padNames(names, info.NumClasses())

	return info, nil
}

// readMetadata pulls the class names and stride the exporter writes into
// the model's custom metadata. Both are optional.
func readMetadata(path string) ([]string, int, error) {
	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, 0, fmt.Errorf("error reading model metadata: %w", err)
	}
	defer meta.Destroy()

	var names []string
	raw, ok, err := meta.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, 0, fmt.Errorf("error reading names metadata: %w", err)
	}
	if ok {
		names, err = ParseNames(raw)
		if err != nil {
			return nil, 0, fmt.Errorf("error parsing names metadata: %w", err)
		}
	}

	stride := 0
	raw, ok, err = meta.LookupCustomMetadataMap("stride")
	if err != nil {
		return nil, 0, fmt.Errorf("error reading stride metadata: %w", err)
	}
	if ok {
		if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			stride = v
		}
	}

	return names, stride, nil
}

func (m *ModelSession) Info() ModelInfo {
	return m.info
}

func (m *ModelSession) Labels() []string {
	return m.info.Names
}

// InputSize returns the side length inference will actually run at.
// Static models always run at their exported size.
func (m *ModelSession) InputSize(requested int) int {
	if m.info.NativeSize > 0 {
		return m.info.NativeSize
	}
	return requested
}

// Infer runs one forward pass over a 1x3xSxS CHW tensor.
func (m *ModelSession) Infer(input []float32, size int) (Prediction, error) {
	if want := 3 * size * size; len(input) != want {
		return Prediction{}, fmt.Errorf("input length %d does not match %dx%d image", len(input), size, size)
	}

	anchors := m.info.Anchors
	if anchors == 0 {
		anchors = AnchorCount(size)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), input)
	if err != nil {
		return Prediction{}, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	data := make([]float32, m.info.Channels*anchors)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(m.info.Channels), int64(anchors)), data)
	if err != nil {
		return Prediction{}, fmt.Errorf("error creating output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := m.session.Run([]ort.Value{inputTensor}, []ort.Value{outputTensor}); err != nil {
		return Prediction{}, fmt.Errorf("model inference: %w", err)
	}

	return Prediction{
		Data:     data,
		Channels: m.info.Channels,
		Anchors:  anchors,
	}, nil
}

func (m *ModelSession) Destroy() {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
}

// AnchorCount is the number of prediction cells YOLOv8 emits for a
// square input of the given side.
func AnchorCount(size int) int {
	n := 0
	for _, s := range anchorStrides {
		cells := size / s
		n += cells * cells
	}
	return n
}
