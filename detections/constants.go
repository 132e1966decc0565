package detections

const (
	DefaultConfThreshold = 0.25
	DefaultImageSize     = 640
	DefaultIoUThreshold  = 0.7
	DefaultMaxDetections = 300

	// Stride is the coarsest feature map stride of YOLOv8 heads; input
	// sides must be a multiple of it.
	Stride = 32

	// PadValue is the gray level used to fill letterbox borders.
	PadValue = 114
)

var anchorStrides = [...]int{8, 16, 32}
