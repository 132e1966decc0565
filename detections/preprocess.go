package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
)

// letterbox records how a source image was mapped onto the square model
// input so boxes can be projected back.
type letterbox struct {
	size  int
	scale float64
	padX  float64
	padY  float64
}

// toSource maps a point in model input space back to source pixels.
func (lb letterbox) toSource(x, y float32) (float64, float64) {
	return (float64(x) - lb.padX) / lb.scale, (float64(y) - lb.padY) / lb.scale
}

// letterboxImage scales img to fit a size x size canvas while keeping its
// aspect ratio and centres it on a gray background.
func letterboxImage(img image.Image, size int) (*image.NRGBA, letterbox) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	scale := math.Min(float64(size)/w, float64(size)/h)

	newW := int(math.Round(w * scale))
	newH := int(math.Round(h * scale))
	newW = max(1, min(size, newW))
	newH = max(1, min(size, newH))

	var resized *image.NRGBA
	if newW == b.Dx() && newH == b.Dy() {
		resized = imaging.Clone(img)
	} else {
		resized = imaging.Resize(img, newW, newH, imaging.Linear)
	}

	left := int(math.Round(float64(size-newW)/2 - 0.1))
	top := int(math.Round(float64(size-newH)/2 - 0.1))

	canvas := imaging.New(size, size, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	canvas = imaging.Paste(canvas, resized, image.Pt(left, top))

	return canvas, letterbox{
		size:  size,
		scale: scale,
		padX:  float64(left),
		padY:  float64(top),
	}
}

var inputBufferCache sync.Map

func inputBufferPool(size int) *sync.Pool {
	if p, ok := inputBufferCache.Load(size); ok {
		return p.(*sync.Pool)
	}
	p, _ := inputBufferCache.LoadOrStore(size, &sync.Pool{
		New: func() interface{} {
			return make([]float32, 3*size*size)
		},
	})
	return p.(*sync.Pool)
}

func getInputBuffer(size int) []float32 {
	return inputBufferPool(size).Get().([]float32)
}

func putInputBuffer(size int, buf []float32) {
	inputBufferPool(size).Put(buf)
}

// fillTensor writes pic into dst as planar RGB scaled to [0,1]. Rows are
// split across workers; alpha is dropped.
func fillTensor(dst []float32, pic *image.NRGBA) {
	width := pic.Rect.Dx()
	height := pic.Rect.Dy()
	channelSize := width * height

	numWorkers := min(runtime.GOMAXPROCS(0), height)
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := (w + 1) * rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row := pic.Pix[y*pic.Stride : y*pic.Stride+width*4]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					p := x * 4
					dst[i] = float32(row[p]) / 255.0
					dst[channelSize+i] = float32(row[p+1]) / 255.0
					dst[channelSize*2+i] = float32(row[p+2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}
