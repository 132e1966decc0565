package detections

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/Tutortoise/object-detection-service/models"
	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const labelPadding = 2

var palette = []color.NRGBA{
	hexColor(0xFF3838), hexColor(0xFF9D97), hexColor(0xFF701F), hexColor(0xFFB21D),
	hexColor(0xCFD231), hexColor(0x48F90A), hexColor(0x92CC17), hexColor(0x3DDB86),
	hexColor(0x1A9334), hexColor(0x00D4BB), hexColor(0x2C99A8), hexColor(0x00C2FF),
	hexColor(0x344593), hexColor(0x6473FF), hexColor(0x0018EC), hexColor(0x8438FF),
	hexColor(0x520085), hexColor(0xCB38FF), hexColor(0xFF95C8), hexColor(0xFF37C7),
}

func hexColor(v uint32) color.NRGBA {
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

// ClassColor returns the box colour used for a class id.
func ClassColor(class int) color.NRGBA {
	if class < 0 {
		class = -class
	}
	return palette[class%len(palette)]
}

func lineWidth(width, height int) int {
	return max(int(math.Round(float64(width+height)/2*0.003)), 2)
}

// Annotate draws boxes and labels onto a copy of src. The returned image
// has the same dimensions as src.
func Annotate(src image.Image, detections []models.Detection) *image.NRGBA {
	dst := imaging.Clone(src)
	lw := lineWidth(dst.Rect.Dx(), dst.Rect.Dy())

	for _, d := range detections {
		c := ClassColor(d.ClassID)
		box := image.Rect(int(d.BBox[0]), int(d.BBox[1]), int(d.BBox[2]), int(d.BBox[3]))
		drawBox(dst, box, lw, c)
		drawLabel(dst, box, fmt.Sprintf("%s %.2f", d.Label, d.Confidence), c)
	}

	return dst
}

func drawBox(dst draw.Image, r image.Rectangle, lw int, c color.Color) {
	src := image.NewUniform(c)
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+lw),
		image.Rect(r.Min.X, r.Max.Y-lw, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+lw, r.Max.Y),
		image.Rect(r.Max.X-lw, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e, src, image.Point{}, draw.Src)
	}
}

// drawLabel renders a filled tag above the box, or just inside its top
// edge when the box touches the top of the image.
func drawLabel(dst draw.Image, box image.Rectangle, text string, bg color.Color) {
	face := basicfont.Face7x13
	metrics := face.Metrics()
	textW := font.MeasureString(face, text).Ceil()
	textH := metrics.Height.Ceil()

	tagH := textH + 2*labelPadding
	tagW := textW + 2*labelPadding

	top := box.Min.Y - tagH
	if top < dst.Bounds().Min.Y {
		top = box.Min.Y
	}
	tag := image.Rect(box.Min.X, top, box.Min.X+tagW, top+tagH)
	draw.Draw(dst, tag, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: face,
		Dot:  fixed.P(tag.Min.X+labelPadding, tag.Min.Y+labelPadding+metrics.Ascent.Ceil()),
	}
	d.DrawString(text)
}
