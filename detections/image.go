package detections

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// ImageTooLargeError reports an image whose header claims more pixels than
// the decoder is allowed to allocate.
type ImageTooLargeError struct {
	Width, Height int
	MaxPixels     int
}

func (e *ImageTooLargeError) Error() string {
	return fmt.Sprintf("image is %dx%d, exceeds %d pixels", e.Width, e.Height, e.MaxPixels)
}

// DecodeImage decodes any registered format (JPEG, PNG, GIF, BMP, TIFF,
// WebP), applies EXIF orientation and returns an opaque RGB image.
// The header is read first and images over maxPixels are refused before
// any pixel buffer is allocated. maxPixels <= 0 disables the check.
func DecodeImage(data []byte, maxPixels int) (*image.NRGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty image")
	}

	if maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode image header: %w", err)
		}
		if cfg.Width <= 0 || cfg.Height <= 0 {
			return nil, fmt.Errorf("image has no pixels")
		}
		if cfg.Width > maxPixels/cfg.Height {
			return nil, &ImageTooLargeError{Width: cfg.Width, Height: cfg.Height, MaxPixels: maxPixels}
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	return ToRGB(img), nil
}

// ToRGB copies img into an NRGBA with every pixel fully opaque. Colour
// channels are kept as-is, so transparent regions are not blackened.
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
