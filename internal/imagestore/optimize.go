package imagestore

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// Optimized images are always stored as JPEG.
const optimizedExtension = ".jpg"

// optimize decodes data, flattens transparency onto white, caps the longer
// side at maxSide and re-encodes as JPEG at the given quality.
func optimize(data []byte, maxSide, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	img = flatten(img)
	img = fit(img, maxSide)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

type opaquer interface {
	Opaque() bool
}

func flatten(img image.Image) image.Image {
	if o, ok := img.(opaquer); ok && o.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// fit downscales img so that neither side exceeds maxSide, keeping the
// aspect ratio. Smaller images are returned unchanged.
func fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxSide, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxSide, imaging.Lanczos)
}
