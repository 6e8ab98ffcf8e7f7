package artifact

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// DefaultThumbnailWidth is used when a Thumbnailer is created with a
// non-positive width.
const DefaultThumbnailWidth = 320

// Thumbnailer produces JPEG previews no wider than Width.
type Thumbnailer struct {
	Width   int
	Quality int
}

// NewThumbnailer creates a Thumbnailer producing previews of the given width.
func NewThumbnailer(width int) *Thumbnailer {
	if width <= 0 {
		width = DefaultThumbnailWidth
	}
	return &Thumbnailer{Width: width, Quality: 80}
}

// Make decodes data and returns a JPEG thumbnail. Images already narrower
// than Width are re-encoded at their original size.
func (t *Thumbnailer) Make(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("artifact: decode image: %w", err)
	}

	thumb := src
	if src.Bounds().Dx() > t.Width {
		thumb = imaging.Resize(src, t.Width, 0, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(t.Quality)); err != nil {
		return nil, fmt.Errorf("artifact: encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
