// Package seed decodes the image whose pixels become the particle field's
// rest positions.
package seed

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"

	// Formats accepted as seed images.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"go.uber.org/zap"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"ARP/internal/simulation"
)

// ErrEmptyImage is returned for images with no pixels.
var ErrEmptyImage = errors.New("seed image has no pixels")

// Loader reads seed images from disk.
type Loader struct {
	log    *zap.Logger
	maxDim int
}

// Option customises a Loader.
type Option func(*Loader)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMaxDimension downsizes images whose longer side exceeds n, keeping the
// aspect ratio. Zero keeps the original size.
func WithMaxDimension(n int) Option {
	return func(l *Loader) {
		if n >= 0 {
			l.maxDim = n
		}
	}
}

// NewLoader returns a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{log: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load decodes path into a straight-alpha RGBA raster.
func (l *Loader) Load(ctx context.Context, path string) (simulation.SeedImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return simulation.SeedImage{}, err
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return simulation.SeedImage{}, fmt.Errorf("decoding %q: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return simulation.SeedImage{}, err
	}
	b := src.Bounds()
	if b.Empty() {
		return simulation.SeedImage{}, fmt.Errorf("%q: %w", path, ErrEmptyImage)
	}

	w, h := fitWithin(b.Dx(), b.Dy(), l.maxDim)
	rgba := ToNRGBA(src, w, h)
	l.log.Info("seed image loaded",
		zap.String("path", path),
		zap.String("format", format),
		zap.Int("source_width", b.Dx()),
		zap.Int("source_height", b.Dy()),
		zap.Int("width", w),
		zap.Int("height", h))
	return simulation.SeedImage{Width: w, Height: h, Pix: rgba.Pix}, nil
}

// ToNRGBA converts src into a tightly packed, non-premultiplied RGBA image of
// size w×h with a top-left origin, scaling when the size differs.
func ToNRGBA(src image.Image, w, h int) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
		return dst
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// fitWithin scales w×h down so the longer side is at most max.
func fitWithin(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}
