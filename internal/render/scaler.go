package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"

	"github.com/avastel/mediavault-backend/internal/platform/logger"
)

// ImageScaler is the in-process Renderer. It decodes JPEG/PNG sources and
// scales them to fit the requested box with CatmullRom resampling. Anything
// beyond that (RAW, video stills, archive extraction) belongs to an external
// renderer behind the same interface.
type ImageScaler struct {
	log *logger.Logger
}

func NewImageScaler(baseLog *logger.Logger) *ImageScaler {
	return &ImageScaler{log: baseLog.With("component", "ImageScaler")}
}

func (s *ImageScaler) Render(ctx context.Context, src Source, params OutputParams) (*Rendered, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResourceExhausted, err)
	}

	raw, err := os.ReadFile(src.Path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, src.Path)
		}
		return nil, fmt.Errorf("read source %s: %v", src.Path, err)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptOrUnsupported, err)
	}

	w, h := fitWithin(img.Bounds().Dx(), img.Bounds().Dy(), params.Width, params.Height)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	format := params.Format
	switch format {
	case "png":
		if err := png.Encode(&buf, dst); err != nil {
			return nil, fmt.Errorf("encode png: %v", err)
		}
	default:
		format = "jpeg"
		quality := params.Quality
		if quality <= 0 || quality > 100 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %v", err)
		}
	}

	return &Rendered{
		Bytes:  buf.Bytes(),
		Width:  w,
		Height: h,
		Format: format,
	}, nil
}

// fitWithin scales (srcW, srcH) to fit inside (maxW, maxH) preserving aspect
// ratio, never upscaling.
func fitWithin(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}
	if maxW <= 0 {
		maxW = srcW
	}
	if maxH <= 0 {
		maxH = srcH
	}
	if srcW <= maxW && srcH <= maxH {
		return srcW, srcH
	}
	rw := float64(maxW) / float64(srcW)
	rh := float64(maxH) / float64(srcH)
	r := rw
	if rh < rw {
		r = rh
	}
	w := int(float64(srcW) * r)
	h := int(float64(srcH) * r)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}
