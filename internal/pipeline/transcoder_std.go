//go:build !govips

package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/dunamismax/rendition/internal/domain"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

type stdlibTranscoder struct{}

type stdlibSource struct {
	img *image.NRGBA
}

func (s stdlibSource) Width() int  { return s.img.Bounds().Dx() }
func (s stdlibSource) Height() int { return s.img.Bounds().Dy() }
func (s stdlibSource) Close()      {}

func (stdlibTranscoder) Decode(ctx context.Context, raw []byte) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sniffRaster(raw); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	b := img.Bounds()
	if err := validateDimensions(b.Dx(), b.Dy()); err != nil {
		return nil, err
	}

	// Normalizing to NRGBA once covers paletted, gray, CMYK and 16-bit
	// inputs for every encoder below.
	return stdlibSource{img: imaging.Clone(img)}, nil
}

func (stdlibTranscoder) Encode(ctx context.Context, src Source, width, height int, format domain.Format, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := src.(stdlibSource)
	if !ok {
		return nil, fmt.Errorf("%w: source %T was not decoded by this transcoder", ErrEncode, src)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %dx%d", ErrEncode, width, height)
	}

	var out image.Image = s.img
	if width != s.Width() || height != s.Height() {
		out = imaging.Resize(s.img, width, height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	switch format {
	case domain.FormatWebP:
		if err := webp.Encode(&buf, out, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrEncode, err)
		}
	case domain.FormatJPEG:
		flat := imaging.Overlay(imaging.New(width, height, color.White), out, image.Pt(0, 0), 1.0)
		if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality(quality)}); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	case domain.FormatPNG:
		if err := png.Encode(&buf, out); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}

	return buf.Bytes(), nil
}
