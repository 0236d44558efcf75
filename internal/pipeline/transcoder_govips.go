//go:build govips

package pipeline

import (
	"context"
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
	"github.com/dunamismax/rendition/internal/domain"
)

type govipsTranscoder struct{}

type govipsSource struct {
	ref *vips.ImageRef
}

func (s govipsSource) Width() int  { return s.ref.Width() }
func (s govipsSource) Height() int { return s.ref.Height() }
func (s govipsSource) Close()      { s.ref.Close() }

func (govipsTranscoder) Decode(ctx context.Context, raw []byte) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := sniffRaster(raw); err != nil {
		return nil, err
	}

	ref, err := vips.NewImageFromBuffer(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := validateDimensions(ref.Width(), ref.Height()); err != nil {
		ref.Close()
		return nil, err
	}
	if ref.Interpretation() != vips.InterpretationSRGB {
		if err := ref.ToColorSpace(vips.InterpretationSRGB); err != nil {
			ref.Close()
			return nil, fmt.Errorf("%w: convert to sRGB: %v", ErrDecode, err)
		}
	}
	return govipsSource{ref: ref}, nil
}

func (govipsTranscoder) Encode(ctx context.Context, src Source, width, height int, format domain.Format, quality int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, ok := src.(govipsSource)
	if !ok {
		return nil, fmt.Errorf("%w: source %T was not decoded by this transcoder", ErrEncode, src)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %dx%d", ErrEncode, width, height)
	}

	// The shared source stays untouched; every rendition works on a copy.
	img, err := s.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("%w: copy source: %v", ErrEncode, err)
	}
	defer img.Close()

	if width != img.Width() || height != img.Height() {
		hscale := float64(width) / float64(img.Width())
		vscale := float64(height) / float64(img.Height())
		if err := img.ResizeWithVScale(hscale, vscale, vips.KernelLanczos3); err != nil {
			return nil, fmt.Errorf("%w: resize: %v", ErrEncode, err)
		}
	}
	if img.Width() != width || img.Height() != height {
		return nil, fmt.Errorf("%w: resized to %dx%d, want %dx%d", ErrEncode, img.Width(), img.Height(), width, height)
	}

	switch format {
	case domain.FormatWebP:
		params := vips.NewWebpExportParams()
		params.Quality = quality
		data, _, err := img.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrEncode, err)
		}
		return data, nil
	case domain.FormatJPEG:
		if img.HasAlpha() {
			if err := img.Flatten(&vips.Color{R: 255, G: 255, B: 255}); err != nil {
				return nil, fmt.Errorf("%w: flatten alpha: %v", ErrEncode, err)
			}
		}
		params := vips.NewJpegExportParams()
		params.Quality = jpegQuality(quality)
		data, _, err := img.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
		return data, nil
	case domain.FormatPNG:
		data, _, err := img.ExportPng(vips.NewPngExportParams())
		if err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unsupported output format %q", ErrEncode, format)
	}
}
