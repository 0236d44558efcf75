package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/dunamismax/rendition/internal/domain"
	"github.com/gabriel-vasile/mimetype"
)

// Source is a decoded image. It is read-only after Decode and may be shared
// by concurrent Encode calls.
type Source interface {
	Width() int
	Height() int
	Close()
}

type Transcoder interface {
	Decode(ctx context.Context, raw []byte) (Source, error)
	Encode(ctx context.Context, src Source, width, height int, format domain.Format, quality int) ([]byte, error)
}

// sniffRaster rejects payloads that are not raster images before handing
// them to a decoder.
func sniffRaster(raw []byte) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty object", ErrDecode)
	}
	mime := mimetype.Detect(raw)
	if !strings.HasPrefix(mime.String(), "image/") || mime.Is("image/svg+xml") {
		return fmt.Errorf("%w: unsupported content type %s", ErrDecode, mime.String())
	}
	return nil
}

func jpegQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}
