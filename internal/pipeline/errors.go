package pipeline

import (
	"context"
	"errors"

	"github.com/dunamismax/rendition/internal/domain"
)

var (
	ErrNotFound = errors.New("source object not found")
	ErrFetch    = errors.New("fetch source object")
	ErrDecode   = errors.New("decode source image")
	ErrEncode   = errors.New("encode rendition")
	ErrWrite    = errors.New("write rendition")
	ErrConfig   = errors.New("invalid destination configuration")
)

// KindOf maps an error from any stage to its ErrorKind. Errors that match no
// sentinel are reported as fetch failures when they come from the fetch
// stage and write failures otherwise, see classify.
func KindOf(err error) domain.ErrorKind {
	switch {
	case err == nil:
		return domain.KindNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return domain.KindCanceled
	case errors.Is(err, ErrConfig):
		return domain.KindConfig
	case errors.Is(err, ErrNotFound):
		return domain.KindNotFound
	case errors.Is(err, ErrDecode):
		return domain.KindDecode
	case errors.Is(err, ErrEncode):
		return domain.KindEncode
	case errors.Is(err, ErrWrite):
		return domain.KindWrite
	case errors.Is(err, ErrFetch):
		return domain.KindFetch
	default:
		return ""
	}
}

func classify(err error, fallback domain.ErrorKind) domain.ErrorKind {
	if kind := KindOf(err); kind != "" {
		return kind
	}
	return fallback
}
