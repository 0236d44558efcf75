package domain

const (
	StatusCompleted       = "completed"
	StatusPartiallyFailed = "partially_failed"
	StatusFailed          = "failed"
)

// ErrorKind classifies a failed fetch, transcode or publish.
type ErrorKind string

const (
	KindNone     ErrorKind = ""
	KindNotFound ErrorKind = "not_found"
	KindFetch    ErrorKind = "fetch"
	KindDecode   ErrorKind = "decode"
	KindEncode   ErrorKind = "encode"
	KindWrite    ErrorKind = "write"
	KindConfig   ErrorKind = "config"
	KindCanceled ErrorKind = "canceled"
)

// Retryable reports whether running the same input again can succeed.
// Undecodable sources are permanent: the bytes will not change on retry.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNotFound, KindFetch, KindWrite, KindCanceled:
		return true
	default:
		return false
	}
}

// Failure names one failed (source, label) pair. Label is empty when the
// source itself could not be fetched or decoded.
type Failure struct {
	Source SourceRef `json:"source"`
	Label  string    `json:"label,omitempty"`
	Kind   ErrorKind `json:"kind"`
	Error  string    `json:"error"`
}

// Fatal reports whether the failure covers the whole source.
func (f Failure) Fatal() bool {
	return f.Label == ""
}
