package pipeline

import (
	"github.com/dunamismax/rendition/internal/domain"
)

// Outcome is the result of one planned rendition. Err is nil on success.
type Outcome struct {
	Label       string           `json:"label"`
	Location    string           `json:"location,omitempty"`
	Key         string           `json:"key,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	Width       int              `json:"width,omitempty"`
	Height      int              `json:"height,omitempty"`
	Bytes       int              `json:"bytes,omitempty"`
	Kind        domain.ErrorKind `json:"error_kind,omitempty"`
	Err         error            `json:"-"`
}

func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Result is the outcome of one source object. When Fatal is set the source
// could not be fetched or decoded and Outcomes is empty.
type Result struct {
	Source       domain.SourceRef `json:"source"`
	SourceBytes  int              `json:"source_bytes,omitempty"`
	SourceWidth  int              `json:"source_width,omitempty"`
	SourceHeight int              `json:"source_height,omitempty"`
	Fatal        error            `json:"-"`
	FatalKind    domain.ErrorKind `json:"fatal_kind,omitempty"`
	Outcomes     []Outcome        `json:"outcomes"`
}

func (r Result) Status() string {
	if r.Fatal != nil {
		return domain.StatusFailed
	}
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			return domain.StatusPartiallyFailed
		}
	}
	return domain.StatusCompleted
}

func (r Result) OK() bool {
	return r.Status() == domain.StatusCompleted
}

func (r Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

func (r Result) Succeeded() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			out = append(out, o)
		}
	}
	return out
}

type EventResult struct {
	Results []Result `json:"results"`
}

func (e EventResult) OK() bool {
	for _, r := range e.Results {
		if !r.OK() {
			return false
		}
	}
	return true
}

func (e EventResult) Status() string {
	if len(e.Results) == 0 {
		return domain.StatusCompleted
	}
	failed := 0
	for _, r := range e.Results {
		switch r.Status() {
		case domain.StatusFailed:
			failed++
		case domain.StatusPartiallyFailed:
			return domain.StatusPartiallyFailed
		}
	}
	switch failed {
	case 0:
		return domain.StatusCompleted
	case len(e.Results):
		return domain.StatusFailed
	default:
		return domain.StatusPartiallyFailed
	}
}

func (e EventResult) Failures() []domain.Failure {
	var out []domain.Failure
	for _, r := range e.Results {
		if r.Fatal != nil {
			out = append(out, domain.Failure{Source: r.Source, Kind: r.FatalKind, Error: r.Fatal.Error()})
			continue
		}
		for _, o := range r.Failed() {
			out = append(out, domain.Failure{Source: r.Source, Label: o.Label, Kind: o.Kind, Error: o.Err.Error()})
		}
	}
	return out
}

// RetrySubset returns the sources worth running again, each restricted to
// the labels that failed with a retryable kind. Succeeded renditions are
// left out; re-running them would only overwrite identical objects.
func (e EventResult) RetrySubset() []domain.SourceRef {
	var out []domain.SourceRef
	for _, r := range e.Results {
		if r.Fatal != nil {
			if r.FatalKind.Retryable() {
				out = append(out, r.Source)
			}
			continue
		}

		var labels []string
		for _, o := range r.Failed() {
			if o.Kind.Retryable() {
				labels = append(labels, o.Label)
			}
		}
		if len(labels) > 0 {
			out = append(out, domain.SourceRef{
				Location: r.Source.Location,
				Key:      r.Source.Key,
				Labels:   labels,
			})
		}
	}
	return out
}
