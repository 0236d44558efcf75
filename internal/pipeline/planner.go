package pipeline

import (
	"fmt"
	"math"

	"github.com/dunamismax/rendition/internal/domain"
)

// PlannedRendition is a catalog entry resolved against one source's
// dimensions.
type PlannedRendition struct {
	Spec   domain.RenditionSpec
	Width  int
	Height int
}

type Planner struct {
	catalog domain.Catalog
}

func NewPlanner(catalog domain.Catalog) Planner {
	return Planner{catalog: catalog}
}

// Plan resolves every catalog entry, in catalog order, for a source of the
// given size. Callers reject non-positive dimensions before planning.
func (p Planner) Plan(sourceWidth, sourceHeight int) []PlannedRendition {
	specs := p.catalog.Specs()
	out := make([]PlannedRendition, 0, len(specs))
	for _, spec := range specs {
		w, h := FitWidth(sourceWidth, sourceHeight, spec.Width)
		out = append(out, PlannedRendition{Spec: spec, Width: w, Height: h})
	}
	return out
}

// PlanLabels is Plan restricted to labels. Labels missing from the catalog
// are returned separately so the caller can report them.
func (p Planner) PlanLabels(sourceWidth, sourceHeight int, labels []string) ([]PlannedRendition, []string) {
	if len(labels) == 0 {
		return p.Plan(sourceWidth, sourceHeight), nil
	}

	want := make(map[string]bool, len(labels))
	for _, label := range labels {
		want[label] = true
	}

	var planned []PlannedRendition
	for _, r := range p.Plan(sourceWidth, sourceHeight) {
		if want[r.Spec.Label] {
			planned = append(planned, r)
			delete(want, r.Spec.Label)
		}
	}

	var unknown []string
	for _, label := range labels {
		if want[label] {
			unknown = append(unknown, label)
			delete(want, label)
		}
	}
	return planned, unknown
}

// FitWidth scales (srcW, srcH) to targetWidth preserving the aspect ratio,
// never enlarging. Height is rounded to the nearest pixel and is at least 1.
func FitWidth(srcW, srcH, targetWidth int) (int, int) {
	if srcW <= 0 || srcH <= 0 || targetWidth <= 0 {
		return 0, 0
	}
	if srcW <= targetWidth {
		return srcW, srcH
	}

	h := int(math.Round(float64(targetWidth) * float64(srcH) / float64(srcW)))
	if h < 1 {
		h = 1
	}
	return targetWidth, h
}

func validateDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: invalid dimensions %dx%d", ErrDecode, w, h)
	}
	return nil
}
