package pipeline

import (
	"fmt"
	"path"
	"strings"
)

// BuildKey derives the destination key of a rendition:
// "{label}/{sourceKey without extension}.{ext}".
func BuildKey(sourceKey, label, ext string) string {
	base := sourceKey
	if ext := path.Ext(sourceKey); ext != "" && ext != path.Base(sourceKey) {
		base = strings.TrimSuffix(sourceKey, ext)
	}
	return fmt.Sprintf("%s/%s.%s", label, base, strings.TrimPrefix(ext, "."))
}

// DestinationResolver maps a source location to the location renditions are
// published to.
type DestinationResolver interface {
	Resolve(sourceLocation string) (string, error)
}

// LocationMapper substitutes the From token in a source location with To,
// e.g. "images-source-1" -> "images-dest-1". A location without the token is
// a configuration error, never an unchanged destination.
type LocationMapper struct {
	From string
	To   string
}

func NewLocationMapper(from, to string) (LocationMapper, error) {
	if from == "" {
		return LocationMapper{}, fmt.Errorf("%w: destination token must not be empty", ErrConfig)
	}
	if from == to {
		return LocationMapper{}, fmt.Errorf("%w: destination token %q maps to itself", ErrConfig, from)
	}
	return LocationMapper{From: from, To: to}, nil
}

func (m LocationMapper) Resolve(sourceLocation string) (string, error) {
	if m.From == "" {
		return "", fmt.Errorf("%w: destination token is not configured", ErrConfig)
	}
	if !strings.Contains(sourceLocation, m.From) {
		return "", fmt.Errorf("%w: source location %q does not contain token %q", ErrConfig, sourceLocation, m.From)
	}
	return strings.ReplaceAll(sourceLocation, m.From, m.To), nil
}

// FixedLocation publishes every source to the same location.
type FixedLocation string

func (l FixedLocation) Resolve(string) (string, error) {
	if strings.TrimSpace(string(l)) == "" {
		return "", fmt.Errorf("%w: destination location is empty", ErrConfig)
	}
	return string(l), nil
}
