package domain

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatWebP Format = "webp"
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
)

// DefaultQuality matches the quality the renditions were always encoded with.
const DefaultQuality = 80

// ParseFormat normalizes a user supplied format name. "jpg" is accepted as
// an alias of jpeg.
func ParseFormat(in string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(in)) {
	case "webp":
		return FormatWebP, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "png":
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", in)
	}
}

func (f Format) Extension() string {
	return string(f)
}

func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/webp"
	}
}

// RenditionSpec is one immutable entry of the rendition catalog.
type RenditionSpec struct {
	Label   string `yaml:"label" validate:"required,max=64,excludesall=/"`
	Width   int    `yaml:"width" validate:"gt=0,lte=16384"`
	Format  Format `yaml:"format" validate:"required,oneof=webp jpeg png"`
	Quality int    `yaml:"quality" validate:"gte=0,lte=100"`
}

// Catalog is the ordered, fixed set of renditions produced for every source.
// Order is declaration order and is stable across runs.
type Catalog struct {
	specs []RenditionSpec
}

func DefaultCatalog() Catalog {
	catalog, err := NewCatalog([]RenditionSpec{
		{Label: "1080p", Width: 1920, Format: FormatWebP, Quality: DefaultQuality},
		{Label: "720p", Width: 1280, Format: FormatWebP, Quality: DefaultQuality},
		{Label: "mobile", Width: 480, Format: FormatWebP, Quality: DefaultQuality},
	})
	if err != nil {
		panic(err)
	}
	return catalog
}

var specValidator = validator.New(validator.WithRequiredStructEnabled())

// NewCatalog validates specs and copies them into a catalog. Labels must be
// unique.
func NewCatalog(specs []RenditionSpec) (Catalog, error) {
	if len(specs) == 0 {
		return Catalog{}, errors.New("catalog must contain at least one rendition")
	}

	seen := make(map[string]struct{}, len(specs))
	out := make([]RenditionSpec, 0, len(specs))
	for i, spec := range specs {
		spec.Label = strings.TrimSpace(spec.Label)
		if spec.Format == "" {
			spec.Format = FormatWebP
		} else {
			format, err := ParseFormat(string(spec.Format))
			if err != nil {
				return Catalog{}, fmt.Errorf("renditions[%d]: %w", i, err)
			}
			spec.Format = format
		}
		if err := specValidator.Struct(spec); err != nil {
			return Catalog{}, fmt.Errorf("renditions[%d]: %w", i, err)
		}
		if _, dup := seen[spec.Label]; dup {
			return Catalog{}, fmt.Errorf("renditions[%d]: duplicate label %q", i, spec.Label)
		}
		seen[spec.Label] = struct{}{}
		out = append(out, spec)
	}
	return Catalog{specs: out}, nil
}

type catalogFile struct {
	Renditions []struct {
		Label   string `yaml:"label"`
		Width   int    `yaml:"width"`
		Format  string `yaml:"format"`
		Quality *int   `yaml:"quality"`
	} `yaml:"renditions"`
}

// LoadCatalogFile reads a YAML catalog:
//
//	renditions:
//	  - label: 1080p
//	    width: 1920
//	    format: webp
//	    quality: 80
//
// Entries without a quality get DefaultQuality.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog file %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	specs := make([]RenditionSpec, 0, len(file.Renditions))
	for _, entry := range file.Renditions {
		quality := DefaultQuality
		if entry.Quality != nil {
			quality = *entry.Quality
		}
		specs = append(specs, RenditionSpec{
			Label:   entry.Label,
			Width:   entry.Width,
			Format:  Format(entry.Format),
			Quality: quality,
		})
	}

	catalog, err := NewCatalog(specs)
	if err != nil {
		return Catalog{}, fmt.Errorf("catalog file %s: %w", path, err)
	}
	return catalog, nil
}

// LoadCatalog returns the catalog in path, or DefaultCatalog when path is
// empty.
func LoadCatalog(path string) (Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	return LoadCatalogFile(path)
}

// Specs returns a copy of the catalog entries in declaration order.
func (c Catalog) Specs() []RenditionSpec {
	out := make([]RenditionSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

func (c Catalog) Len() int {
	return len(c.specs)
}

func (c Catalog) Lookup(label string) (RenditionSpec, bool) {
	for _, spec := range c.specs {
		if spec.Label == label {
			return spec, true
		}
	}
	return RenditionSpec{}, false
}

func (c Catalog) Labels() []string {
	out := make([]string, 0, len(c.specs))
	for _, spec := range c.specs {
		out = append(out, spec.Label)
	}
	return out
}
