package pipeline

import (
	"errors"
	"testing"
)

func TestBuildKey(t *testing.T) {
	tests := []struct {
		sourceKey string
		label     string
		ext       string
		want      string
	}{
		{sourceKey: "photos/sunset.png", label: "1080p", ext: "webp", want: "1080p/photos/sunset.webp"},
		{sourceKey: "a.b.c.jpg", label: "mobile", ext: "webp", want: "mobile/a.b.c.webp"},
		{sourceKey: "noext", label: "720p", ext: ".webp", want: "720p/noext.webp"},
		{sourceKey: "dir.v2/raw", label: "720p", ext: "jpeg", want: "720p/dir.v2/raw.jpeg"},
		{sourceKey: "photos/.hidden", label: "mobile", ext: "png", want: "mobile/photos/.hidden.png"},
		{sourceKey: "photos/summer trip/sunset(1).png", label: "1080p", ext: "webp", want: "1080p/photos/summer trip/sunset(1).webp"},
	}

	for _, tc := range tests {
		if got := BuildKey(tc.sourceKey, tc.label, tc.ext); got != tc.want {
			t.Fatalf("BuildKey(%q, %q, %q) = %q, want %q", tc.sourceKey, tc.label, tc.ext, got, tc.want)
		}
	}
}

func TestLocationMapperResolve(t *testing.T) {
	mapper, err := NewLocationMapper("source", "dest")
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}

	got, err := mapper.Resolve("images-source-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "images-dest-1" {
		t.Fatalf("expected images-dest-1, got %s", got)
	}

	if _, err := mapper.Resolve("images-raw-1"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for location without token, got %v", err)
	}
}

func TestNewLocationMapperRejectsBadTokens(t *testing.T) {
	if _, err := NewLocationMapper("", "dest"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for empty token, got %v", err)
	}
	if _, err := NewLocationMapper("same", "same"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for identity mapping, got %v", err)
	}
}

func TestFixedLocation(t *testing.T) {
	got, err := FixedLocation("/tmp/out").Resolve("anything")
	if err != nil || got != "/tmp/out" {
		t.Fatalf("expected /tmp/out, got %q (%v)", got, err)
	}
	if _, err := FixedLocation(" ").Resolve("anything"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for blank location, got %v", err)
	}
}
