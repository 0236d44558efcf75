package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/dunamismax/rendition/internal/domain"
	"github.com/dunamismax/rendition/internal/storage"
	"golang.org/x/image/webp"
)

type memoryObjects struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	failPut  func(bucket, key string) error
	putCalls int
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (m *memoryObjects) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return data, nil
}

func (m *memoryObjects) WriteObject(_ context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.failPut != nil {
		if err := m.failPut(bucket, key); err != nil {
			return err
		}
	}
	m.objects[bucket+"/"+key] = append([]byte(nil), data...)
	m.types[bucket+"/"+key] = contentType
	return nil
}

func (m *memoryObjects) get(bucket, key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, m.types[bucket+"/"+key], ok
}

func newTestProcessor(t *testing.T, objects *memoryObjects, mutate func(*Options)) *Processor {
	t.Helper()

	mapper, err := NewLocationMapper("source", "dest")
	if err != nil {
		t.Fatalf("new mapper: %v", err)
	}
	opts := Options{
		Fetcher:     ObjectStoreFetcher{Store: objects},
		Publisher:   ObjectStorePublisher{Store: objects},
		Catalog:     domain.DefaultCatalog(),
		Destination: mapper,
	}
	if mutate != nil {
		mutate(&opts)
	}
	processor, err := NewProcessor(opts)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	return processor
}

func TestProcessSourcePublishesWholeCatalog(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/photos/sunset.png"] = buildTestPNG(t, 4000, 3000)
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{Location: "images-source-1", Key: "photos/sunset.png"})
	if result.Status() != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s: %+v", result.Status(), result.Failed())
	}
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result.Outcomes))
	}

	want := []struct {
		key    string
		width  int
		height int
	}{
		{key: "1080p/photos/sunset.webp", width: 1920, height: 1440},
		{key: "720p/photos/sunset.webp", width: 1280, height: 960},
		{key: "mobile/photos/sunset.webp", width: 480, height: 360},
	}
	for i, w := range want {
		outcome := result.Outcomes[i]
		if outcome.Location != "images-dest-1" || outcome.Key != w.key {
			t.Fatalf("outcome %d: expected images-dest-1/%s, got %s/%s", i, w.key, outcome.Location, outcome.Key)
		}

		data, contentType, ok := objects.get("images-dest-1", w.key)
		if !ok {
			t.Fatalf("expected object images-dest-1/%s to be published", w.key)
		}
		if contentType != "image/webp" {
			t.Fatalf("expected image/webp content type, got %s", contentType)
		}
		cfg, err := webp.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("decode %s: %v", w.key, err)
		}
		if cfg.Width != w.width || cfg.Height != w.height {
			t.Fatalf("%s: expected %dx%d, got %dx%d", w.key, w.width, w.height, cfg.Width, cfg.Height)
		}
	}
}

func TestProcessSourceSmallImageIsNotEnlarged(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/icon.png"] = buildTestPNG(t, 300, 200)
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{Location: "images-source-1", Key: "icon.png"})
	if !result.OK() {
		t.Fatalf("expected completed, got %s", result.Status())
	}
	for _, outcome := range result.Outcomes {
		if outcome.Width != 300 || outcome.Height != 200 {
			t.Fatalf("%s: expected 300x200, got %dx%d", outcome.Label, outcome.Width, outcome.Height)
		}
	}
}

func TestProcessSourceIsolatesPublishFailure(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/photos/sunset.png"] = buildTestPNG(t, 1600, 1200)
	objects.failPut = func(_, key string) error {
		if strings.HasPrefix(key, "720p/") {
			return errors.New("connection reset")
		}
		return nil
	}
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{Location: "images-source-1", Key: "photos/sunset.png"})
	if result.Status() != domain.StatusPartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", result.Status())
	}

	failed := result.Failed()
	if len(failed) != 1 || failed[0].Label != "720p" || failed[0].Kind != domain.KindWrite {
		t.Fatalf("expected one 720p write failure, got %+v", failed)
	}
	for _, key := range []string{"1080p/photos/sunset.webp", "mobile/photos/sunset.webp"} {
		if _, _, ok := objects.get("images-dest-1", key); !ok {
			t.Fatalf("expected %s to be published despite sibling failure", key)
		}
	}
	if _, _, ok := objects.get("images-dest-1", "720p/photos/sunset.webp"); ok {
		t.Fatal("expected failed rendition to leave no object")
	}
}

func TestProcessSourceMissingObjectIsFatal(t *testing.T) {
	objects := newMemoryObjects()
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{Location: "images-source-1", Key: "missing.png"})
	if result.Status() != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", result.Status())
	}
	if result.FatalKind != domain.KindNotFound {
		t.Fatalf("expected not_found, got %q (%v)", result.FatalKind, result.Fatal)
	}
	if len(result.Outcomes) != 0 || objects.putCalls != 0 {
		t.Fatalf("expected no rendition attempts, got %d outcomes and %d puts", len(result.Outcomes), objects.putCalls)
	}
}

func TestProcessSourceUndecodableIsFatal(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/notes.png"] = []byte("plain text pretending to be a png")
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{Location: "images-source-1", Key: "notes.png"})
	if result.FatalKind != domain.KindDecode {
		t.Fatalf("expected decode failure, got %q (%v)", result.FatalKind, result.Fatal)
	}
	if objects.putCalls != 0 {
		t.Fatalf("expected no publishes, got %d", objects.putCalls)
	}
}

func TestProcessSourceUnmappableLocation(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-raw-1/a.png"] = buildTestPNG(t, 100, 100)
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{Location: "images-raw-1", Key: "a.png"})
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected one outcome per label, got %d", len(result.Outcomes))
	}
	for _, outcome := range result.Outcomes {
		if outcome.Kind != domain.KindConfig {
			t.Fatalf("%s: expected config failure, got %q", outcome.Label, outcome.Kind)
		}
	}
	if objects.putCalls != 0 {
		t.Fatalf("expected nothing written back to the source location, got %d puts", objects.putCalls)
	}
}

func TestProcessSourceLabelsSubset(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/a.png"] = buildTestPNG(t, 800, 600)
	processor := newTestProcessor(t, objects, nil)

	result := processor.ProcessSource(context.Background(), domain.SourceRef{
		Location: "images-source-1",
		Key:      "a.png",
		Labels:   []string{"mobile", "8k"},
	})
	if len(result.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(result.Outcomes))
	}
	if result.Outcomes[0].Label != "mobile" || !result.Outcomes[0].Succeeded() {
		t.Fatalf("expected mobile to succeed, got %+v", result.Outcomes[0])
	}
	if result.Outcomes[1].Label != "8k" || result.Outcomes[1].Kind != domain.KindConfig {
		t.Fatalf("expected unknown label config failure, got %+v", result.Outcomes[1])
	}
	if objects.putCalls != 1 {
		t.Fatalf("expected exactly one publish, got %d", objects.putCalls)
	}
}

type cancelAfterEncode struct {
	Transcoder
	cancel context.CancelFunc
}

func (c cancelAfterEncode) Encode(ctx context.Context, src Source, width, height int, format domain.Format, quality int) ([]byte, error) {
	data, err := c.Transcoder.Encode(ctx, src, width, height, format, quality)
	c.cancel()
	return data, err
}

func TestProcessSourceCancellationMarksPendingRenditions(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/a.png"] = buildTestPNG(t, 800, 600)

	base, err := newTranscoder()
	if err != nil {
		t.Fatalf("new transcoder: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	processor := newTestProcessor(t, objects, func(o *Options) {
		o.Transcoder = cancelAfterEncode{Transcoder: base, cancel: cancel}
		o.RenditionConcurrency = 1
	})

	result := processor.ProcessSource(ctx, domain.SourceRef{Location: "images-source-1", Key: "a.png"})
	if len(result.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(result.Outcomes))
	}
	if !result.Outcomes[0].Succeeded() {
		t.Fatalf("expected first rendition to finish, got %v", result.Outcomes[0].Err)
	}
	for _, outcome := range result.Outcomes[1:] {
		if outcome.Kind != domain.KindCanceled {
			t.Fatalf("%s: expected canceled, got %q", outcome.Label, outcome.Kind)
		}
	}
}

func TestProcessEventKeepsRecordOrderAndRetrySubset(t *testing.T) {
	objects := newMemoryObjects()
	objects.objects["images-source-1/a.png"] = buildTestPNG(t, 800, 600)
	objects.objects["images-source-1/b.png"] = buildTestPNG(t, 800, 600)
	objects.objects["images-source-1/c.txt"] = []byte("not an image")
	objects.failPut = func(_, key string) error {
		if key == "mobile/b.webp" {
			return errors.New("throttled")
		}
		return nil
	}
	processor := newTestProcessor(t, objects, func(o *Options) { o.SourceConcurrency = 3 })

	event := domain.TriggerEvent{Records: []domain.SourceRef{
		{Location: "images-source-1", Key: "a.png"},
		{Location: "images-source-1", Key: "b.png"},
		{Location: "images-source-1", Key: "c.txt"},
		{Location: "images-source-1", Key: "gone.png"},
	}}
	result := processor.ProcessEvent(context.Background(), event)

	if len(result.Results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(result.Results))
	}
	for i, rec := range event.Records {
		if result.Results[i].Source.Key != rec.Key {
			t.Fatalf("result %d: expected %s, got %s", i, rec.Key, result.Results[i].Source.Key)
		}
	}
	if result.OK() {
		t.Fatal("expected event result to report failures")
	}
	if got := len(result.Failures()); got != 3 {
		t.Fatalf("expected 3 failures, got %d: %+v", got, result.Failures())
	}

	want := []domain.SourceRef{
		{Location: "images-source-1", Key: "b.png", Labels: []string{"mobile"}},
		{Location: "images-source-1", Key: "gone.png"},
	}
	if got := result.RetrySubset(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected retry subset %+v, got %+v", want, got)
	}
}

func TestNewProcessorRequiresStages(t *testing.T) {
	if _, err := NewProcessor(Options{Publisher: LocalFilePublisher{}, Destination: FixedLocation("x")}); err == nil {
		t.Fatal("expected error without fetcher")
	}
	if _, err := NewProcessor(Options{Fetcher: LocalFileFetcher{}, Destination: FixedLocation("x")}); err == nil {
		t.Fatal("expected error without publisher")
	}
	if _, err := NewProcessor(Options{Fetcher: LocalFileFetcher{}, Publisher: LocalFilePublisher{}}); err == nil {
		t.Fatal("expected error without destination")
	}
}

func decodePNGSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png config: %v", err)
	}
	return cfg.Width, cfg.Height
}
