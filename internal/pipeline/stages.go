package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dunamismax/rendition/internal/storage"
)

type Fetcher interface {
	Fetch(ctx context.Context, location, key string) ([]byte, error)
}

// Publisher writes one rendition. A failed Publish must leave no partial
// object behind.
type Publisher interface {
	Publish(ctx context.Context, location, key string, data []byte, contentType string) error
}

type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

type ObjectStoreFetcher struct {
	Store ObjectReader
}

func (f ObjectStoreFetcher) Fetch(ctx context.Context, location, key string) ([]byte, error) {
	if f.Store == nil {
		return nil, fmt.Errorf("%w: object store is not configured", ErrFetch)
	}
	data, err := f.Store.ReadObject(ctx, location, key)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, location, key)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return data, nil
}

// ObjectStorePublisher relies on the store's single PUT being atomic.
type ObjectStorePublisher struct {
	Store ObjectWriter
}

func (p ObjectStorePublisher) Publish(ctx context.Context, location, key string, data []byte, contentType string) error {
	if p.Store == nil {
		return fmt.Errorf("%w: object store is not configured", ErrWrite)
	}
	if err := p.Store.WriteObject(ctx, location, key, data, contentType); err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	return nil
}

// LocalFileFetcher treats the location as a directory and the key as a
// slash separated path below it.
type LocalFileFetcher struct{}

func (LocalFileFetcher) Fetch(ctx context.Context, location, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fullPath, err := localPath(location, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, fullPath)
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrFetch, fullPath, err)
	}
	return data, nil
}

// LocalFilePublisher writes to a temporary file and renames it into place so
// readers never observe a partial rendition.
type LocalFilePublisher struct{}

func (LocalFilePublisher) Publish(ctx context.Context, location, key string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath, err := localPath(location, key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWrite, err)
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create output dir: %v", ErrWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ".rendition-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %v", ErrWrite, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write %s: %v", ErrWrite, fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", ErrWrite, fullPath, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: chmod %s: %v", ErrWrite, fullPath, err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("%w: rename into %s: %v", ErrWrite, fullPath, err)
	}
	return nil
}

func localPath(location, key string) (string, error) {
	if strings.TrimSpace(location) == "" {
		return "", errors.New("location directory is required")
	}
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes location %s", key, location)
	}
	return filepath.Join(location, clean), nil
}
