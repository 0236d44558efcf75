package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// ObjectStore is the blob store renditions are read from and published to.
// Buckets are passed per call; one store serves source and destination
// buckets alike.
type ObjectStore interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
	WriteObject(ctx context.Context, bucket, key string, data []byte, contentType string) error
	PresignedPutURL(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

type Config struct {
	Backend   string
	Endpoint  string
	Region    string
	Access    string
	Secret    string
	UseSSL    bool
	PathStyle bool
}

// Open builds the store named by cfg.Backend.
func Open(ctx context.Context, cfg Config) (ObjectStore, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMinIO:
		return NewMinIOClient(cfg)
	case BackendS3:
		return NewS3Client(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}

// BucketEnsurer creates a bucket when it does not exist yet.
type BucketEnsurer interface {
	EnsureBucket(ctx context.Context, bucket string) error
}

// EnsureBuckets makes sure every named bucket exists. Blank and repeated
// names are skipped.
func EnsureBuckets(ctx context.Context, store BucketEnsurer, buckets ...string) error {
	seen := make(map[string]struct{}, len(buckets))
	for _, bucket := range buckets {
		bucket = strings.TrimSpace(bucket)
		if bucket == "" {
			continue
		}
		if _, ok := seen[bucket]; ok {
			continue
		}
		seen[bucket] = struct{}{}
		if err := store.EnsureBucket(ctx, bucket); err != nil {
			return fmt.Errorf("ensure bucket %s: %w", bucket, err)
		}
	}
	return nil
}
