package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
)

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "typed no such key", err: fmt.Errorf("op: %w", &types.NoSuchKey{}), want: true},
		{name: "typed not found", err: &types.NotFound{}, want: true},
		{name: "generic api error", err: &smithy.GenericAPIError{Code: "NoSuchKey"}, want: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: false},
		{name: "transport", err: errors.New("dial tcp: connection refused"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := isS3NotFound(tc.err); got != tc.want {
				t.Fatalf("isS3NotFound(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMapMinIOError(t *testing.T) {
	missing := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: 404}
	if err := mapMinIOError(missing, "b", "k"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}

	noBucket := minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: 404}
	if err := mapMinIOError(noBucket, "b", "k"); errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("missing bucket must not look like a missing object: %v", err)
	}

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: 403}
	if err := mapMinIOError(denied, "b", "k"); errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: "ftp"}); err == nil {
		t.Fatal("expected unsupported backend error")
	}
}

func TestOpenMinIORequiresEndpoint(t *testing.T) {
	if _, err := Open(context.Background(), Config{Backend: BackendMinIO}); err == nil {
		t.Fatal("expected missing endpoint error")
	}
}

func TestS3PresignedPutURLIsSignedForBucketAndKey(t *testing.T) {
	client, err := NewS3Client(context.Background(), Config{
		Endpoint:  "localhost:9000",
		Region:    "us-east-1",
		Access:    "test",
		Secret:    "testsecret",
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("new s3 client: %v", err)
	}

	u, err := client.PresignedPutURL(context.Background(), "images-source-1", "image.jpg", "image/jpg", 300*time.Second)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	for _, want := range []string{"http://localhost:9000/images-source-1/image.jpg", "X-Amz-Expires=300", "X-Amz-Signature="} {
		if !strings.Contains(u, want) {
			t.Fatalf("expected presigned url to contain %q, got %s", want, u)
		}
	}
}

type recordingEnsurer struct {
	buckets []string
	failOn  string
}

func (r *recordingEnsurer) EnsureBucket(_ context.Context, bucket string) error {
	r.buckets = append(r.buckets, bucket)
	if bucket == r.failOn {
		return errors.New("access denied")
	}
	return nil
}

func TestEnsureBucketsSkipsBlankAndRepeated(t *testing.T) {
	store := &recordingEnsurer{}
	if err := EnsureBuckets(context.Background(), store, "images-source-1", "", "images-dest-1", "images-source-1"); err != nil {
		t.Fatalf("ensure buckets: %v", err)
	}
	if strings.Join(store.buckets, ",") != "images-source-1,images-dest-1" {
		t.Fatalf("unexpected buckets %v", store.buckets)
	}
}

func TestEnsureBucketsStopsOnError(t *testing.T) {
	store := &recordingEnsurer{failOn: "images-source-1"}
	err := EnsureBuckets(context.Background(), store, "images-source-1", "images-dest-1")
	if err == nil || !strings.Contains(err.Error(), "images-source-1") {
		t.Fatalf("expected error naming the bucket, got %v", err)
	}
	if len(store.buckets) != 1 {
		t.Fatalf("expected to stop after the failure, got %v", store.buckets)
	}
}
