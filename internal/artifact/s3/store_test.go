package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/artifact"
)

func TestPutUsesPrefixAndNormalizedKey(t *testing.T) {
	fake := &fakeBucketClient{}
	store, err := newStore(fake, "bucket-a", "/querypilot/prod/")
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}

	_, err = store.Put(context.Background(), "/s1/date=2026-01-02/turn-000001/chart.vl.json", bytes.NewBufferString("{}"), 2, "application/json")
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if fake.lastBucket != "bucket-a" {
		t.Fatalf("bucket = %q", fake.lastBucket)
	}
	if fake.lastKey != "querypilot/prod/s1/date=2026-01-02/turn-000001/chart.vl.json" {
		t.Fatalf("key = %q", fake.lastKey)
	}
	if fake.lastContentType != "application/json" {
		t.Fatalf("content type = %q", fake.lastContentType)
	}
}

func TestPutRejectsPathTraversal(t *testing.T) {
	store, err := newStore(&fakeBucketClient{}, "bucket-a", "")
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	for _, key := range []string{"../secrets.txt", "..", " "} {
		if _, err := store.Put(context.Background(), key, bytes.NewBufferString("x"), 1, ""); err == nil {
			t.Fatalf("expected validation error for key %q", key)
		}
	}
}

func TestEnsureBucketCreatesWhenMissing(t *testing.T) {
	fake := &fakeBucketClient{}
	store, err := newStore(fake, "bucket-a", "")
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.ensureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("ensureBucket() error = %v", err)
	}
	if fake.madeBucketRegion != "us-east-1" {
		t.Fatalf("MakeBucket region = %q", fake.madeBucketRegion)
	}
}

func TestDeleteIgnoresMissingObject(t *testing.T) {
	store, err := newStore(&fakeBucketClient{removeErr: artifact.ErrObjectNotFound}, "bucket-a", "")
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if err := store.Delete(context.Background(), "missing/result.parquet"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
}

func TestStatMapsNotFound(t *testing.T) {
	store, err := newStore(&fakeBucketClient{statErr: artifact.ErrObjectNotFound}, "bucket-a", "")
	if err != nil {
		t.Fatalf("newStore() error = %v", err)
	}
	if _, err := store.Stat(context.Background(), "missing"); !errors.Is(err, artifact.ErrObjectNotFound) {
		t.Fatalf("Stat() error = %v", err)
	}
}

func TestParseEndpoint(t *testing.T) {
	cases := []struct {
		raw      string
		useSSL   bool
		endpoint string
		secure   bool
	}{
		{raw: "https://minio.example.com", endpoint: "minio.example.com", secure: true},
		{raw: "http://localhost:9000", endpoint: "localhost:9000"},
		{raw: "localhost:9000", useSSL: true, endpoint: "localhost:9000", secure: true},
	}
	for _, tc := range cases {
		endpoint, secure, err := parseEndpoint(tc.raw, tc.useSSL)
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tc.raw, err)
		}
		if endpoint != tc.endpoint || secure != tc.secure {
			t.Fatalf("parseEndpoint(%q) = %q/%v", tc.raw, endpoint, secure)
		}
	}
	if _, _, err := parseEndpoint("", false); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}

func TestNewStoreRequiresBucket(t *testing.T) {
	if _, err := newStore(&fakeBucketClient{}, " ", ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

type fakeBucketClient struct {
	lastBucket       string
	lastKey          string
	lastContentType  string
	madeBucketRegion string
	removeErr        error
	statErr          error
}

func (f *fakeBucketClient) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, contentType string) (artifact.ObjectInfo, error) {
	f.lastBucket = bucket
	f.lastKey = key
	f.lastContentType = contentType
	_, _ = io.Copy(io.Discard, reader)
	return artifact.ObjectInfo{Key: key, Size: size, ETag: "etag-1"}, nil
}

func (f *fakeBucketClient) GetObject(_ context.Context, _, key string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(key)), nil
}

func (f *fakeBucketClient) StatObject(_ context.Context, _, key string) (artifact.ObjectInfo, error) {
	if f.statErr != nil {
		return artifact.ObjectInfo{}, f.statErr
	}
	return artifact.ObjectInfo{Key: key, Size: 10, LastModified: time.Now().UTC()}, nil
}

func (f *fakeBucketClient) RemoveObject(context.Context, string, string) error {
	return f.removeErr
}

func (f *fakeBucketClient) BucketExists(context.Context, string) (bool, error) {
	return false, nil
}

func (f *fakeBucketClient) MakeBucket(_ context.Context, _, region string) error {
	f.madeBucketRegion = region
	return nil
}
