//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/artifact"
	"github.com/querypilot/querypilot/internal/config"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("QUERYPILOT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("QUERYPILOT_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, config.ArtifactsConfig{
		Endpoint:         endpoint,
		Region:           envOr("QUERYPILOT_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("QUERYPILOT_TEST_S3_BUCKET", "querypilot-it"),
		AccessKeyID:      envOr("QUERYPILOT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("QUERYPILOT_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := "s1/date=2026-01-02/turn-000001/chart.vl.json"
	payload := []byte(`{"mark":"bar"}`)
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	stat, err := store.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.Size != int64(len(payload)) {
		t.Fatalf("Stat().Size = %d, want %d", stat.Size, len(payload))
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got, err := io.ReadAll(reader)
	_ = reader.Close()
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() payload = %q", got)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, key); !errors.Is(err, artifact.ErrObjectNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
