package source

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

// TestObjectIntegration requires a running MinIO instance.
func TestObjectIntegration(t *testing.T) {
	endpoint := os.Getenv("TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	client, err := NewMinioClient(config.ObjectStoreConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	bucket := "ncd-test"
	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	obj := &Object{Client: client, Bucket: bucket, Key: fmt.Sprintf("corpus-%d.csv", time.Now().UnixNano())}
	entries := []corpus.Entry{{Text: "cat sat on mat", Label: "animal"}, {Text: "stock market fell", Label: "finance"}}
	require.NoError(t, obj.Store(ctx, entries))
	t.Cleanup(func() { client.RemoveObject(context.Background(), bucket, obj.Key, minio.RemoveObjectOptions{}) })

	got, err := obj.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, entries, got)

	missing := &Object{Client: client, Bucket: bucket, Key: "does-not-exist.csv"}
	_, err = missing.Load(ctx)
	assert.ErrorIs(t, err, ErrMalformed)
}
