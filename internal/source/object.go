package source

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/classifier/corpus"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
)

// NewMinioClient connects to the configured S3-compatible endpoint.
func NewMinioClient(cfg config.ObjectStoreConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	return client, nil
}

// Object loads a CSV corpus stored as a single object.
type Object struct {
	Client *minio.Client
	Bucket string
	Key    string
}

func (o *Object) Load(ctx context.Context) ([]corpus.Entry, error) {
	obj, err := o.Client.GetObject(ctx, o.Bucket, o.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %s/%s: %w", o.Bucket, o.Key, err)
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on Stat or the first read.
	if _, err := obj.Stat(); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
			return nil, fmt.Errorf("%w: %s/%s does not exist", ErrMalformed, o.Bucket, o.Key)
		}
		return nil, fmt.Errorf("stat %s/%s: %w", o.Bucket, o.Key, err)
	}
	entries, err := ParseCSV(obj)
	if err != nil {
		return nil, fmt.Errorf("parsing %s/%s: %w", o.Bucket, o.Key, err)
	}
	return entries, nil
}

// Store uploads entries as CSV under the source's key.
func (o *Object) Store(ctx context.Context, entries []corpus.Entry) error {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, entries); err != nil {
		return fmt.Errorf("encoding corpus: %w", err)
	}
	_, err := o.Client.PutObject(ctx, o.Bucket, o.Key, bytes.NewReader(buf.Bytes()), int64(buf.Len()),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return fmt.Errorf("uploading %s/%s: %w", o.Bucket, o.Key, err)
	}
	return nil
}

func (o *Object) Name() string { return "object:" + o.Bucket + "/" + o.Key }
