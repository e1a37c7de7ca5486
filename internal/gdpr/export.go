package gdpr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Exporter writes customer data-request packages to object storage so the
// merchant can hand them to the customer.
type Exporter struct {
	client *minio.Client
	bucket string
}

// NewExporter connects to the object store and ensures the bucket exists.
func NewExporter(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Exporter, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	return &Exporter{client: client, bucket: bucket}, nil
}

// Upload stores one export package as JSON and returns the object key.
func (e *Exporter) Upload(ctx context.Context, pkg ExportPackage) (string, error) {
	body, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal export package: %w", err)
	}

	key := fmt.Sprintf("%s/%s-%s.json", pkg.Shop, pkg.RequestID, time.Now().UTC().Format("20060102T150405Z"))
	_, err = e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("upload export package: %w", err)
	}
	return key, nil
}
