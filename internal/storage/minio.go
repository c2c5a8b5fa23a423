package storage

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kebairia/backupd/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOBackend stores artifacts in an S3-compatible server through minio-go.
// The client is bound to the configured region.
type MinIOBackend struct {
	client *minio.Client
}

// NewMinIOBackend builds the minio client for cfg.Endpoint.
func NewMinIOBackend(cfg config.StorageConfig) (*MinIOBackend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimRight(endpoint, "/")
	if endpoint == "" {
		return nil, fmt.Errorf("minio: endpoint is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: new client: %w", err)
	}
	return &MinIOBackend{client: client}, nil
}

// Exists reports whether key is present in bucket.
func (b *MinIOBackend) Exists(ctx context.Context, _, bucket, key string) (bool, error) {
	_, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden {
		return false, fmt.Errorf("%w: %w", ErrExistenceUnknown, err)
	}
	return false, err
}

// Put uploads localPath to bucket/key.
func (b *MinIOBackend) Put(ctx context.Context, _, bucket, key, localPath string) (map[string]string, error) {
	info, err := b.client.FPutObject(ctx, bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, err
	}
	data := map[string]string{
		"etag":  info.ETag,
		"bytes": strconv.FormatInt(info.Size, 10),
	}
	if info.VersionID != "" {
		data["version_id"] = info.VersionID
	}
	return data, nil
}

// ObjectURL returns endpoint/bucket/key.
func (b *MinIOBackend) ObjectURL(_, bucket, key string) string {
	u := *b.client.EndpointURL()
	return strings.TrimRight(u.String(), "/") + "/" + bucket + "/" + escapeKey(key)
}
