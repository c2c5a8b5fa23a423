// Package storage pushes backup artifacts to an object store.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kebairia/backupd/internal/config"
	"github.com/kebairia/backupd/internal/logger"
)

var (
	// ErrUploadFailed wraps every provider error returned by Upload.
	ErrUploadFailed = errors.New("upload failed")
	// ErrArtifactExists means the destination name is already taken.
	ErrArtifactExists = errors.New("artifact already exists")
	// ErrExistenceUnknown is returned by a Backend whose credentials may
	// write objects but not look them up.
	ErrExistenceUnknown = errors.New("object existence cannot be checked")
)

const contentType = "application/octet-stream"

// Locator identifies an uploaded artifact.
type Locator struct {
	Name string            `json:"name"`
	URL  string            `json:"url"`
	Data map[string]string `json:"data,omitempty"`
}

// Backend is the provider-specific half of an upload.
type Backend interface {
	Exists(ctx context.Context, region, bucket, key string) (bool, error)
	Put(ctx context.Context, region, bucket, key, localPath string) (map[string]string, error)
	ObjectURL(region, bucket, key string) string
}

// Option lets you override default settings on a Coordinator.
type Option func(*Coordinator)

// Coordinator uploads artifacts through a Backend and builds their locator.
type Coordinator struct {
	backend       Backend
	prefix        string
	publicBaseURL string
	log           logger.Logger
}

// WithPrefix stores every artifact under prefix.
func WithPrefix(prefix string) Option {
	return func(c *Coordinator) {
		c.prefix = strings.Trim(prefix, "/")
	}
}

// WithPublicBaseURL overrides the provider URL, e.g. for a CDN in front of the bucket.
func WithPublicBaseURL(base string) Option {
	return func(c *Coordinator) {
		c.publicBaseURL = strings.TrimRight(base, "/")
	}
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCoordinator wraps backend.
func NewCoordinator(backend Backend, opts ...Option) *Coordinator {
	c := &Coordinator{backend: backend, log: logger.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// New builds the Coordinator for the configured provider.
func New(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (*Coordinator, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Provider {
	case config.ProviderS3:
		backend, err = NewS3Backend(ctx, cfg)
	case config.ProviderMinIO:
		backend, err = NewMinIOBackend(cfg)
	default:
		err = fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("storage backend: %w", err)
	}
	return NewCoordinator(backend,
		WithPrefix(cfg.Prefix),
		WithPublicBaseURL(cfg.PublicBaseURL),
		WithLogger(log),
	), nil
}

// Upload pushes localPath to bucket as destinationName. The local file is left in place.
// Errors wrap ErrUploadFailed and keep the provider message intact.
func (c *Coordinator) Upload(ctx context.Context, destinationName, localPath, region, bucket string) (Locator, error) {
	key := destinationName
	if c.prefix != "" {
		key = path.Join(c.prefix, destinationName)
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	exists, err := c.backend.Exists(ctx, region, bucket, key)
	switch {
	case errors.Is(err, ErrExistenceUnknown):
		c.log.Warn("overwrite check skipped",
			"bucket", bucket,
			"key", key,
			"error", err.Error(),
		)
	case err != nil:
		return Locator{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	case exists:
		return Locator{}, fmt.Errorf("%w: %w: s3://%s/%s", ErrUploadFailed, ErrArtifactExists, bucket, key)
	}

	c.log.Info("upload started",
		"bucket", bucket,
		"key", key,
		"size", humanize.Bytes(uint64(info.Size())),
	)
	startTime := time.Now()
	data, err := c.backend.Put(ctx, region, bucket, key, localPath)
	if err != nil {
		return Locator{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if data == nil {
		data = make(map[string]string)
	}
	data["bucket"] = bucket
	data["region"] = region
	data["key"] = key
	data["size"] = humanize.Bytes(uint64(info.Size()))

	loc := Locator{
		Name: key,
		URL:  c.objectURL(region, bucket, key),
		Data: data,
	}
	c.log.Info("upload completed",
		"url", loc.URL,
		"duration", time.Since(startTime).String(),
	)
	return loc, nil
}

func (c *Coordinator) objectURL(region, bucket, key string) string {
	if c.publicBaseURL != "" {
		return c.publicBaseURL + "/" + escapeKey(key)
	}
	return c.backend.ObjectURL(region, bucket, key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return strings.TrimRight(endpoint, "/")
	}
	scheme := "https://"
	if !useSSL {
		scheme = "http://"
	}
	return scheme + strings.TrimRight(endpoint, "/")
}
