package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/kebairia/backupd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	existing  map[string]bool
	existsErr error
	putErr    error
	puts     []string
}

func (f *fakeBackend) Exists(_ context.Context, _, bucket, key string) (bool, error) {
	return f.existing[bucket+"/"+key], f.existsErr
}

func (f *fakeBackend) Put(_ context.Context, _, bucket, key, _ string) (map[string]string, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.puts = append(f.puts, bucket+"/"+key)
	return map[string]string{"etag": "abc123"}, nil
}

func (f *fakeBackend) ObjectURL(region, bucket, key string) string {
	return "https://store/" + region + "/" + bucket + "/" + key
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "x.tgz")
	require.NoError(t, os.WriteFile(p, []byte("artifact"), 0o600))
	return p
}

func TestUpload_Success(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := NewCoordinator(backend, WithPrefix("/db/"))
	local := writeArtifact(t)

	loc, err := c.Upload(context.Background(), "p-db-backup-2024-01-01-03:00.tgz", local, "eu-west-1", "backups")
	require.NoError(t, err)

	assert.Equal(t, "db/p-db-backup-2024-01-01-03:00.tgz", loc.Name)
	assert.Equal(t, "https://store/eu-west-1/backups/db/p-db-backup-2024-01-01-03:00.tgz", loc.URL)
	assert.Equal(t, "abc123", loc.Data["etag"])
	assert.Equal(t, "backups", loc.Data["bucket"])
	assert.Equal(t, []string{"backups/db/p-db-backup-2024-01-01-03:00.tgz"}, backend.puts)
	assert.FileExists(t, local, "local artifact must be kept")
}

func TestUpload_PublicBaseURL(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeBackend{}, WithPublicBaseURL("https://cdn.example.com/"))
	loc, err := c.Upload(context.Background(), "a b.tgz", writeArtifact(t), "r", "b")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/a%20b.tgz", loc.URL)
}

func TestUpload_ProviderErrorPreserved(t *testing.T) {
	t.Parallel()

	c := NewCoordinator(&fakeBackend{putErr: errors.New("network timeout")})
	_, err := c.Upload(context.Background(), "n.tgz", writeArtifact(t), "r", "b")
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Contains(t, err.Error(), "network timeout")
}

func TestUpload_ExistenceUnknownStillUploads(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{existsErr: fmt.Errorf("%w: 403 Forbidden", ErrExistenceUnknown)}
	_, err := NewCoordinator(backend).Upload(context.Background(), "n.tgz", writeArtifact(t), "r", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b/n.tgz"}, backend.puts)
}

func TestUpload_ExistsErrorFails(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{existsErr: errors.New("connection refused")}
	_, err := NewCoordinator(backend).Upload(context.Background(), "n.tgz", writeArtifact(t), "r", "b")
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Empty(t, backend.puts)
}

func TestUpload_RefusesOverwrite(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{existing: map[string]bool{"b/n.tgz": true}}
	c := NewCoordinator(backend)
	_, err := c.Upload(context.Background(), "n.tgz", writeArtifact(t), "r", "b")
	require.ErrorIs(t, err, ErrUploadFailed)
	require.ErrorIs(t, err, ErrArtifactExists)
	assert.Empty(t, backend.puts)
}

func TestUpload_MissingLocalFile(t *testing.T) {
	t.Parallel()

	backend := &fakeBackend{}
	c := NewCoordinator(backend)
	_, err := c.Upload(context.Background(), "n.tgz", filepath.Join(t.TempDir(), "gone"), "r", "b")
	require.ErrorIs(t, err, ErrUploadFailed)
	assert.Empty(t, backend.puts)
}

func TestNormalizeEndpoint(t *testing.T) {
	t.Parallel()

	tests := []struct {
		endpoint string
		useSSL   bool
		want     string
	}{
		{"", true, ""},
		{"minio.internal:9000", false, "http://minio.internal:9000"},
		{"s3.example.com/", true, "https://s3.example.com"},
		{"http://localhost:9000", true, "http://localhost:9000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeEndpoint(tt.endpoint, tt.useSSL), tt.endpoint)
	}
}

func TestNew_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), config.StorageConfig{Provider: "gcs"}, nil)
	require.Error(t, err)
}

func TestMinIOBackend_ObjectURL(t *testing.T) {
	t.Parallel()

	b, err := NewMinIOBackend(config.StorageConfig{
		Endpoint:  "http://minio.internal:9000",
		Region:    "us-east-1",
		AccessKey: "ak",
		SecretKey: "sk",
	})
	require.NoError(t, err)
	assert.Equal(t, "http://minio.internal:9000/db/p-db-backup-2024-01-01-03:00.tgz",
		b.ObjectURL("us-east-1", "db", "p-db-backup-2024-01-01-03:00.tgz"))
}
