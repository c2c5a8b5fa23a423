package operations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kebairia/backupd/internal/config"
	"github.com/kebairia/backupd/internal/dump"
	"github.com/kebairia/backupd/internal/logger"
	"github.com/kebairia/backupd/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Product:       "nodepress",
		OperatorEmail: "admin@example.com",
		Schedule:      config.ScheduleConfig{Cron: "0 0 3 * * *", RetryDelay: time.Minute},
		Backup: config.BackupConfig{
			Directory: filepath.Join(dir, "dbbackup"),
			FileName:  "nodepress.tar.gz",
			Script:    filepath.Join(dir, "missing.sh"),
			Shell:     "sh",
			Timeout:   time.Minute,
		},
		Storage: config.StorageConfig{
			Provider:  config.ProviderMinIO,
			Endpoint:  "127.0.0.1:1",
			Region:    "us-east-1",
			Bucket:    "backups",
			AccessKey: "ak",
			SecretKey: "sk",
		},
	}
}

func TestRunNow_MissingScriptFailsWithoutRetry(t *testing.T) {
	om, err := newOperationManager(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)

	runs, err := om.RunNow(context.Background(), false)
	require.ErrorIs(t, err, dump.ErrDumpUnavailable)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].ArtifactName)
	assert.Nil(t, runs[0].Locator)
}

func TestApplySecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.SMTP.Password = "file-pw"

	applySecrets(&cfg, vault.Secrets{StorageAccessKey: "AKID", BackupPassword: "zip-pw"})

	assert.Equal(t, "AKID", cfg.Storage.AccessKey)
	assert.Equal(t, "sk", cfg.Storage.SecretKey, "empty secrets keep file values")
	assert.Equal(t, "file-pw", cfg.SMTP.Password)
	assert.Equal(t, "zip-pw", cfg.Backup.Password)
}

func TestNewOperationManager_ReadsVaultSecrets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/kv/backupd" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"storage_secret_key": "from-vault"},
		})
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Vault = config.VaultConfig{Address: srv.URL, Token: "root", SecretPath: "kv/backupd"}

	om, err := newOperationManager(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "from-vault", om.Config().Storage.SecretKey)
}
