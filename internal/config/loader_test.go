package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
product: nodepress
operator_email: admin@example.com
storage:
  region: eu-west-1
  bucket: nodepress-backups
`)
	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "nodepress", cfg.Product)
	assert.Equal(t, "0 0 3 * * *", cfg.Schedule.Cron)
	assert.Equal(t, 5*time.Minute, cfg.Schedule.RetryDelay)
	assert.Equal(t, "sh", cfg.Backup.Shell)
	assert.Equal(t, 30*time.Minute, cfg.Backup.Timeout)
	assert.Equal(t, ProviderS3, cfg.Storage.Provider)
	assert.True(t, cfg.Storage.UseSSL)
	assert.False(t, cfg.SMTP.Enabled())
	assert.False(t, cfg.Vault.Enabled())
}

func TestLoad_ParsesDurationsAndIncludes(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "smtp.yaml")
	require.NoError(t, os.WriteFile(inc, []byte(`
smtp:
  host: smtp.example.com
  port: 2525
  from: backups@example.com
`), 0o600))

	path := writeConfig(t, `
include:
  - `+inc+`
product: nodepress
operator_email: admin@example.com
schedule:
  cron: "0 30 2 * * *"
  retry_delay: 90s
backup:
  timeout: 10m
  compress: true
storage:
  provider: minio
  endpoint: minio.internal:9000
  region: us-east-1
  bucket: db
`)
	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, 90*time.Second, cfg.Schedule.RetryDelay)
	assert.Equal(t, 10*time.Minute, cfg.Backup.Timeout)
	assert.True(t, cfg.Backup.Compress)
	assert.Equal(t, "smtp.example.com", cfg.SMTP.Host)
	assert.Equal(t, 2525, cfg.SMTP.Port)
	assert.True(t, cfg.SMTP.Enabled())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("BACKUPD_STORAGE_BUCKET", "from-env")
	path := writeConfig(t, `
product: nodepress
operator_email: admin@example.com
storage:
  region: eu-west-1
  bucket: from-file
`)
	var cfg Config
	require.NoError(t, cfg.Load(path))
	assert.Equal(t, "from-env", cfg.Storage.Bucket)
}

func TestLoad_EnvOverrideForKeysAbsentFromFile(t *testing.T) {
	t.Setenv("BACKUPD_STORAGE_SECRET_KEY", "env-secret")
	t.Setenv("BACKUPD_STORAGE_ACCESS_KEY", "env-access")
	t.Setenv("BACKUPD_SMTP_PASSWORD", "env-smtp")
	t.Setenv("BACKUPD_VAULT_TOKEN", "env-token")
	t.Setenv("BACKUPD_SCHEDULE_RETRY_DELAY", "2m")
	path := writeConfig(t, `
product: nodepress
operator_email: admin@example.com
storage:
  region: eu-west-1
  bucket: nodepress-backups
`)
	var cfg Config
	require.NoError(t, cfg.Load(path))

	assert.Equal(t, "env-secret", cfg.Storage.SecretKey)
	assert.Equal(t, "env-access", cfg.Storage.AccessKey)
	assert.Equal(t, "env-smtp", cfg.SMTP.Password)
	assert.Equal(t, "env-token", cfg.Vault.Token)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.RetryDelay)
}

func TestLoad_InvalidCronRejected(t *testing.T) {
	path := writeConfig(t, `
product: nodepress
operator_email: admin@example.com
schedule:
  cron: "61 * * * * *"
storage:
  region: eu-west-1
  bucket: nodepress-backups
`)
	var cfg Config
	err := cfg.Load(path)
	require.ErrorIs(t, err, ErrValidateConfig)
	assert.Contains(t, err.Error(), "schedule.cron")
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
product: nodepress
operator_email: admin@example.com
unknown_section:
  foo: bar
`)
	var cfg Config
	err := cfg.Load(path)
	require.ErrorIs(t, err, ErrLoadConfig)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Product:       "nodepress",
			OperatorEmail: "admin@example.com",
			Schedule:      ScheduleConfig{Cron: "0 0 3 * * *", RetryDelay: time.Minute},
			Backup:        BackupConfig{Script: "dump.sh", FileName: "x.tar.gz"},
			Storage:       StorageConfig{Provider: ProviderS3, Region: "eu-west-1", Bucket: "b"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad operator address",
			mutate:  func(c *Config) { c.OperatorEmail = "nobody" },
			wantErr: "operator_email",
		},
		{
			name:    "zero retry delay",
			mutate:  func(c *Config) { c.Schedule.RetryDelay = 0 },
			wantErr: "retry_delay",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.Storage.Provider = "gcs" },
			wantErr: "storage.provider",
		},
		{
			name:    "minio without endpoint",
			mutate:  func(c *Config) { c.Storage.Provider = ProviderMinIO },
			wantErr: "storage.endpoint",
		},
		{
			name:    "smtp without sender",
			mutate:  func(c *Config) { c.SMTP.Host = "smtp.example.com" },
			wantErr: "smtp.from",
		},
		{
			name:    "unparsable cron",
			mutate:  func(c *Config) { c.Schedule.Cron = "every day" },
			wantErr: "schedule.cron",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" },
			wantErr: "schedule.timezone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrValidateConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
