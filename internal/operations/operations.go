package operations

import (
	"context"
	"fmt"

	"github.com/juju/clock"
	"github.com/kebairia/backupd/internal/artifact"
	"github.com/kebairia/backupd/internal/config"
	"github.com/kebairia/backupd/internal/dump"
	"github.com/kebairia/backupd/internal/logger"
	"github.com/kebairia/backupd/internal/metrics"
	"github.com/kebairia/backupd/internal/notify"
	"github.com/kebairia/backupd/internal/orchestrator"
	"github.com/kebairia/backupd/internal/storage"
	"github.com/kebairia/backupd/internal/vault"
)

// OperationManager holds the loaded configuration and the components built from it.
type OperationManager struct {
	cfg         config.Config
	vaultClient *vault.Client
	log         logger.Logger

	Metrics      *metrics.Collector
	Orchestrator *orchestrator.Orchestrator
}

// NewOperationManager loads and validates the YAML config at configPath,
// resolves secrets from Vault when configured, and wires the orchestrator.
func NewOperationManager(ctx context.Context, configPath string, log logger.Logger) (*OperationManager, error) {
	var cfg config.Config
	if err := cfg.Load(configPath); err != nil {
		return nil, err
	}
	return newOperationManager(ctx, cfg, log)
}

func newOperationManager(ctx context.Context, cfg config.Config, log logger.Logger) (*OperationManager, error) {
	om := &OperationManager{cfg: cfg, log: log}

	if cfg.Vault.Enabled() {
		if err := om.initVault(ctx); err != nil {
			return nil, err
		}
	}

	dumpOpts := []dump.Option{dump.WithLogger(log.With("component", "dump"))}
	if om.vaultClient != nil && om.cfg.Vault.DBRole != "" {
		dumpOpts = append(dumpOpts, dump.WithCredentialSource(om.vaultClient))
	}
	runner := dump.NewRunner(om.cfg.Backup, dumpOpts...)

	uploader, err := storage.New(ctx, om.cfg.Storage, log.With("component", "storage"))
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	notifier, err := notify.New(&om.cfg, log.With("component", "notify"))
	if err != nil {
		return nil, fmt.Errorf("init notifier: %w", err)
	}

	om.Metrics = metrics.NewCollector()
	orch, err := orchestrator.New(orchestrator.Config{
		Product:    om.cfg.Product,
		Region:     om.cfg.Storage.Region,
		Bucket:     om.cfg.Storage.Bucket,
		RetryDelay: om.cfg.Schedule.RetryDelay,
		Namer:      artifact.Namer{Product: om.cfg.Product},
		Dumper:     runner,
		Uploader:   uploader,
		Notifier:   notifier,
		Clock:      clock.WallClock,
		Sink: orchestrator.Sinks{
			orchestrator.LogSink(log.With("component", "orchestrator")),
			om.Metrics,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	om.Orchestrator = orch
	return om, nil
}

// initVault logs in and overlays any secrets stored at vault.secret_path.
func (om *OperationManager) initVault(ctx context.Context) error {
	vc := om.cfg.Vault
	vaultClient, err := vault.NewClient(ctx,
		vault.WithAddress(vc.Address),
		vault.WithToken(vc.Token),
		vault.WithAppRole(vc.RoleID, vc.RoleName),
		vault.WithDatabaseRole(vc.DBRole),
	)
	if err != nil {
		return fmt.Errorf("vault client init: %w", err)
	}
	om.vaultClient = vaultClient

	if vc.SecretPath == "" {
		return nil
	}
	secrets, err := vaultClient.ReadSecrets(ctx, vc.SecretPath)
	if err != nil {
		return fmt.Errorf("vault secrets: %w", err)
	}
	applySecrets(&om.cfg, secrets)
	om.log.Info("secrets loaded from vault", "path", vc.SecretPath)
	return nil
}

func applySecrets(cfg *config.Config, s vault.Secrets) {
	if s.StorageAccessKey != "" {
		cfg.Storage.AccessKey = s.StorageAccessKey
	}
	if s.StorageSecretKey != "" {
		cfg.Storage.SecretKey = s.StorageSecretKey
	}
	if s.SMTPPassword != "" {
		cfg.SMTP.Password = s.SMTPPassword
	}
	if s.BackupPassword != "" {
		cfg.Backup.Password = s.BackupPassword
	}
}

// Config returns the effective configuration after secrets were applied.
func (om *OperationManager) Config() config.Config {
	return om.cfg
}
