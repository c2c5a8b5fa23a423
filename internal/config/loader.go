package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kebairia/backupd/internal/schedule"
	"github.com/spf13/viper"
)

// ErrLoadConfig indicates a failure to read or parse the YAML configuration.
var ErrLoadConfig = errors.New("config load failed")

// ErrValidateConfig indicates that the loaded configuration is invalid.
var ErrValidateConfig = errors.New("configuration validation failed")

// EnvPrefix prefixes every environment override, e.g. BACKUPD_STORAGE_BUCKET.
const EnvPrefix = "BACKUPD"

const (
	ProviderS3    = "s3"
	ProviderMinIO = "minio"
)

// Config represents the top-level YAML configuration file.
type Config struct {
	Include       []string       `mapstructure:"include"        yaml:"include,omitempty"`
	Product       string         `mapstructure:"product"        yaml:"product"`
	OperatorEmail string         `mapstructure:"operator_email" yaml:"operator_email"`
	Schedule      ScheduleConfig `mapstructure:"schedule"       yaml:"schedule"`
	Backup        BackupConfig   `mapstructure:"backup"         yaml:"backup"`
	Storage       StorageConfig  `mapstructure:"storage"        yaml:"storage"`
	SMTP          SMTPConfig     `mapstructure:"smtp"           yaml:"smtp"`
	Vault         VaultConfig    `mapstructure:"vault"          yaml:"vault"`
	Metrics       MetricsConfig  `mapstructure:"metrics"        yaml:"metrics"`
}

// ScheduleConfig holds the cadence and the single retry delay.
type ScheduleConfig struct {
	Cron       string        `mapstructure:"cron"        yaml:"cron"`
	Timezone   string        `mapstructure:"timezone"    yaml:"timezone,omitempty"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// BackupConfig contains the dump script settings.
type BackupConfig struct {
	Directory string        `mapstructure:"directory" yaml:"directory"`
	FileName  string        `mapstructure:"file_name" yaml:"file_name"`
	Script    string        `mapstructure:"script"    yaml:"script"`
	Shell     string        `mapstructure:"shell"     yaml:"shell"`
	Timeout   time.Duration `mapstructure:"timeout"   yaml:"timeout"`
	Compress  bool          `mapstructure:"compress"  yaml:"compress"`
	Password  string        `mapstructure:"password"  yaml:"password,omitempty"`
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Provider      string `mapstructure:"provider"        yaml:"provider"`
	Region        string `mapstructure:"region"          yaml:"region"`
	Bucket        string `mapstructure:"bucket"          yaml:"bucket"`
	Endpoint      string `mapstructure:"endpoint"        yaml:"endpoint,omitempty"`
	Prefix        string `mapstructure:"prefix"          yaml:"prefix,omitempty"`
	AccessKey     string `mapstructure:"access_key"      yaml:"access_key,omitempty"`
	SecretKey     string `mapstructure:"secret_key"      yaml:"secret_key,omitempty"`
	SessionToken  string `mapstructure:"session_token"   yaml:"session_token,omitempty"`
	UseSSL        bool   `mapstructure:"use_ssl"         yaml:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url" yaml:"public_base_url,omitempty"`
}

// SMTPConfig holds the operator mail relay. An empty host disables mail.
type SMTPConfig struct {
	Host     string `mapstructure:"host"     yaml:"host,omitempty"`
	Port     int    `mapstructure:"port"     yaml:"port,omitempty"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	From     string `mapstructure:"from"     yaml:"from,omitempty"`
}

// VaultConfig holds connection settings for HashiCorp Vault.
type VaultConfig struct {
	Address    string `mapstructure:"address"     yaml:"address,omitempty"`
	Token      string `mapstructure:"token"       yaml:"token,omitempty"`
	RoleID     string `mapstructure:"role_id"     yaml:"role_id,omitempty"`
	RoleName   string `mapstructure:"role_name"   yaml:"role_name,omitempty"`
	SecretPath string `mapstructure:"secret_path" yaml:"secret_path,omitempty"`
	DBRole     string `mapstructure:"db_role"     yaml:"db_role,omitempty"`
}

// MetricsConfig enables the prometheus listener when Address is set.
type MetricsConfig struct {
	Address string `mapstructure:"address" yaml:"address,omitempty"`
}

// Enabled reports whether Vault is configured at all.
func (v VaultConfig) Enabled() bool { return v.Address != "" }

// Enabled reports whether mail delivery is configured.
func (s SMTPConfig) Enabled() bool { return s.Host != "" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("product", "backupd")
	v.SetDefault("schedule.cron", "0 0 3 * * *")
	v.SetDefault("schedule.retry_delay", 5*time.Minute)
	v.SetDefault("backup.directory", "./dbbackup")
	v.SetDefault("backup.file_name", "backup.tar.gz")
	v.SetDefault("backup.script", "./scripts/dbbackup.sh")
	v.SetDefault("backup.shell", "sh")
	v.SetDefault("backup.timeout", 30*time.Minute)
	v.SetDefault("storage.provider", ProviderS3)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("smtp.port", 587)
}

// Load reads the configuration from the given YAML file using Viper,
// merges any included files, and unmarshals into the Config struct.
func (c *Config) Load(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return fmt.Errorf("%w: bind env: %v", ErrLoadConfig, err)
	}

	// Read base configuration
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("%w: read base config %s: %v", ErrLoadConfig, path, err)
	}

	// Merge include files (if any)
	for _, inc := range v.GetStringSlice("include") {
		data, err := os.ReadFile(inc)
		if err != nil {
			return fmt.Errorf("%w: read include %s: %v", ErrLoadConfig, inc, err)
		}
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return fmt.Errorf("%w: merge include %s: %v", ErrLoadConfig, inc, err)
		}
	}

	if err := v.UnmarshalExact(c); err != nil {
		return fmt.Errorf("%w: unmarshal config: %v", ErrLoadConfig, err)
	}

	return c.Validate()
}

// bindEnvs registers every mapstructure key with viper so that env
// overrides apply to keys the file and the defaults leave out.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if field.Type.Kind() == reflect.Struct {
			if err := bindEnvs(v, field.Type, key); err != nil {
				return err
			}
			continue
		}
		env := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the fields the daemon cannot run without.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.Product) == "" {
		problems = append(problems, "product is required")
	}
	if _, err := mail.ParseAddress(c.OperatorEmail); err != nil {
		problems = append(problems, fmt.Sprintf("operator_email %q is not a valid address", c.OperatorEmail))
	}
	if strings.TrimSpace(c.Schedule.Cron) == "" {
		problems = append(problems, "schedule.cron is required")
	} else if _, err := schedule.Parse(c.Schedule.Cron); err != nil {
		problems = append(problems, fmt.Sprintf("schedule.cron: %v", err))
	}
	if c.Schedule.RetryDelay <= 0 {
		problems = append(problems, "schedule.retry_delay must be positive")
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("schedule.timezone: %v", err))
		}
	}
	if c.Backup.Script == "" {
		problems = append(problems, "backup.script is required")
	}
	if c.Backup.FileName == "" {
		problems = append(problems, "backup.file_name is required")
	}
	switch c.Storage.Provider {
	case ProviderS3:
	case ProviderMinIO:
		if c.Storage.Endpoint == "" {
			problems = append(problems, "storage.endpoint is required for minio")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.provider %q is not one of s3, minio", c.Storage.Provider))
	}
	if c.Storage.Bucket == "" {
		problems = append(problems, "storage.bucket is required")
	}
	if c.Storage.Region == "" {
		problems = append(problems, "storage.region is required")
	}
	if c.SMTP.Enabled() && c.SMTP.From == "" {
		problems = append(problems, "smtp.from is required when smtp.host is set")
	}
	if c.Vault.DBRole != "" && !c.Vault.Enabled() {
		problems = append(problems, "vault.db_role requires vault.address")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidateConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Location returns the schedule time zone, local time when unset.
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
