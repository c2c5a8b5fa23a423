package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"
	"github.com/kebairia/backupd/internal/dump"
	"github.com/mitchellh/mapstructure"
)

const (
	approleSecretIDPath = "auth/approle/role/%s/secret-id"
	approleLoginPath    = "auth/approle/login"
)

// ErrClientInit indicates failure to initialize the Vault API client.
var ErrClientInit = errors.New("vault client initialization failed")

// ErrNoSecret means nothing was stored at the requested path.
var ErrNoSecret = errors.New("no secret at path")

type Option func(*config)

type config struct {
	address  string
	token    string
	roleID   string
	roleName string
	dbRole   string
}

type Client struct {
	api    *vault.Client
	config *config
}

type DynamicCredentials struct {
	Username string
	Password string
	TTL      time.Duration
}

// Secrets are the static values backupd reads from a KV path. Empty fields
// leave the file configuration untouched.
type Secrets struct {
	StorageAccessKey string `mapstructure:"storage_access_key"`
	StorageSecretKey string `mapstructure:"storage_secret_key"`
	SMTPPassword     string `mapstructure:"smtp_password"`
	BackupPassword   string `mapstructure:"backup_password"`
}

func WithAddress(address string) Option {
	return func(c *config) {
		if address != "" {
			c.address = address
		}
	}
}

func WithToken(token string) Option {
	return func(c *config) {
		if token != "" {
			c.token = token
		}
	}
}

func WithAppRole(roleID, roleName string) Option {
	return func(c *config) {
		c.roleID = roleID
		c.roleName = roleName
	}
}

// WithDatabaseRole sets the dynamic secrets role used by DatabaseCredentials.
func WithDatabaseRole(role string) Option {
	return func(c *config) {
		c.dbRole = role
	}
}

// NewClient creates and initializes a Vault Client using provided options.
// It will perform AppRole login if roleID and roleName are both set, otherwise
// a static token (from env or WithToken) is used.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{
		address: os.Getenv("VAULT_ADDR"),
		token:   os.Getenv("VAULT_TOKEN"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	apiCfg := vault.DefaultConfig()
	if cfg.address != "" {
		apiCfg.Address = cfg.address
	}

	api, err := vault.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClientInit, err)
	}

	client := &Client{api: api, config: cfg}

	if cfg.token != "" {
		client.api.SetToken(cfg.token)
	}

	if cfg.roleID != "" && cfg.roleName != "" {
		if err := client.loginAppRole(ctx); err != nil {
			return nil, fmt.Errorf("%w: AppRole login: %v", ErrClientInit, err)
		}
	}

	return client, nil
}

// loginAppRole performs AppRole login using the configured roleID and roleName.
func (c *Client) loginAppRole(ctx context.Context) error {
	path := fmt.Sprintf(approleSecretIDPath, c.config.roleName)
	resp, err := c.api.Logical().WriteWithContext(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("generate secret_id: %w", err)
	}
	if resp == nil {
		return fmt.Errorf("empty response from %s", path)
	}
	sid, ok := resp.Data["secret_id"].(string)
	if !ok || sid == "" {
		return fmt.Errorf("no secret_id returned from %s", path)
	}

	loginData := map[string]any{
		"role_id":   c.config.roleID,
		"secret_id": sid,
	}
	loginResp, err := c.api.Logical().WriteWithContext(ctx, approleLoginPath, loginData)
	if err != nil {
		return fmt.Errorf("approle login request: %w", err)
	}
	if loginResp == nil || loginResp.Auth == nil || loginResp.Auth.ClientToken == "" {
		return fmt.Errorf("no token in login response")
	}
	c.api.SetToken(loginResp.Auth.ClientToken)
	return nil
}

// ReadSecrets reads a KV secret and decodes it into Secrets. Both KV v1
// and v2 layouts are accepted.
func (c *Client) ReadSecrets(ctx context.Context, path string) (Secrets, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return Secrets{}, fmt.Errorf("read %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return Secrets{}, fmt.Errorf("%w: %s", ErrNoSecret, path)
	}

	data := secret.Data
	// KV v2 nests the payload under "data" next to "metadata".
	if inner, ok := data["data"].(map[string]any); ok {
		if _, hasMeta := data["metadata"]; hasMeta {
			data = inner
		}
	}

	var out Secrets
	if err := mapstructure.Decode(data, &out); err != nil {
		return Secrets{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// Get the dynamic credentials from the Vault
// using the role name, [username, password]
func (c *Client) GetDynamicCredentials(
	ctx context.Context,
	role string,
) (DynamicCredentials, error) {
	secret, err := c.api.Logical().ReadWithContext(ctx, role)
	if err != nil {
		return DynamicCredentials{}, err
	}
	if secret == nil {
		return DynamicCredentials{}, fmt.Errorf("%w: %s", ErrNoSecret, role)
	}
	user, userOK := secret.Data["username"].(string)
	pass, passOK := secret.Data["password"].(string)
	if !userOK || !passOK {
		return DynamicCredentials{}, fmt.Errorf("invalid data format at path: %s", role)
	}
	return DynamicCredentials{
		Username: user,
		Password: pass,
		TTL:      time.Duration(secret.LeaseDuration) * time.Second,
	}, nil
}

// DatabaseCredentials leases fresh credentials from the configured database role.
func (c *Client) DatabaseCredentials(ctx context.Context) (dump.Credentials, error) {
	if c.config.dbRole == "" {
		return dump.Credentials{}, fmt.Errorf("no database role configured")
	}
	creds, err := c.GetDynamicCredentials(ctx, c.config.dbRole)
	if err != nil {
		return dump.Credentials{}, err
	}
	return dump.Credentials{Username: creds.Username, Password: creds.Password}, nil
}

var _ dump.CredentialSource = (*Client)(nil)
