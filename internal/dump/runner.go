// Package dump runs the external database dump script.
package dump

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kebairia/backupd/internal/artifact"
	"github.com/kebairia/backupd/internal/config"
	"github.com/kebairia/backupd/internal/logger"
)

var (
	// ErrDumpUnavailable means the script could not be invoked at all.
	ErrDumpUnavailable = errors.New("dump unavailable")
	// ErrDumpFailed means the script ran and reported failure.
	ErrDumpFailed = errors.New("dump failed")
	// ErrTimeout is the cancellation cause when the script exceeds its timeout.
	ErrTimeout = errors.New("dump timed out")
)

// outputTailSize bounds how much script output is kept for diagnostics.
const outputTailSize = 2048

const waitDelay = 10 * time.Second

// Credentials are handed to the script through its environment.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource resolves database credentials before each invocation.
type CredentialSource interface {
	DatabaseCredentials(ctx context.Context) (Credentials, error)
}

// Result describes one script invocation.
type Result struct {
	ExitCode     int
	ArtifactPath string
	SizeBytes    int64
	Output       string
	Duration     time.Duration
}

// Option lets you override default settings on a Runner.
type Option func(*Runner)

// Runner invokes the dump script and reports the artifact it produced.
type Runner struct {
	Script       string
	Shell        string
	ArtifactPath string
	Password     string
	Timeout      time.Duration
	Compress     bool
	Credentials  CredentialSource
	Logger       logger.Logger
}

// NewRunner returns a Runner configured from cfg plus any overrides.
func NewRunner(cfg config.BackupConfig, opts ...Option) *Runner {
	r := &Runner{
		Script:       cfg.Script,
		Shell:        cfg.Shell,
		ArtifactPath: filepath.Join(cfg.Directory, cfg.FileName),
		Password:     cfg.Password,
		Timeout:      cfg.Timeout,
		Compress:     cfg.Compress,
		Logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithCredentialSource passes per-run database credentials to the script.
func WithCredentialSource(src CredentialSource) Option {
	return func(r *Runner) {
		if src != nil {
			r.Credentials = src
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log logger.Logger) Option {
	return func(r *Runner) {
		if log != nil {
			r.Logger = log
		}
	}
}

// WithCompress toggles zstd packaging of the artifact.
func WithCompress(compress bool) Option {
	return func(r *Runner) {
		r.Compress = compress
	}
}

// ArtifactExt is the extension of the artifact Run will return.
func (r *Runner) ArtifactExt() string {
	if r.Compress {
		return artifact.ExtOf(r.ArtifactPath) + artifact.ZstdExt
	}
	return artifact.ExtOf(r.ArtifactPath)
}

func (r *Runner) preflight() error {
	info, err := os.Stat(r.Script)
	if err != nil {
		return fmt.Errorf("%w: script %q: %v", ErrDumpUnavailable, r.Script, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: script %q is a directory", ErrDumpUnavailable, r.Script)
	}
	if _, err := exec.LookPath(r.shell()); err != nil {
		return fmt.Errorf("%w: shell %q: %v", ErrDumpUnavailable, r.shell(), err)
	}
	return nil
}

func (r *Runner) shell() string {
	if r.Shell == "" {
		return "sh"
	}
	return r.Shell
}

func (r *Runner) environ(ctx context.Context) ([]string, error) {
	env := append(os.Environ(),
		"BACKUP_DIR="+filepath.Dir(r.ArtifactPath),
		"BACKUP_FILE="+r.ArtifactPath,
	)
	if r.Password != "" {
		env = append(env, "BACKUP_PASSWORD="+r.Password)
	}
	if r.Credentials != nil {
		creds, err := r.Credentials.DatabaseCredentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: database credentials: %v", ErrDumpUnavailable, err)
		}
		env = append(env, "DB_USERNAME="+creds.Username, "DB_PASSWORD="+creds.Password)
	}
	return env, nil
}

// Run executes the script. On success the returned Result carries the
// artifact path; on failure it never does.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	log := r.Logger
	var res Result

	if err := r.preflight(); err != nil {
		return res, err
	}
	env, err := r.environ(ctx)
	if err != nil {
		return res, err
	}
	if err := os.MkdirAll(filepath.Dir(r.ArtifactPath), 0o755); err != nil {
		return res, fmt.Errorf("%w: mkdir %q: %v", ErrDumpUnavailable, filepath.Dir(r.ArtifactPath), err)
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, r.Timeout, ErrTimeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.shell(), r.Script)
	cmd.Env = env
	cmd.Stdout = &out
	cmd.Stderr = &out
	// Children that outlive the script must not hold Wait open forever.
	cmd.WaitDelay = waitDelay

	log.Info("dump started",
		"script", r.Script,
		"path", r.ArtifactPath,
	)
	startTime := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(startTime)
	res.Output = tail(out.String(), outputTailSize)
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		if cause := context.Cause(ctx); cause != nil {
			runErr = fmt.Errorf("%w: %v", cause, runErr)
		}
		return res, fmt.Errorf("%w: %s exited with status %d: %v: %s",
			ErrDumpFailed, filepath.Base(r.Script), res.ExitCode, runErr, res.Output)
	}

	path := r.ArtifactPath
	if r.Compress {
		path, err = artifact.CompressZstd(path)
		if err != nil {
			return res, fmt.Errorf("%w: package artifact: %v", ErrDumpFailed, err)
		}
	}
	res.ArtifactPath = path
	if info, err := os.Stat(path); err == nil {
		res.SizeBytes = info.Size()
	}

	log.Info("dump completed",
		"path", res.ArtifactPath,
		"size", humanize.Bytes(uint64(res.SizeBytes)),
		"duration", res.Duration.String(),
	)
	return res, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
