package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remedystack/remedy-engine/internal/models"
)

// Config captures the settings required to boot the remediation controller.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Policy   PolicyConfig   `yaml:"policy"`
	Executor ExecutorConfig `yaml:"executor"`
	Workers  WorkersConfig  `yaml:"workers"`
	Store    StoreConfig    `yaml:"store"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// PolicyConfig drives the decision engine and approval gateway.
type PolicyConfig struct {
	Mode                models.OperatingMode `yaml:"mode"`
	ConfidenceThreshold int                  `yaml:"confidenceThreshold"`
	Approvers           []string             `yaml:"approvers"`
	RequiredApprovals   int                  `yaml:"requiredApprovals"`
	ApprovalDeadline    time.Duration        `yaml:"approvalDeadline"`
	SweepInterval       time.Duration        `yaml:"sweepInterval"`
}

// ExecutorConfig bounds command execution against targets.
type ExecutorConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`
	DryRun       bool          `yaml:"dryRun"`
	SSH          SSHConfig     `yaml:"ssh"`
}

// SSHConfig configures the SSH target runner.
type SSHConfig struct {
	User           string        `yaml:"user"`
	Port           int           `yaml:"port"`
	PrivateKeyPath string        `yaml:"privateKeyPath"`
	ConnectTimeout time.Duration `yaml:"connectTimeout"`
}

// WorkersConfig bounds concurrent alert processing.
type WorkersConfig struct {
	PoolSize int `yaml:"poolSize"`
}

// StoreConfig selects the durable record store.
type StoreConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// DedupeConfig controls the SubmitAlert content-hash dedupe window.
type DedupeConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Window       time.Duration `yaml:"window"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// NotifyConfig controls where notification intents are delivered.
type NotifyConfig struct {
	WebhookURL string        `yaml:"webhookURL"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REMEDY_ENGINE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the controller cannot operate under.
func (c *Config) Validate() error {
	if !c.Policy.Mode.Valid() {
		return fmt.Errorf("invalid operating mode %q", c.Policy.Mode)
	}
	if c.Policy.ConfidenceThreshold < 0 || c.Policy.ConfidenceThreshold > 100 {
		return fmt.Errorf("confidence threshold %d out of range 0-100", c.Policy.ConfidenceThreshold)
	}
	if c.Policy.RequiredApprovals < 1 {
		return fmt.Errorf("required approvals must be at least 1")
	}
	if len(c.Policy.Approvers) < c.Policy.RequiredApprovals {
		return fmt.Errorf("approver list shorter than required approvals")
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor timeout must be positive")
	}
	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool size must be at least 1")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Policy: PolicyConfig{
			Mode:                models.ModeSemiAutomatic,
			ConfidenceThreshold: 80,
			Approvers:           []string{"oncall"},
			RequiredApprovals:   1,
			ApprovalDeadline:    time.Hour,
			SweepInterval:       time.Minute,
		},
		Executor: ExecutorConfig{
			Timeout:      30 * time.Second,
			MaxRetries:   2,
			RetryBackoff: 5 * time.Second,
			SSH: SSHConfig{
				User:           "remedy",
				Port:           22,
				ConnectTimeout: 10 * time.Second,
			},
		},
		Workers: WorkersConfig{PoolSize: 8},
		Store:   StoreConfig{Path: "data/remedy"},
		Dedupe: DedupeConfig{
			Enabled:      false,
			Window:       5 * time.Minute,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
		Notify:  NotifyConfig{Timeout: 5 * time.Second},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDY_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("REMEDY_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("REMEDY_MODE"); v != "" {
		cfg.Policy.Mode = models.OperatingMode(strings.ToLower(v))
	}
	if v := os.Getenv("REMEDY_CONFIDENCE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.ConfidenceThreshold = n
		}
	}
	if v := os.Getenv("REMEDY_APPROVERS"); v != "" {
		cfg.Policy.Approvers = splitNonEmpty(v)
	}
	if v := os.Getenv("REMEDY_REQUIRED_APPROVALS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Policy.RequiredApprovals = n
		}
	}
	if v := os.Getenv("REMEDY_APPROVAL_DEADLINE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Policy.ApprovalDeadline = d
		}
	}
	if v := os.Getenv("REMEDY_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Policy.SweepInterval = d
		}
	}
	if v := os.Getenv("REMEDY_EXECUTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.Timeout = d
		}
	}
	if v := os.Getenv("REMEDY_EXECUTOR_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Executor.MaxRetries = n
		}
	}
	if v := os.Getenv("REMEDY_EXECUTOR_DRY_RUN"); v != "" {
		cfg.Executor.DryRun = isTrue(v)
	}
	if v := os.Getenv("REMEDY_SSH_USER"); v != "" {
		cfg.Executor.SSH.User = v
	}
	if v := os.Getenv("REMEDY_SSH_KEY_PATH"); v != "" {
		cfg.Executor.SSH.PrivateKeyPath = v
	}
	if v := os.Getenv("REMEDY_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Workers.PoolSize = n
		}
	}
	if v := os.Getenv("REMEDY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REMEDY_STORE_IN_MEMORY"); isTrue(v) {
		cfg.Store.InMemory = true
	}
	if v := os.Getenv("REMEDY_DEDUPE_ENABLED"); v != "" {
		cfg.Dedupe.Enabled = isTrue(v)
	}
	if v := os.Getenv("REMEDY_DEDUPE_ADDR"); v != "" {
		cfg.Dedupe.Addr = v
	}
	if v := os.Getenv("REMEDY_DEDUPE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Dedupe.Window = d
		}
	}
	if v := os.Getenv("REMEDY_DEDUPE_PASSWORD"); v != "" {
		cfg.Dedupe.Password = v
	}
	if v := os.Getenv("REMEDY_NOTIFY_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = v
	}
	if v := os.Getenv("REMEDY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REMEDY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}

func splitNonEmpty(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
