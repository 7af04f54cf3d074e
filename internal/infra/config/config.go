package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"claimflow/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	Backend  BackendConfig            `yaml:"backend"`
	Provider ProviderConfig           `yaml:"provider"`
	Selector SelectorConfig           `yaml:"selector"`
	Runner   RunnerConfig             `yaml:"runner"`
	Agents   []domain.AgentDefinition `yaml:"agents"`
	Tools    ToolsConfig              `yaml:"tools"`
	Audit    AuditConfig              `yaml:"audit"`
	Logger   LoggerConfig             `yaml:"logger"`
	Tracer   TracerConfig             `yaml:"tracer"`
}

// BackendConfig holds managed agent-backend settings.
type BackendConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	ConnTimeout time.Duration `yaml:"conn_timeout"` // default 30s
	RespTimeout time.Duration `yaml:"resp_timeout"` // default 120s
	PollRate    float64       `yaml:"poll_rate"`    // polls/sec across all runs, default 10
	PollBurst   int           `yaml:"poll_burst"`   // default 5
	Pool        PoolConfig    `yaml:"pool"`
}

// ProviderConfig holds the fallback reasoning provider settings.
type ProviderConfig struct {
	Name        string        `yaml:"name"` // default "openai"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// PoolConfig configures HTTP connection pooling.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"` // consecutive failures before open
	Timeout     time.Duration `yaml:"timeout"`      // open -> half-open delay
	Interval    time.Duration `yaml:"interval"`     // closed-state count reset period
}

// SelectorConfig controls managed/fallback routing.
type SelectorConfig struct {
	ProbeTTL    time.Duration `yaml:"probe_ttl"`    // health probe cache, default 15s
	RecoveryTTL time.Duration `yaml:"recovery_ttl"` // open -> half-open, default 60s
}

// RunnerConfig bounds the tool-calling loop.
type RunnerConfig struct {
	MaxIterations int           `yaml:"max_iterations"` // default 10
	PollTimeout   time.Duration `yaml:"poll_timeout"`   // per-poll bound, default 30s
	PollInterval  time.Duration `yaml:"poll_interval"`  // default 500ms
}

// ToolsConfig holds claim tool endpoints and limits.
type ToolsConfig struct {
	VehicleAPIURL      string        `yaml:"vehicle_api_url"`
	PolicySearchURL    string        `yaml:"policy_search_url"`
	ClaimHistoryURL    string        `yaml:"claim_history_url"`
	ImageAnalysisURL   string        `yaml:"image_analysis_url"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`  // default 15s
	RateLimit          int           `yaml:"rate_limit"`       // calls per window per tool, default 30
	RateWindow         time.Duration `yaml:"rate_window"`      // default 1m
	DataAnalystEnabled bool          `yaml:"data_analyst_enabled"`
}

// AuditConfig holds run-audit persistence settings.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"` // default "claimflow_audit.db"
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Load reads, defaults, decrypts and validates a config file.
// Validation failures are fatal at startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.NewDomainError("config.Load", domain.ErrConfigLoad, err.Error())
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.decryptSecrets(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Backend.ConnTimeout <= 0 {
		c.Backend.ConnTimeout = 30 * time.Second
	}
	if c.Backend.RespTimeout <= 0 {
		c.Backend.RespTimeout = 120 * time.Second
	}
	if c.Backend.PollRate <= 0 {
		c.Backend.PollRate = 10
	}
	if c.Backend.PollBurst <= 0 {
		c.Backend.PollBurst = 5
	}

	if c.Provider.Name == "" {
		c.Provider.Name = "openai"
	}
	if c.Provider.MaxTokens <= 0 {
		c.Provider.MaxTokens = 4096
	}
	if c.Provider.ConnTimeout <= 0 {
		c.Provider.ConnTimeout = 30 * time.Second
	}
	if c.Provider.RespTimeout <= 0 {
		c.Provider.RespTimeout = 120 * time.Second
	}

	if c.Selector.ProbeTTL <= 0 {
		c.Selector.ProbeTTL = 15 * time.Second
	}
	if c.Selector.RecoveryTTL <= 0 {
		c.Selector.RecoveryTTL = 60 * time.Second
	}

	if c.Runner.MaxIterations <= 0 {
		c.Runner.MaxIterations = 10
	}
	if c.Runner.PollTimeout <= 0 {
		c.Runner.PollTimeout = 30 * time.Second
	}
	if c.Runner.PollInterval <= 0 {
		c.Runner.PollInterval = 500 * time.Millisecond
	}

	if c.Tools.RequestTimeout <= 0 {
		c.Tools.RequestTimeout = 15 * time.Second
	}
	if c.Tools.RateLimit <= 0 {
		c.Tools.RateLimit = 30
	}
	if c.Tools.RateWindow <= 0 {
		c.Tools.RateWindow = time.Minute
	}

	if c.Audit.DBPath == "" {
		c.Audit.DBPath = "claimflow_audit.db"
	}

	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Output == "" {
		c.Logger.Output = "stderr"
	}
}

// applyEnvOverrides lets secrets come from the environment instead of the
// config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLAIMFLOW_BACKEND_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("CLAIMFLOW_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
}

// decryptSecrets resolves enc:-prefixed values using the passphrase from
// CLAIMFLOW_PASSPHRASE.
func (c *Config) decryptSecrets() error {
	passphrase := os.Getenv("CLAIMFLOW_PASSPHRASE")
	for _, field := range []*string{&c.Backend.APIKey, &c.Provider.APIKey} {
		decrypted, err := maybeDecrypt(*field, passphrase)
		if err != nil {
			return err
		}
		*field = decrypted
	}
	return nil
}

// AgentFor returns the definition for the given specialist, if configured.
func (c *Config) AgentFor(s domain.Specialist) (domain.AgentDefinition, bool) {
	for _, def := range c.Agents {
		if def.Specialist == s {
			return def, true
		}
	}
	return domain.AgentDefinition{}, false
}

func (c *Config) String() string {
	return fmt.Sprintf("backend=%s provider=%s agents=%d", c.Backend.BaseURL, c.Provider.Name, len(c.Agents))
}
