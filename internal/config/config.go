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
)

// Config captures every setting required to boot the remediation engine.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Graph       GraphConfig       `yaml:"graph"`
	Playbooks   PlaybooksConfig   `yaml:"playbooks"`
	Governance  GovernanceConfig  `yaml:"governance"`
	Loki        LokiConfig        `yaml:"loki"`
	Correlation CorrelationConfig `yaml:"correlation"`
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

// ServerConfig controls gRPC listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// GraphConfig points at the static service dependency definition.
type GraphConfig struct {
	Path string `yaml:"path"`
}

// PlaybooksConfig controls playbook pack loading for the recommender.
type PlaybooksConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// GovernanceConfig controls approval and execution safety.
type GovernanceConfig struct {
	AutoPilot        bool          `yaml:"autoPilot"`
	DryRun           bool          `yaml:"dryRun"`
	AuditLogPath     string        `yaml:"auditLogPath"`
	ApprovalTokenEnv string        `yaml:"approvalTokenEnv"`
	CommandTimeout   time.Duration `yaml:"commandTimeout"`
	WebhookTimeout   time.Duration `yaml:"webhookTimeout"`
	KubectlBinary    string        `yaml:"kubectlBinary"`
	SSHBinary        string        `yaml:"sshBinary"`
	// PostMortemDir receives one JSON report per resolved incident. Empty disables reports.
	PostMortemDir string `yaml:"postMortemDir"`
}

// LokiConfig configures the log poller. Polling is off without a URL.
type LokiConfig struct {
	URL          string        `yaml:"url"`
	TenantID     string        `yaml:"tenantID"`
	Query        string        `yaml:"query"`
	PollInterval time.Duration `yaml:"pollInterval"`
	Limit        int           `yaml:"limit"`
	Timeout      time.Duration `yaml:"timeout"`
}

// CorrelationConfig controls how polled events are grouped into incidents.
type CorrelationConfig struct {
	Window    time.Duration `yaml:"window"`
	MinEvents int           `yaml:"minEvents"`
	// AutoCorrelate runs correlation on every polled batch.
	AutoCorrelate bool `yaml:"autoCorrelate"`
}

// StorageConfig selects the event/incident/action store.
type StorageConfig struct {
	Driver     string        `yaml:"driver"`
	Path       string        `yaml:"path"`
	SyncWrites bool          `yaml:"syncWrites"`
	GCInterval time.Duration `yaml:"gcInterval"`
}

// CacheConfig controls Valkey-backed caching of analyses and the poll watermark.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	KeyPrefix    string        `yaml:"keyPrefix"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	PoolSize     int           `yaml:"poolSize"`
	TLS          bool          `yaml:"tls"`
	AnalysisTTL  time.Duration `yaml:"analysisTTL"`
}

// AnalyzerConfig configures the OpenAI-compatible root cause analyzer.
// Without an API key the deterministic analyzer is used alone.
type AnalyzerConfig struct {
	APIKey      string        `yaml:"apiKey"`
	BaseURL     string        `yaml:"baseURL"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// TracingConfig selects the OpenTelemetry span exporter.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio"`
	ServiceName string  `yaml:"serviceName"`
	Environment string  `yaml:"environment"`
}

// Trace exporters.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// Storage drivers.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_REMEDIATION_CONFIG")
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
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApprovalToken reads the approval secret from the configured env var.
func (c *Config) ApprovalToken() string {
	return os.Getenv(c.Governance.ApprovalTokenEnv)
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StorageBadger:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the badger driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Correlation.MinEvents < 1 {
		return fmt.Errorf("correlation.minEvents must be positive, got %d", c.Correlation.MinEvents)
	}
	if c.Governance.AuditLogPath == "" {
		return errors.New("governance.auditLogPath is required")
	}
	switch c.Tracing.Exporter {
	case TraceExporterNone, TraceExporterStdout:
	case TraceExporterOTLP:
		if c.Tracing.Endpoint == "" {
			return errors.New("tracing.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Tracing.Exporter)
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50061",
			MetricsAddress:  ":2113",
			GracefulTimeout: 10 * time.Second,
		},
		Logging:   LoggingConfig{Level: "info", JSON: false},
		Graph:     GraphConfig{Path: "configs/graph.yaml"},
		Playbooks: PlaybooksConfig{Path: "configs/playbooks.yaml", Watch: true},
		Governance: GovernanceConfig{
			AutoPilot:        false,
			DryRun:           true,
			AuditLogPath:     "data/audit.jsonl",
			ApprovalTokenEnv: "GOVERNANCE_APPROVAL_TOKEN",
			CommandTimeout:   30 * time.Second,
			WebhookTimeout:   10 * time.Second,
			KubectlBinary:    "kubectl",
			SSHBinary:        "ssh",
			PostMortemDir:    "data/postmortems",
		},
		Loki: LokiConfig{
			Query:        `{container=~".+"}`,
			PollInterval: 5 * time.Second,
			Limit:        100,
			Timeout:      10 * time.Second,
		},
		Correlation: CorrelationConfig{
			Window:        60 * time.Second,
			MinEvents:     2,
			AutoCorrelate: false,
		},
		Storage: StorageConfig{Driver: StorageMemory, Path: "data/badger"},
		Cache: CacheConfig{
			Enabled:      false,
			KeyPrefix:    "mirador:remediation:",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			PoolSize:     4,
			AnalysisTTL:  30 * time.Minute,
		},
		Analyzer: AnalyzerConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			Temperature: 0.2,
			MaxTokens:   2048,
			Timeout:     30 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:    TraceExporterNone,
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1,
			ServiceName: "mirador-remediation",
			Environment: "development",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_REMEDIATION_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_GRAPH_PATH"); v != "" {
		cfg.Graph.Path = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_PLAYBOOKS_PATH"); v != "" {
		cfg.Playbooks.Path = v
	}
	if v, ok := envBool("MIRADOR_REMEDIATION_AUTO_PILOT"); ok {
		cfg.Governance.AutoPilot = v
	}
	if v, ok := envBool("MIRADOR_REMEDIATION_DRY_RUN"); ok {
		cfg.Governance.DryRun = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_AUDIT_LOG"); v != "" {
		cfg.Governance.AuditLogPath = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_APPROVAL_TOKEN_ENV"); v != "" {
		cfg.Governance.ApprovalTokenEnv = v
	}
	if v := os.Getenv("LOKI_URL"); v != "" {
		cfg.Loki.URL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_LOKI_URL"); v != "" {
		cfg.Loki.URL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_LOKI_TENANT"); v != "" {
		cfg.Loki.TenantID = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_LOKI_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loki.PollInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_CORRELATION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Correlation.Window = d
		}
	}
	if v, ok := envBool("MIRADOR_REMEDIATION_AUTO_CORRELATE"); ok {
		cfg.Correlation.AutoCorrelate = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v, ok := envBool("MIRADOR_REMEDIATION_CACHE_ENABLED"); ok {
		cfg.Cache.Enabled = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v, ok := envBool("MIRADOR_REMEDIATION_CACHE_TLS"); ok {
		cfg.Cache.TLS = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_CACHE_ANALYSIS_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.AnalysisTTL = d
		}
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_ANALYZER_API_KEY"); v != "" {
		cfg.Analyzer.APIKey = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_ANALYZER_BASE_URL"); v != "" {
		cfg.Analyzer.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_ANALYZER_MODEL"); v != "" {
		cfg.Analyzer.Model = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_POSTMORTEM_DIR"); v != "" {
		cfg.Governance.PostMortemDir = v
	}
	if v := os.Getenv("OTEL_TRACES_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_TRACING_SAMPLE_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRatio = ratio
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATION_ENV"); v != "" {
		cfg.Tracing.Environment = v
	}
}

func envBool(key string) (bool, bool) {
	v := os.Getenv(key)
	if v == "" {
		return false, false
	}
	return strings.EqualFold(v, "true") || v == "1", true
}
