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

// Config captures the settings required to boot the triage engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Detection DetectionConfig `yaml:"detection"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Model     ModelConfig     `yaml:"model"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// WarehouseConfig configures the DuckDB log warehouse. An empty path means
// an in-memory database.
type WarehouseConfig struct {
	Path         string        `yaml:"path"`
	QueryTimeout time.Duration `yaml:"queryTimeout"`
}

// IncidentsConfig configures the SQLite incident document store.
type IncidentsConfig struct {
	Path string `yaml:"path"`
}

// DetectionConfig holds the windowed threshold policy. Interval enables the
// optional in-process trigger loop; zero leaves triggering to an external
// scheduler.
type DetectionConfig struct {
	RecentWindow        time.Duration `yaml:"recentWindow"`
	BaselineWindow      time.Duration `yaml:"baselineWindow"`
	MinErrorCount       int           `yaml:"minErrorCount"`
	DefaultBaselineRate float64       `yaml:"defaultBaselineRate"`
	BaselineMultiplier  float64       `yaml:"baselineMultiplier"`
	LowBaselineCeiling  float64       `yaml:"lowBaselineCeiling"`
	AbsoluteRateFloor   float64       `yaml:"absoluteRateFloor"`
	Interval            time.Duration `yaml:"interval"`
}

// NotifierConfig configures the incident-created webhook. An empty URL
// disables publishing.
type NotifierConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ModelConfig configures the generative model endpoint.
type ModelConfig struct {
	BaseURL         string        `yaml:"baseURL"`
	APIKey          string        `yaml:"apiKey"`
	Model           string        `yaml:"model"`
	Temperature     float64       `yaml:"temperature"`
	TopP            float64       `yaml:"topP"`
	MaxOutputTokens int           `yaml:"maxOutputTokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

// CacheConfig controls Valkey-backed caching of evidence lookups.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	EvidenceTTL  time.Duration `yaml:"evidenceTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("TRIAGE_CONFIG")
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
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Warehouse: WarehouseConfig{
			QueryTimeout: 30 * time.Second,
		},
		Incidents: IncidentsConfig{
			Path: "data/incidents.db",
		},
		Detection: DetectionConfig{
			RecentWindow:        5 * time.Minute,
			BaselineWindow:      60 * time.Minute,
			MinErrorCount:       3,
			DefaultBaselineRate: 0.01,
			BaselineMultiplier:  2,
			LowBaselineCeiling:  0.05,
			AbsoluteRateFloor:   0.15,
		},
		Notifier: NotifierConfig{
			Timeout: 15 * time.Second,
		},
		Model: ModelConfig{
			BaseURL:         "https://generativelanguage.googleapis.com",
			Model:           "gemini-1.5-flash",
			Temperature:     0.2,
			TopP:            0.8,
			MaxOutputTokens: 2048,
			Timeout:         30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			EvidenceTTL:  5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("TRIAGE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("TRIAGE_WAREHOUSE_PATH"); v != "" {
		cfg.Warehouse.Path = v
	}
	if v := os.Getenv("TRIAGE_INCIDENTS_PATH"); v != "" {
		cfg.Incidents.Path = v
	}
	if v := os.Getenv("TRIAGE_NOTIFIER_URL"); v != "" {
		cfg.Notifier.URL = v
	}
	if v := os.Getenv("TRIAGE_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("TRIAGE_MODEL_NAME"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("TRIAGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TRIAGE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("TRIAGE_DETECTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.Interval = d
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("TRIAGE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("TRIAGE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("TRIAGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("TRIAGE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("TRIAGE_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("TRIAGE_CACHE_EVIDENCE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EvidenceTTL = d
		}
	}
}
