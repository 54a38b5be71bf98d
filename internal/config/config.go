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

// Config captures the settings required to boot the detection engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Clients   ClientsConfig   `yaml:"clients"`
	Detection DetectionConfig `yaml:"detection"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// ClientsConfig groups integrations with the platform core.
type ClientsConfig struct {
	Core CoreClientConfig `yaml:"core"`
}

// CoreClientConfig configures access to platform-core sample and incident APIs.
type CoreClientConfig struct {
	BaseURL       string        `yaml:"baseURL"`
	SamplesPath   string        `yaml:"samplesPath"`
	TargetsPath   string        `yaml:"targetsPath"`
	IncidentsPath string        `yaml:"incidentsPath"`
	RecomputePath string        `yaml:"recomputePath"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DetectionConfig tunes the aggregator windows and the periodic sweep.
type DetectionConfig struct {
	LookbackSamples int           `yaml:"lookbackSamples"`
	FetchLimit      int           `yaml:"fetchLimit"`
	ErrorRateWindow time.Duration `yaml:"errorRateWindow"`
	Schedule        string        `yaml:"schedule"`
	ReporterID      string        `yaml:"reporterID"`
}

// EventsConfig controls NATS event emission.
type EventsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CacheConfig controls the Valkey-backed shared cooldown store. When
// disabled the engine keeps cooldowns in process memory.
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
	KeyPrefix    string        `yaml:"keyPrefix"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("PULSE_DETECT_CONFIG")
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
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Clients: ClientsConfig{
			Core: CoreClientConfig{
				SamplesPath:   "/api/v1/detect/samples",
				TargetsPath:   "/api/v1/detect/targets",
				IncidentsPath: "/api/v1/detect/incidents",
				RecomputePath: "/api/v1/detect/status/recompute",
				Timeout:       5 * time.Second,
			},
		},
		Detection: DetectionConfig{
			LookbackSamples: 10,
			FetchLimit:      120,
			ErrorRateWindow: time.Hour,
			Schedule:        "@every 30s",
			ReporterID:      "detection-engine",
		},
		Events:  EventsConfig{Enabled: false, URL: "nats://localhost:4222"},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			KeyPrefix:    "pulse:cooldown",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PULSE_DETECT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("PULSE_DETECT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("PULSE_CORE_BASE_URL"); v != "" {
		cfg.Clients.Core.BaseURL = v
	}
	if v := os.Getenv("PULSE_CORE_SAMPLES_PATH"); v != "" {
		cfg.Clients.Core.SamplesPath = v
	}
	if v := os.Getenv("PULSE_CORE_TARGETS_PATH"); v != "" {
		cfg.Clients.Core.TargetsPath = v
	}
	if v := os.Getenv("PULSE_CORE_INCIDENTS_PATH"); v != "" {
		cfg.Clients.Core.IncidentsPath = v
	}
	if v := os.Getenv("PULSE_CORE_RECOMPUTE_PATH"); v != "" {
		cfg.Clients.Core.RecomputePath = v
	}
	if v := os.Getenv("PULSE_DETECT_LOOKBACK_SAMPLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.LookbackSamples = n
		}
	}
	if v := os.Getenv("PULSE_DETECT_FETCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detection.FetchLimit = n
		}
	}
	if v := os.Getenv("PULSE_DETECT_ERROR_RATE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Detection.ErrorRateWindow = d
		}
	}
	if v := os.Getenv("PULSE_DETECT_SCHEDULE"); v != "" {
		cfg.Detection.Schedule = v
	}
	if v := os.Getenv("PULSE_DETECT_REPORTER_ID"); v != "" {
		cfg.Detection.ReporterID = v
	}
	if v := os.Getenv("PULSE_DETECT_NATS_URL"); v != "" {
		cfg.Events.URL = v
	}
	if v := os.Getenv("PULSE_DETECT_NATS_ENABLED"); v != "" {
		cfg.Events.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("PULSE_DETECT_NATS_SUBJECT_PREFIX"); v != "" {
		cfg.Events.SubjectPrefix = v
	}
	if v := os.Getenv("PULSE_DETECT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PULSE_DETECT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReadTimeout = d
		}
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.WriteTimeout = d
		}
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Cache.MaxRetries = retry
		}
	}
	if v := os.Getenv("PULSE_DETECT_CACHE_KEY_PREFIX"); v != "" {
		cfg.Cache.KeyPrefix = v
	}
}
