package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the ISS pipeline binaries.
type Config struct {
	// Backend selects the storage and warehouse implementations: "local"
	// (filesystem buckets + SQLite warehouse) or "aws" (S3 + Redshift Data).
	Backend   string    `yaml:"backend"`
	Storage   Storage   `yaml:"storage"`
	Telemetry Telemetry `yaml:"telemetry"`
	Warehouse Warehouse `yaml:"warehouse"`
	Aggregate Aggregate `yaml:"aggregate"`
	Logging   Logging   `yaml:"logging"`
	Metrics   Metrics   `yaml:"metrics"`
	Tracing   Tracing   `yaml:"tracing"`
}

// Storage holds bucket names, key prefixes and local paths.
type Storage struct {
	DataDir         string `yaml:"data_dir"`
	SQLitePath      string `yaml:"sqlite_path"`
	Region          string `yaml:"region"`
	PositionsBucket string `yaml:"positions_bucket"`
	PositionsPrefix string `yaml:"positions_prefix"`
	SpeedBucket     string `yaml:"speed_bucket"`
	SpeedPrefix     string `yaml:"speed_prefix"`
}

// Telemetry configures the ISS position endpoint.
type Telemetry struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Warehouse configures bulk loads and job polling.
type Warehouse struct {
	Database        string        `yaml:"database"`
	Workgroup       string        `yaml:"workgroup"`
	RoleName        string        `yaml:"role_name"`
	RoleARN         string        `yaml:"role_arn"`
	AccountID       string        `yaml:"account_id"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
}

// Aggregate configures the daily aggregation job.
type Aggregate struct {
	// Order is the sample ordering used to pair consecutive positions:
	// "chronological" or "coordinate" (latitude, longitude, timestamp).
	Order string `yaml:"order"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Metrics configures the Prometheus Pushgateway used by the batch binaries.
type Metrics struct {
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// Tracing configures OpenTelemetry span export.
type Tracing struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Runtime is the configuration plus identifiers resolved once at process
// start. Components receive it at construction instead of looking anything
// up at call time.
type Runtime struct {
	Config
	RoleARN string
}

// ---------------------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------------------

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: "local",
		Storage: Storage{
			DataDir:         "data",
			SQLitePath:      "data/warehouse.db",
			PositionsBucket: "iss-location",
			PositionsPrefix: "iss_location",
			SpeedBucket:     "iss-daily-avg-speed",
			SpeedPrefix:     "data",
		},
		Telemetry: Telemetry{
			URL:     "http://api.open-notify.org/iss-now.json",
			Timeout: 10 * time.Second,
		},
		Warehouse: Warehouse{
			Database:        "dev",
			Workgroup:       "default-workgroup",
			RoleName:        "RedshiftNamespaceRole",
			PollInterval:    2 * time.Second,
			MaxPollAttempts: 150,
		},
		Aggregate: Aggregate{Order: "chronological"},
		Logging:   Logging{Level: "info", Format: "json"},
		Metrics:   Metrics{Job: "isspipe"},
		Tracing:   Tracing{Exporter: "stdout", ServiceName: "isspipe"},
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of the
// defaults, then applies environment variable overrides. An empty path skips
// the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv resolves the config path from ISSPIPE_CONFIG, falling back to
// config/isspipe.yaml when that file exists and to defaults otherwise.
func FromEnv() (*Config, error) {
	if p := os.Getenv("ISSPIPE_CONFIG"); p != "" {
		return Load(p)
	}
	const fallback = "config/isspipe.yaml"
	if _, err := os.Stat(fallback); err == nil {
		return Load(fallback)
	}
	return Load("")
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ISSPIPE_BACKEND"); v != "" {
		cfg.Backend = v
	}

	if v := os.Getenv("ISSPIPE_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("ISSPIPE_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.Region = v
	}

	if v := os.Getenv("ISSPIPE_TELEMETRY_URL"); v != "" {
		cfg.Telemetry.URL = v
	}

	if v := os.Getenv("ISSPIPE_DATABASE"); v != "" {
		cfg.Warehouse.Database = v
	}

	if v := os.Getenv("ISSPIPE_WORKGROUP"); v != "" {
		cfg.Warehouse.Workgroup = v
	}

	if v := os.Getenv("ISSPIPE_ROLE_ARN"); v != "" {
		cfg.Warehouse.RoleARN = v
	}

	if v := os.Getenv("AWS_ACCOUNT_ID"); v != "" {
		cfg.Warehouse.AccountID = v
	}

	if v := os.Getenv("ISSPIPE_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ISSPIPE_POLL_INTERVAL: %w", err)
		}
		cfg.Warehouse.PollInterval = d
	}

	if v := os.Getenv("ISSPIPE_MAX_POLL_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ISSPIPE_MAX_POLL_ATTEMPTS: %w", err)
		}
		cfg.Warehouse.MaxPollAttempts = n
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("ISSPIPE_PUSHGATEWAY"); v != "" {
		cfg.Metrics.Pushgateway = v
	}

	if v := os.Getenv("ISSPIPE_TRACING"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ISSPIPE_TRACING: %w", err)
		}
		cfg.Tracing.Enabled = enabled
	}

	return nil
}

// Validate reports configuration values the binaries cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case "local", "aws":
	default:
		errs = append(errs, fmt.Errorf("backend must be local or aws, got %q", c.Backend))
	}

	if c.Storage.PositionsBucket == "" || c.Storage.SpeedBucket == "" {
		errs = append(errs, errors.New("storage buckets must be set"))
	}
	if c.Backend == "local" && c.Storage.DataDir == "" {
		errs = append(errs, errors.New("storage.data_dir is required for the local backend"))
	}

	if c.Telemetry.URL == "" {
		errs = append(errs, errors.New("telemetry.url must be set"))
	}
	if c.Telemetry.Timeout <= 0 {
		errs = append(errs, errors.New("telemetry.timeout must be positive"))
	}

	if c.Warehouse.PollInterval <= 0 {
		errs = append(errs, errors.New("warehouse.poll_interval must be positive"))
	} else if c.Backend == "aws" && c.Warehouse.PollInterval < time.Second {
		errs = append(errs, errors.New("warehouse.poll_interval must be at least 1s for the aws backend"))
	}
	if c.Warehouse.MaxPollAttempts < 1 {
		errs = append(errs, errors.New("warehouse.max_poll_attempts must be at least 1"))
	}
	if c.Warehouse.RoleARN == "" && c.Warehouse.RoleName == "" {
		errs = append(errs, errors.New("warehouse.role_arn or warehouse.role_name must be set"))
	}

	switch c.Aggregate.Order {
	case "chronological", "coordinate":
	default:
		errs = append(errs, fmt.Errorf("aggregate.order must be chronological or coordinate, got %q", c.Aggregate.Order))
	}

	return errors.Join(errs...)
}
