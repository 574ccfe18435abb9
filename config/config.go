// Package config loads the quarry configuration: storage, telemetry, the
// kernel command line, and the table of jobs to run. Config is an explicit
// value handed to the entry points; nothing here is process-global.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the discovery system.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Kernel    KernelConfig    `mapstructure:"kernel"`
	Jobs      []JobConfig     `mapstructure:"jobs"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// TelemetryConfig contains the ops endpoint settings.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && strings.TrimSpace(t.MetricsAddr) == "" {
		return fmt.Errorf("telemetry.metrics_addr required when telemetry is enabled")
	}
	return nil
}

// StorageConfig contains storage settings.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains optional Redis settings, used only by the scheduler's
// duplicate-fire lock. Empty host disables it.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// Addr returns host:port for the Redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// KernelConfig describes the external relation-test kernel binary.
type KernelConfig struct {
	Command string   `mapstructure:"command"`
	Args    []string `mapstructure:"args"`
}

func (k KernelConfig) Validate() error {
	if strings.TrimSpace(k.Command) == "" {
		return fmt.Errorf("kernel.command required")
	}
	return nil
}

// JobConfig is one entry of the jobs-to-run table.
type JobConfig struct {
	Name       string  `mapstructure:"name"`
	Args       JobArgs `mapstructure:"args"`
	RunAsync   bool    `mapstructure:"run_async"`
	AsyncCores int     `mapstructure:"async_cores"`
	// Schedule is a cron expression (or @hourly/@daily) used by serve mode;
	// empty means the job only runs via the run command.
	Schedule string `mapstructure:"schedule"`
}

func (j JobConfig) Validate() error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("jobs[].name required")
	}
	if j.RunAsync && j.AsyncCores < 1 {
		return fmt.Errorf("job %s: async_cores must be >= 1 when run_async is set", j.Name)
	}
	if j.Args.Degree < 0 {
		return fmt.Errorf("job %s: degree cannot be negative", j.Name)
	}
	if j.Args.Order < 0 {
		return fmt.Errorf("job %s: order cannot be negative", j.Name)
	}
	return nil
}

// JobArgs mirrors the engine's argument surface. Filters maps extension-type
// names to type-specific options, plus the reserved "global" entry.
type JobArgs struct {
	Degree           int                               `mapstructure:"degree"`
	Order            int                               `mapstructure:"order"`
	Bulk             int                               `mapstructure:"bulk"`
	MinPrecision     int                               `mapstructure:"min_precision"`
	MinROI           float64                           `mapstructure:"min_roi"`
	TestingPrecision int                               `mapstructure:"testing_precision"`
	Strategy         string                            `mapstructure:"strategy"`
	Filters          map[string]map[string]interface{} `mapstructure:"filters"`
}

// HasFilters reports whether the filters key was present at all; the batch
// strategy treats its absence as a fatal configuration error.
func (a JobArgs) HasFilters() bool { return a.Filters != nil }

// Load reads the config file (JSON, like the rest of the deployment tooling)
// with QUARRY_* environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	} else {
		v.SetConfigFile(path)
	}

	v.SetDefault("telemetry.metrics_addr", ":10002")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Kernel.Validate(); err != nil {
		return nil, err
	}
	for _, job := range cfg.Jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
