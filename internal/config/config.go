package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // zone database for minimal images

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Attendance AttendanceConfig `mapstructure:"attendance"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Rollover   RolloverConfig   `mapstructure:"rollover"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress     string `mapstructure:"bind_address"`
	HTTPPort        int    `mapstructure:"http_port"`
	MetricsPort     int    `mapstructure:"metrics_port"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
	HostToken       string `mapstructure:"host_token"` // bearer for /api/hosts, empty means trusted callers
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // sqlite, bolt or redis
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AttendanceConfig defines the ledger's zone, thresholds and summary cache.
type AttendanceConfig struct {
	Timezone        string  `mapstructure:"timezone"`
	MinDailyHours   float64 `mapstructure:"min_daily_hours"`
	MinValidDays    int     `mapstructure:"min_valid_days"`
	MinMonthlyHours float64 `mapstructure:"min_monthly_hours"`
	StatsCacheSize  int     `mapstructure:"stats_cache_size"`
	StatsCacheTTL   string  `mapstructure:"stats_cache_ttl"`
}

// PolicyConfig selects the validity evaluator
type PolicyConfig struct {
	Source   string `mapstructure:"source"`    // "builtin" or "rego"
	RegoFile string `mapstructure:"rego_file"` // optional override of the embedded module
}

// RolloverConfig defines the monthly rollover schedule
type RolloverConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	RunTime string `mapstructure:"run_time"` // HH:MM on the first day of the month
}

// AdminConfig defines admin access to the config endpoints
type AdminConfig struct {
	Token   string `mapstructure:"token"`
	AdminID int64  `mapstructure:"admin_id"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	v.SetEnvPrefix("AIJI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Plain variables understood by the original deployment
	_ = v.BindEnv("server.http_port", "AIJI_SERVER_HTTP_PORT", "PORT")
	_ = v.BindEnv("admin.admin_id", "AIJI_ADMIN_ADMIN_ID", "ADMIN_ID")
	_ = v.BindEnv("data_dir", "AIJI_DATA_DIR", "DATA_DIR")

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// DATA_DIR locates the database file unless a path was set explicitly
	if config.Storage.Path == "" {
		config.Storage.Path = filepath.Join(v.GetString("data_dir"), defaultDBName)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

const defaultDBName = "aiji_live.db"

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.host_token", "")

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("data_dir", "/data")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Attendance defaults
	v.SetDefault("attendance.timezone", "Asia/Shanghai")
	v.SetDefault("attendance.min_daily_hours", 2.5)
	v.SetDefault("attendance.min_valid_days", 22)
	v.SetDefault("attendance.min_monthly_hours", 50.0)
	v.SetDefault("attendance.stats_cache_size", 1024)
	v.SetDefault("attendance.stats_cache_ttl", "5m")

	// Policy defaults
	v.SetDefault("policy.source", "builtin")
	v.SetDefault("policy.rego_file", "")

	// Rollover defaults
	v.SetDefault("rollover.enabled", true)
	v.SetDefault("rollover.run_time", "00:05")

	// Admin defaults
	v.SetDefault("admin.token", "")
	v.SetDefault("admin.admin_id", 0)
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort < 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}
	if _, err := time.ParseDuration(cfg.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown_timeout: %w", err)
	}

	cfg.Storage.Type = strings.ToLower(strings.TrimSpace(cfg.Storage.Type))
	switch cfg.Storage.Type {
	case "", "sqlite":
		cfg.Storage.Type = "sqlite"
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}

	if _, err := time.LoadLocation(cfg.Attendance.Timezone); err != nil {
		return fmt.Errorf("invalid attendance.timezone: %w", err)
	}
	if cfg.Attendance.MinDailyHours < 0 || cfg.Attendance.MinValidDays < 0 || cfg.Attendance.MinMonthlyHours < 0 {
		return fmt.Errorf("attendance thresholds must not be negative")
	}
	if cfg.Attendance.StatsCacheSize < 0 {
		return fmt.Errorf("invalid attendance.stats_cache_size: %d", cfg.Attendance.StatsCacheSize)
	}
	if _, err := time.ParseDuration(cfg.Attendance.StatsCacheTTL); err != nil {
		return fmt.Errorf("invalid attendance.stats_cache_ttl: %w", err)
	}

	switch cfg.Policy.Source {
	case "", "builtin":
		cfg.Policy.Source = "builtin"
	case "rego":
	default:
		return fmt.Errorf("unknown policy source: %s", cfg.Policy.Source)
	}

	if _, _, err := ParseClock(cfg.Rollover.RunTime); err != nil {
		return fmt.Errorf("invalid rollover.run_time: %w", err)
	}

	return nil
}

// Location returns the configured attendance zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Attendance.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseClock parses an "HH:MM" wall-clock time.
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", value)
	}
	return t.Hour(), t.Minute(), nil
}

// Default returns the configuration built from defaults alone, ignoring
// files and the environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Storage.Path = filepath.Join(v.GetString("data_dir"), defaultDBName)
	return &cfg
}

// Keys returns every configuration key that has a default.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	return v.AllKeys()
}
