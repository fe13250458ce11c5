package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the LC compliance engine.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Debug       bool            `mapstructure:"debug"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Checking    CheckingConfig  `mapstructure:"checking"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Logging     LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// DSN renders the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig contains the public-verification cache configuration.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// CheckingConfig contains compliance-check configuration.
type CheckingConfig struct {
	NumericTolerance float64 `mapstructure:"numeric_tolerance"`
	MaxFreeRechecks  int     `mapstructure:"max_free_rechecks"`
	ChainMaxAttempts int     `mapstructure:"chain_max_attempts"`
}

// SchedulerConfig contains the chain integrity sweep configuration.
type SchedulerConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	SweepSchedule  string        `mapstructure:"sweep_schedule"`
	SweepWindow    time.Duration `mapstructure:"sweep_window"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from config.yaml and the environment. Environment
// variables use the LC_ENGINE prefix with underscores, e.g.
// LC_ENGINE_DATABASE_HOST.
func Load() (Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/lc-engine")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("LC_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.Server.HTTPPort)
	}
	if c.Checking.NumericTolerance < 0 || c.Checking.NumericTolerance >= 1 {
		return fmt.Errorf("numeric tolerance must be in [0, 1), got %f", c.Checking.NumericTolerance)
	}
	if c.Checking.MaxFreeRechecks < 0 {
		return fmt.Errorf("max free rechecks must not be negative")
	}
	if c.Checking.ChainMaxAttempts < 1 {
		return fmt.Errorf("chain max attempts must be at least 1")
	}
	return nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	viper.SetDefault("server.http_port", 8086)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "20s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "lc_engine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "60s")

	viper.SetDefault("checking.numeric_tolerance", 0.005)
	viper.SetDefault("checking.max_free_rechecks", 2)
	viper.SetDefault("checking.chain_max_attempts", 3)

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.sweep_schedule", "0 0 * * * *")
	viper.SetDefault("scheduler.sweep_window", "24h")
	viper.SetDefault("scheduler.sweep_batch_size", 200)
}
