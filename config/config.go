package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Session    SessionConfig    `mapstructure:"session"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`

	// Timezone decides what "today" means for group visibility.
	Timezone string `mapstructure:"timezone"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Browser origins trusted with credentialed requests. "*" trusts all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AllowsOrigin reports whether origin is on the allowed list.
func (s *ServerConfig) AllowsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

// SessionConfig controls the signed session token and its server-side record.
type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	TTL        time.Duration `mapstructure:"ttl"`
	CookieName string        `mapstructure:"cookie_name"`
	Secure     bool          `mapstructure:"secure"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // json, text
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

type RateLimitConfig struct {
	LoginPerMinute  int  `mapstructure:"login_per_minute"`
	SignupPerMinute int  `mapstructure:"signup_per_minute"`
	APIPerMinute    int  `mapstructure:"api_per_minute"`
	FailOpen        bool `mapstructure:"fail_open"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoffMs int      `mapstructure:"retry_backoff_ms"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3004)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "lunchroulette")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Keys must be known to viper for AutomaticEnv to reach them on Unmarshal.
	v.SetDefault("session.secret", "")
	v.SetDefault("session.secure", false)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("session.cookie_name", "session")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.signup_per_minute", 5)
	v.SetDefault("ratelimit.api_per_minute", 600)
	v.SetDefault("ratelimit.fail_open", true)

	v.SetDefault("worker_pool.size", 64)
	v.SetDefault("worker_pool.queue_size", 1024)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "lunch.group.events")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff_ms", 100)

	v.SetDefault("timezone", "UTC")
}

// LoadConfig reads the TOML file at path. Every key can be overridden by an
// environment variable such as LUNCH_SESSION_SECRET. An empty path loads
// defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("lunch")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Session.Secret == "" {
		return errors.New("session.secret must be set")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("invalid session.ttl %s", c.Session.TTL)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must be set when kafka is enabled")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone, UTC when unset.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
