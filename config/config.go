// Package config loads engine configuration from defaults, an optional
// YAML file and FACILITY_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/warp/facility-engine/reservation"
)

// Config is the full process configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Lock      LockConfig      `mapstructure:"lock"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Policy    PolicyConfig    `mapstructure:"policy"`
	Log       LogConfig       `mapstructure:"log"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Mail      MailConfig      `mapstructure:"mail"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// LockConfig selects the advisory locker used by the SQLite and memory
// stores. PostgreSQL always uses row locks.
type LockConfig struct {
	// Backend is local or redis.
	Backend string        `mapstructure:"backend"`
	Wait    time.Duration `mapstructure:"wait"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// PolicyConfig holds the engine-wide policy defaults. The grace period and
// the per-user cap have no built-in default and must be configured.
type PolicyConfig struct {
	MaxDaysInAdvance       int  `mapstructure:"max_days_in_advance"`
	MinDurationMinutes     int  `mapstructure:"min_duration_minutes"`
	MaxDurationMinutes     int  `mapstructure:"max_duration_minutes"`
	AutoCompleteGraceHours *int `mapstructure:"auto_complete_grace_hours"`
	MaxActivePerUser       *int `mapstructure:"max_active_per_user"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NotifyConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

type MailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	Domain   string `mapstructure:"domain"`
}

// Load reads configuration. path may be empty, in which case config.yaml
// is looked up in ./config and the working directory and is optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FACILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range unsetKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// unsetKeys have no default but may still come from the environment.
var unsetKeys = []string{
	"policy.auto_complete_grace_hours",
	"policy.max_active_per_user",
	"mail.host",
	"mail.username",
	"mail.password",
	"mail.from",
	"mail.domain",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "./data/facility.db")

	v.SetDefault("lock.backend", "local")
	v.SetDefault("lock.wait", reservation.DefaultLockWait.String())
	v.SetDefault("lock.ttl", "30s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "5m")

	v.SetDefault("policy.max_days_in_advance", reservation.DefaultMaxDaysInAdvance)
	v.SetDefault("policy.min_duration_minutes", reservation.DefaultMinDurationMinutes)
	v.SetDefault("policy.max_duration_minutes", reservation.DefaultMaxDurationMinutes)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("notify.timeout", reservation.DefaultNotifyTimeout.String())

	v.SetDefault("mail.enabled", false)
	v.SetDefault("mail.port", 587)
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be sqlite, postgres or memory, got %q", c.Store.Driver)
	}

	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when lock.backend is redis")
		}
	default:
		return fmt.Errorf("lock.backend must be local or redis, got %q", c.Lock.Backend)
	}
	if c.Lock.Wait <= 0 {
		return fmt.Errorf("lock.wait must be positive")
	}

	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive")
	}

	if c.Policy.AutoCompleteGraceHours == nil {
		return fmt.Errorf("policy.auto_complete_grace_hours is required")
	}
	if c.Policy.MaxActivePerUser == nil {
		return fmt.Errorf("policy.max_active_per_user is required")
	}
	if err := c.Policy.Defaults().Validate(); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if c.Mail.Enabled {
		if c.Mail.Host == "" || c.Mail.From == "" {
			return fmt.Errorf("mail.host and mail.from are required when mail is enabled")
		}
	}
	return nil
}

// Defaults converts the policy section. Call it only after Validate.
func (p PolicyConfig) Defaults() reservation.EffectivePolicy {
	eff := reservation.EffectivePolicy{
		MaxDaysInAdvance:   p.MaxDaysInAdvance,
		MinDurationMinutes: p.MinDurationMinutes,
		MaxDurationMinutes: p.MaxDurationMinutes,
	}
	if p.AutoCompleteGraceHours != nil {
		eff.AutoCompleteGraceHours = *p.AutoCompleteGraceHours
	}
	if p.MaxActivePerUser != nil {
		eff.MaxActivePerUser = *p.MaxActivePerUser
	}
	return eff
}
