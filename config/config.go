// Package config loads the server configuration.
//
// Sources, later ones overriding earlier ones:
//
//  1. Defaults
//  2. YAML file (optional, -config)
//  3. .env file (optional) merged into the process environment
//  4. ATTENDANCE_* environment variables
//
// Command-line flags in cmd/server override the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/warp/attendance-engine/logging"
)

const envPrefix = "ATTENDANCE_"

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Log        LogConfig        `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Path is the SQLite file; ":memory:" keeps everything in memory.
	Path string `yaml:"path"`
}

// RedisConfig enables distributed day locks. Empty Addr means in-process
// locks, which is only correct for a single replica.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

type SchedulerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Spec        string `yaml:"spec"`
	Parallelism int    `yaml:"parallelism"`
}

type AttendanceConfig struct {
	// RequireActivePolicy rejects punches for organizations whose policy
	// is switched off.
	RequireActivePolicy bool `yaml:"require_active_policy"`
	MaxPastSkewMinutes  int  `yaml:"max_past_skew_minutes"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{Path: "./data/attendance.db"},
		Redis:    RedisConfig{LockTTL: 30 * time.Second},
		Scheduler: SchedulerConfig{
			Enabled:     true,
			Spec:        "* * * * *",
			Parallelism: 4,
		},
		Attendance: AttendanceConfig{
			RequireActivePolicy: true,
			MaxPastSkewMinutes:  5,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. configPath may be empty; a missing envPath
// file is ignored.
func Load(configPath, envPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	num("PORT", &c.Server.Port)
	dur("SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	if v, ok := os.LookupEnv(envPrefix + "ALLOWED_ORIGINS"); ok {
		c.Server.AllowedOrigins = splitList(v)
	}
	str("DB_PATH", &c.Database.Path)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	dur("REDIS_LOCK_TTL", &c.Redis.LockTTL)
	flag("SCHEDULER_ENABLED", &c.Scheduler.Enabled)
	str("SCHEDULER_SPEC", &c.Scheduler.Spec)
	num("SCHEDULER_PARALLELISM", &c.Scheduler.Parallelism)
	flag("REQUIRE_ACTIVE_POLICY", &c.Attendance.RequireActivePolicy)
	num("MAX_PAST_SKEW_MINUTES", &c.Attendance.MaxPastSkewMinutes)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(errs...)
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Redis.Addr != "" && c.Redis.LockTTL <= 0 {
		errs = append(errs, errors.New("redis.lock_ttl must be positive"))
	}
	if c.Scheduler.Parallelism <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.parallelism must be positive, got %d", c.Scheduler.Parallelism))
	}
	if _, err := cron.ParseStandard(c.Scheduler.Spec); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.spec %q: %w", c.Scheduler.Spec, err))
	}
	if c.Attendance.MaxPastSkewMinutes < 0 {
		errs = append(errs, errors.New("attendance.max_past_skew_minutes must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// MaxPastSkew is the punch-request skew as a duration.
func (c *Config) MaxPastSkew() time.Duration {
	return time.Duration(c.Attendance.MaxPastSkewMinutes) * time.Minute
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
