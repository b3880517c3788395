// Package config loads service configuration from the environment, an
// optional .env file and the working-calendar YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/maintenance-engine/schedule"
)

// LedgerBackend selects where generation runs are reserved.
type LedgerBackend string

const (
	LedgerSQLite LedgerBackend = "sqlite"
	LedgerRedis  LedgerBackend = "redis"
)

// Config is the service configuration. Precedence, lowest first:
// defaults, .env file, environment, command-line flags.
type Config struct {
	Port          string
	DBPath        string
	Timezone      string
	RunHour       int
	CalendarFile  string
	OperatorToken string

	LedgerBackend LedgerBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	KafkaBrokers string
	KafkaTopic   string

	AllowedOrigins []string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:           "8080",
		DBPath:         "./data/maintenance.db",
		Timezone:       "UTC",
		RunHour:        schedule.DefaultRunHour,
		LedgerBackend:  LedgerSQLite,
		RedisAddr:      "localhost:6379",
		KafkaTopic:     "maintenance.work-orders",
		AllowedOrigins: []string{"*"},
	}
}

// Load reads envFiles (default ".env"; missing files are ignored) into the
// process environment without overriding it, then reads the environment.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Defaults()
	get := func(k string, def string) string {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			return v
		}
		return def
	}

	cfg.Port = get("PORT", cfg.Port)
	cfg.DBPath = get("DB_PATH", cfg.DBPath)
	cfg.Timezone = get("TZ", cfg.Timezone)
	cfg.CalendarFile = get("CALENDAR_FILE", "")
	cfg.OperatorToken = get("OPERATOR_TOKEN", "")
	cfg.LedgerBackend = LedgerBackend(strings.ToLower(get("LEDGER_BACKEND", string(cfg.LedgerBackend))))
	cfg.RedisAddr = get("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = get("REDIS_PASSWORD", "")
	cfg.KafkaBrokers = get("KAFKA_BROKERS", "")
	cfg.KafkaTopic = get("KAFKA_TOPIC", cfg.KafkaTopic)

	var err error
	if cfg.RunHour, err = strconv.Atoi(get("RUN_HOUR", strconv.Itoa(cfg.RunHour))); err != nil {
		return Config{}, fmt.Errorf("RUN_HOUR: %w", err)
	}
	if cfg.RedisDB, err = strconv.Atoi(get("REDIS_DB", "0")); err != nil {
		return Config{}, fmt.Errorf("REDIS_DB: %w", err)
	}
	if origins := get("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.AllowedOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late.
func (c Config) Validate() error {
	if c.RunHour < 0 || c.RunHour > 23 {
		return fmt.Errorf("RUN_HOUR must be 0-23, got %d", c.RunHour)
	}
	if c.LedgerBackend != LedgerSQLite && c.LedgerBackend != LedgerRedis {
		return fmt.Errorf("LEDGER_BACKEND must be sqlite or redis, got %q", c.LedgerBackend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TZ %q: %w", c.Timezone, err)
	}
	return loc, nil
}
