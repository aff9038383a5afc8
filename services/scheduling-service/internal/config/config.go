// Package config loads the scheduling service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	libconfig "github.com/md-rashed-zaman/vetclinic/libs/config"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	ServiceName string
	Port        string
	GRPCPort    string
	LogLevel    string

	Store       string
	DatabaseURL string
	DBMaxConns  int32
	AutoMigrate bool

	RedisURL     string
	KafkaBrokers string
	// LiveRelay feeds live subscribers from the event stream instead of
	// in-process notifications. It needs KafkaBrokers.
	LiveRelay bool

	JWTSecret   string
	CORSOrigins []string

	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitPerMin  int
	RequestTimeout   time.Duration
	MaxBodyBytes     int64
	CalendarCacheTTL time.Duration

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	HealthInterval     time.Duration
}

var defaults = map[string]any{
	"SERVICE_NAME":         "scheduling-service",
	"PORT":                 "8085",
	"GRPC_PORT":            "9095",
	"LOG_LEVEL":            "info",
	"STORE":                StorePostgres,
	"DATABASE_URL":         "",
	"DB_MAX_CONNS":         10,
	"AUTO_MIGRATE":         false,
	"REDIS_URL":            "",
	"KAFKA_BROKERS":        "",
	"LIVE_RELAY":           false,
	"JWT_SECRET":           "",
	"CORS_ORIGINS":         "",
	"RATE_LIMIT_RPS":       10.0,
	"RATE_LIMIT_BURST":     20,
	"RATE_LIMIT_PER_MIN":   600,
	"REQUEST_TIMEOUT":      "15s",
	"MAX_BODY_BYTES":       1 << 20,
	"CALENDAR_CACHE_TTL":   "30s",
	"OUTBOX_POLL_INTERVAL": "2s",
	"OUTBOX_BATCH_SIZE":    50,
	"HEALTH_INTERVAL":      "10s",
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	if err := libconfig.LoadDotEnv(); err != nil {
		return Config{}, err
	}
	v := libconfig.NewViper(defaults)

	cfg := Config{
		ServiceName:        v.GetString("SERVICE_NAME"),
		Port:               v.GetString("PORT"),
		GRPCPort:           v.GetString("GRPC_PORT"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		Store:              v.GetString("STORE"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		DBMaxConns:         v.GetInt32("DB_MAX_CONNS"),
		AutoMigrate:        v.GetBool("AUTO_MIGRATE"),
		RedisURL:           v.GetString("REDIS_URL"),
		KafkaBrokers:       v.GetString("KAFKA_BROKERS"),
		LiveRelay:          v.GetBool("LIVE_RELAY"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		CORSOrigins:        libconfig.SplitList(v.GetString("CORS_ORIGINS")),
		RateLimitRPS:       v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:     v.GetInt("RATE_LIMIT_BURST"),
		RateLimitPerMin:    v.GetInt("RATE_LIMIT_PER_MIN"),
		RequestTimeout:     v.GetDuration("REQUEST_TIMEOUT"),
		MaxBodyBytes:       v.GetInt64("MAX_BODY_BYTES"),
		CalendarCacheTTL:   v.GetDuration("CALENDAR_CACHE_TTL"),
		OutboxPollInterval: v.GetDuration("OUTBOX_POLL_INTERVAL"),
		OutboxBatchSize:    v.GetInt("OUTBOX_BATCH_SIZE"),
		HealthInterval:     v.GetDuration("HEALTH_INTERVAL"),
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if _, err := libconfig.ValidPort("PORT", c.Port); err != nil {
		errs = append(errs, err)
	}
	if _, err := libconfig.ValidPort("GRPC_PORT", c.GRPCPort); err != nil {
		errs = append(errs, err)
	}
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE=postgres"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE must be %q or %q (got %q)", StorePostgres, StoreMemory, c.Store))
	}
	if c.LiveRelay && c.KafkaBrokers == "" {
		errs = append(errs, errors.New("LIVE_RELAY needs KAFKA_BROKERS"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must not be negative"))
	}
	return errors.Join(errs...)
}
