package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const minAuthSecretLength = 32

type Config struct {
	Port          string `yaml:"port" env:"PORT"`
	AllowedOrigin string `yaml:"allowed_origin" env:"ALLOWED_ORIGIN"`

	DatabaseURL   string `yaml:"database_url" env:"DATABASE_URL"`
	MongoURI      string `yaml:"mongo_uri" env:"MONGO_URI"`
	MongoDatabase string `yaml:"mongo_database" env:"MONGO_DATABASE"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`

	KafkaBrokers     string `yaml:"kafka_brokers" env:"KAFKA_BROKERS"`
	KafkaTopicPrefix string `yaml:"kafka_topic_prefix" env:"KAFKA_TOPIC_PREFIX"`

	AuthSecret            string `yaml:"auth_secret" env:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `yaml:"access_token_ttl_minutes" env:"ACCESS_TOKEN_TTL_MINUTES"`

	WalkInCustomerID        string `yaml:"walk_in_customer_id" env:"WALK_IN_CUSTOMER_ID"`
	OperationTimeoutMS      int    `yaml:"operation_timeout_ms" env:"OPERATION_TIMEOUT_MS"`
	ClaimLeaseSeconds       int    `yaml:"claim_lease_seconds" env:"CLAIM_LEASE_SECONDS"`
	FinalizeConcurrency     int    `yaml:"finalize_concurrency" env:"FINALIZE_CONCURRENCY"`
	ReportCacheTTLSeconds   int    `yaml:"report_cache_ttl_seconds" env:"REPORT_CACHE_TTL_SECONDS"`
	RecoveryIntervalSeconds int    `yaml:"recovery_interval_seconds" env:"RECOVERY_INTERVAL_SECONDS"`
	ReportTimezone          string `yaml:"report_timezone" env:"REPORT_TIMEZONE"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

func Defaults() Config {
	return Config{
		Port:                    "8080",
		AllowedOrigin:           "http://127.0.0.1:3000",
		MongoDatabase:           "possettle",
		KafkaTopicPrefix:        "possettle",
		AccessTokenTTLMinutes:   480,
		WalkInCustomerID:        "walk-in",
		OperationTimeoutMS:      10000,
		ClaimLeaseSeconds:       30,
		FinalizeConcurrency:     8,
		ReportCacheTTLSeconds:   30,
		RecoveryIntervalSeconds: 60,
		ReportTimezone:          "UTC",
		LogLevel:                "info",
	}
}

// Load layers defaults, the YAML file named by CONFIG_FILE, a local .env file
// and finally the process environment.
func Load() (Config, error) {
	cfg := Defaults()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "read config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config file %s", path)
		}
	}

	// .env never overrides variables that are already set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return cfg, errors.Wrap(err, "load .env")
	}

	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return cfg, errors.Wrap(err, "read environment")
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.WalkInCustomerID = strings.TrimSpace(cfg.WalkInCustomerID)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.AuthSecret) < minAuthSecretLength {
		return fmt.Errorf("AUTH_SECRET must be at least %d characters", minAuthSecretLength)
	}
	positive := map[string]int{
		"ACCESS_TOKEN_TTL_MINUTES":  c.AccessTokenTTLMinutes,
		"OPERATION_TIMEOUT_MS":      c.OperationTimeoutMS,
		"CLAIM_LEASE_SECONDS":       c.ClaimLeaseSeconds,
		"FINALIZE_CONCURRENCY":      c.FinalizeConcurrency,
		"REPORT_CACHE_TTL_SECONDS":  c.ReportCacheTTLSeconds,
		"RECOVERY_INTERVAL_SECONDS": c.RecoveryIntervalSeconds,
	}
	for key, value := range positive {
		if value < 1 {
			return fmt.Errorf("%s must be positive, got %d", key, value)
		}
	}
	if c.DatabaseURL != "" && c.MongoURI != "" {
		return errors.New("set only one of DATABASE_URL and MONGO_URI")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return nil, errors.Wrapf(err, "REPORT_TIMEZONE %q", c.ReportTimezone)
	}
	return loc, nil
}

func (c Config) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMS) * time.Millisecond
}

func (c Config) ClaimLease() time.Duration {
	return time.Duration(c.ClaimLeaseSeconds) * time.Second
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c Config) RecoveryInterval() time.Duration {
	return time.Duration(c.RecoveryIntervalSeconds) * time.Second
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}
