// Package config reads server settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the server.
type Config struct {
	Port             string
	DBPath           string
	LogLevel         string
	Env              string
	FallbackDelay    time.Duration
	AIMoveDelay      time.Duration
	AIRandomness     float64
	StoreTimeout     time.Duration
	SessionIdle      time.Duration
	AllowedOrigins   []string
	NFTSupply        int
	SubscriptionDays int
	DeployMarker     string
}

// Development reports whether APP_ENV selects development mode.
func (c Config) Development() bool {
	return c.Env == "development"
}

// Addr is the listen address.
func (c Config) Addr() string {
	return ":" + c.Port
}

// SubscriptionPeriod is how long a subscription lasts.
func (c Config) SubscriptionPeriod() time.Duration {
	return time.Duration(c.SubscriptionDays) * 24 * time.Hour
}

// Load reads .env files (when present) into the process environment and
// then builds the Config. foundEnvFile is false when no .env file was read.
func Load(files ...string) (cfg Config, foundEnvFile bool, err error) {
	foundEnvFile = godotenv.Load(files...) == nil
	cfg, err = FromEnv(os.Getenv)
	return cfg, foundEnvFile, err
}

// FromEnv builds a Config from getenv, applying defaults for unset keys.
func FromEnv(getenv func(string) string) (Config, error) {
	p := parser{getenv: getenv}
	cfg := Config{
		Port:             p.str("PORT", "3000"),
		DBPath:           p.str("DB_PATH", "game.db"),
		LogLevel:         p.str("LOG_LEVEL", "info"),
		Env:              p.str("APP_ENV", "production"),
		FallbackDelay:    p.duration("AI_FALLBACK_DELAY", 5*time.Second),
		AIMoveDelay:      p.duration("AI_MOVE_DELAY", 500*time.Millisecond),
		AIRandomness:     p.float("AI_RANDOMNESS", 0.15),
		StoreTimeout:     p.duration("STORE_TIMEOUT", 2*time.Second),
		SessionIdle:      p.duration("SESSION_IDLE", time.Hour),
		AllowedOrigins:   p.list("ALLOWED_ORIGINS", []string{"*"}),
		NFTSupply:        p.int("NFT_SUPPLY", 3333),
		SubscriptionDays: p.int("SUBSCRIPTION_DAYS", 30),
		DeployMarker:     p.str("DEPLOY_MARKER", ""),
	}
	if cfg.Env != "production" && cfg.Env != "development" {
		p.fail("APP_ENV", cfg.Env, errors.New("want production or development"))
	}
	if cfg.AIRandomness < 0 || cfg.AIRandomness > 1 {
		p.fail("AI_RANDOMNESS", getenv("AI_RANDOMNESS"), errors.New("must be between 0 and 1"))
	}
	if cfg.NFTSupply < 0 {
		p.fail("NFT_SUPPLY", getenv("NFT_SUPPLY"), errors.New("must not be negative"))
	}
	if cfg.SubscriptionDays <= 0 {
		p.fail("SUBSCRIPTION_DAYS", getenv("SUBSCRIPTION_DAYS"), errors.New("must be positive"))
	}
	return cfg, errors.Join(p.errs...)
}

// parser collects every invalid value instead of stopping at the first.
type parser struct {
	getenv func(string) string
	errs   []error
}

func (p *parser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) str(key, def string) string {
	if v := strings.TrimSpace(p.getenv(key)); v != "" {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	if d <= 0 {
		p.fail(key, v, errors.New("must be positive"))
		return def
	}
	return d
}

func (p *parser) float(key string, def float64) float64 {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) int(key string, def int) int {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) list(key string, def []string) []string {
	v := strings.TrimSpace(p.getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
