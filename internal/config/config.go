// Package config collects runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"mediboard.org/internal/auth"
)

// Config is everything the api binary needs to start.
type Config struct {
	Addr     string
	GRPCAddr string
	PGDSN    string

	SigningKeys []auth.SigningKey
	Issuer      string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	HashCost         int
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the given lookup. Split out so tests can feed
// a map instead of mutating the process environment.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Addr:             envOr(getenv, "MEDIBOARD_ADDR", ":8080"),
		GRPCAddr:         getenv("MEDIBOARD_GRPC_ADDR"),
		PGDSN:            getenv("MEDIBOARD_PG_DSN"),
		Issuer:           envOr(getenv, "TOKEN_ISSUER", "mediboard"),
		AccessTTL:        15 * time.Minute,
		RefreshTTL:       7 * 24 * time.Hour,
		HashCost:         auth.DefaultHashCost,
		MaxLoginAttempts: auth.DefaultMaxLoginAttempts,
		LockoutDuration:  auth.DefaultLockoutDuration,
	}

	var err error
	if cfg.AccessTTL, err = envDuration(getenv, "ACCESS_TTL", cfg.AccessTTL); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration(getenv, "REFRESH_TTL", cfg.RefreshTTL); err != nil {
		return Config{}, err
	}
	if cfg.LockoutDuration, err = envDuration(getenv, "LOCKOUT_DURATION", cfg.LockoutDuration); err != nil {
		return Config{}, err
	}
	if cfg.HashCost, err = envInt(getenv, "HASH_COST", cfg.HashCost); err != nil {
		return Config{}, err
	}
	if cfg.MaxLoginAttempts, err = envInt(getenv, "MAX_LOGIN_ATTEMPTS", cfg.MaxLoginAttempts); err != nil {
		return Config{}, err
	}

	cfg.SigningKeys, err = parseSigningKeys(getenv("SIGNING_KEYS"), getenv("SIGNING_SECRET"))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseSigningKeys accepts either SIGNING_KEYS as "kid:secret,kid:secret"
// (first entry signs, the rest only verify) or a bare SIGNING_SECRET.
func parseSigningKeys(keys, secret string) ([]auth.SigningKey, error) {
	if keys != "" {
		var out []auth.SigningKey
		for _, entry := range strings.Split(keys, ",") {
			entry = strings.TrimSpace(entry)
			if entry == "" {
				continue
			}
			kid, sec, ok := strings.Cut(entry, ":")
			if !ok || kid == "" || sec == "" {
				return nil, fmt.Errorf("config: malformed SIGNING_KEYS entry %q", entry)
			}
			out = append(out, auth.SigningKey{ID: kid, Secret: []byte(sec)})
		}
		if len(out) == 0 {
			return nil, errors.New("config: SIGNING_KEYS is set but empty")
		}
		return out, nil
	}
	if secret != "" {
		return []auth.SigningKey{{ID: "primary", Secret: []byte(secret)}}, nil
	}
	return nil, errors.New("config: SIGNING_SECRET or SIGNING_KEYS is required")
}

func envOr(getenv func(string) string, key, def string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration accepts either a Go duration ("15m") or a bare number of
// seconds ("900").
func envDuration(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: %s: %w", key, err)
		}
		d = parsed
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return d, nil
}

func envInt(getenv func(string) string, key string, def int) (int, error) {
	v := getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", key)
	}
	return n, nil
}
