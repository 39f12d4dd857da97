package config

import (
	"testing"
	"time"
)

func lookup(env map[string]string) func(string) string {
	return func(key string) string { return env[key] }
}

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"SIGNING_SECRET": "dev-secret",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Issuer != "mediboard" {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.AccessTTL != 15*time.Minute || cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("ttl defaults: %+v", cfg)
	}
	if cfg.MaxLoginAttempts != 5 || cfg.LockoutDuration != 2*time.Hour {
		t.Fatalf("lockout defaults: %+v", cfg)
	}
	if len(cfg.SigningKeys) != 1 || cfg.SigningKeys[0].ID != "primary" {
		t.Fatalf("keys: %+v", cfg.SigningKeys)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"MEDIBOARD_ADDR":      ":9090",
		"MEDIBOARD_GRPC_ADDR": ":9091",
		"MEDIBOARD_PG_DSN":    "postgres://localhost/mediboard",
		"SIGNING_SECRET":      "dev-secret",
		"TOKEN_ISSUER":        "mediboard-test",
		"ACCESS_TTL":          "5m",
		"REFRESH_TTL":         "48h",
		"LOCKOUT_DURATION":    "30m",
		"MAX_LOGIN_ATTEMPTS":  "3",
		"HASH_COST":           "10",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.GRPCAddr != ":9091" || cfg.PGDSN == "" {
		t.Fatalf("addresses: %+v", cfg)
	}
	if cfg.Issuer != "mediboard-test" || cfg.AccessTTL != 5*time.Minute || cfg.RefreshTTL != 48*time.Hour {
		t.Fatalf("token settings: %+v", cfg)
	}
	if cfg.MaxLoginAttempts != 3 || cfg.LockoutDuration != 30*time.Minute || cfg.HashCost != 10 {
		t.Fatalf("lockout settings: %+v", cfg)
	}
}

func TestFromEnvDurationsInSeconds(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"SIGNING_SECRET":   "dev-secret",
		"ACCESS_TTL":       "900",
		"REFRESH_TTL":      "604800",
		"LOCKOUT_DURATION": "7200",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.AccessTTL != 15*time.Minute || cfg.RefreshTTL != 7*24*time.Hour || cfg.LockoutDuration != 2*time.Hour {
		t.Fatalf("second-valued durations: %+v", cfg)
	}
}

func TestFromEnvSigningKeyRotation(t *testing.T) {
	cfg, err := FromEnv(lookup(map[string]string{
		"SIGNING_KEYS": "2026-03:march-secret, 2026-02:february-secret",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if len(cfg.SigningKeys) != 2 {
		t.Fatalf("keys = %d, want 2", len(cfg.SigningKeys))
	}
	if cfg.SigningKeys[0].ID != "2026-03" || string(cfg.SigningKeys[0].Secret) != "march-secret" {
		t.Fatalf("active key: %+v", cfg.SigningKeys[0])
	}
	if cfg.SigningKeys[1].ID != "2026-02" {
		t.Fatalf("verify key: %+v", cfg.SigningKeys[1])
	}
}

func TestFromEnvErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"no secret", map[string]string{}},
		{"malformed keys", map[string]string{"SIGNING_KEYS": "nokidseparator"}},
		{"empty keys", map[string]string{"SIGNING_KEYS": " , "}},
		{"bad duration", map[string]string{"SIGNING_SECRET": "x", "ACCESS_TTL": "soon"}},
		{"negative duration", map[string]string{"SIGNING_SECRET": "x", "REFRESH_TTL": "-1h"}},
		{"bad int", map[string]string{"SIGNING_SECRET": "x", "MAX_LOGIN_ATTEMPTS": "many"}},
		{"zero attempts", map[string]string{"SIGNING_SECRET": "x", "MAX_LOGIN_ATTEMPTS": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := FromEnv(lookup(tc.env)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
