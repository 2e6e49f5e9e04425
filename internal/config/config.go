package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type APIConfig struct {
	Addr             string
	DatabaseURL      string
	SheetBridgeURL   string
	SheetBridgeToken string
	ServerTimezone   int // UTC offset in whole hours
	Superadmins      []int64
	ConfigPollEvery  time.Duration
}

type CLIConfig struct {
	APIBaseURL string
	Token      string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BOURSE_API_ADDR", ":8080")
	}

	cfg := APIConfig{
		Addr:             addr,
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SheetBridgeURL:   strings.TrimRight(strings.TrimSpace(os.Getenv("SHEET_BRIDGE_URL")), "/"),
		SheetBridgeToken: strings.TrimSpace(os.Getenv("SHEET_BRIDGE_TOKEN")),
		ServerTimezone:   envIntDefault("BOURSE_SERVER_TZ", 0),
		Superadmins:      envIDList("BOURSE_SUPERADMINS"),
		ConfigPollEvery:  envDurationDefault("BOURSE_CONFIG_POLL_EVERY", 20*time.Second),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SheetBridgeURL == "" {
		return cfg, fmt.Errorf("SHEET_BRIDGE_URL is required")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BOURSE_API_BASE_URL", "http://localhost:8080"), "/"),
		Token:      strings.TrimSpace(os.Getenv("BOURSE_TOKEN")),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// envIDList parses a comma-separated list of numeric identity ids; malformed
// entries are skipped.
func envIDList(key string) []int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
