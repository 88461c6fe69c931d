package verifyapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls verification API behavior.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64
	WSWriteWait  time.Duration
}

// LoadConfigFromEnv loads API config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:   envBool("QQBIND_API_TRUST_PROXY", false),
		MaxBodyBytes: envInt64("QQBIND_API_MAX_BODY_BYTES", 64<<10), // 64 KiB
		WSWriteWait:  envDuration("QQBIND_API_WS_WRITE_WAIT", 5*time.Second),
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	if cfg.WSWriteWait <= 0 {
		cfg.WSWriteWait = 5 * time.Second
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
