package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Browser    BrowserConfig
	Engine     EngineConfig
	Proxy      ProxyConfig
	Supervisor SupervisorConfig
	RateLimit  RateLimitConfig
	Log        LogConfig
}

// ServerConfig controls the sidecar control server.
type ServerConfig struct {
	// Host is the bind address. The sidecar is local-only.
	Host string // default: "127.0.0.1"
	Mode string // "debug", "release", "test"; default: "release"

	// EnableMetrics mounts GET /metrics.
	EnableMetrics bool // default: true
}

// BrowserConfig controls how browsers are launched.
type BrowserConfig struct {
	// Headless controls whether browsers run headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: true

	// ChromiumBin overrides the binary for the "chromium" engine kind.
	// Empty means rod downloads and manages its own Chromium.
	ChromiumBin string

	// ChromeBin overrides the binary for the "chrome" engine kind.
	// Empty means the system Chrome is looked up on PATH.
	ChromeBin string

	// BlockedResourceTypes lists resource types to block on every page.
	// default: ["Font", "Media"]
	BlockedResourceTypes []string
}

// EngineConfig controls the crawler engine.
type EngineConfig struct {
	// MaxConcurrentTasks caps tasks executing at once; the rest queue.
	MaxConcurrentTasks int // default: 3

	// DefaultTimeout applies when a task has no options.timeout.
	DefaultTimeout time.Duration // default: 30s

	// ReadyTimeout bounds the wait for a platform ready selector.
	ReadyTimeout time.Duration // default: 10s

	// SettleDelay is the fixed wait after the ready selector.
	SettleDelay time.Duration // default: 2s

	// PageDelayMin/Max bound the random delay between list pages.
	PageDelayMin time.Duration // default: 1s
	PageDelayMax time.Duration // default: 3s

	// ChunkDelayMin/Max bound the random delay between batch chunks.
	ChunkDelayMin time.Duration // default: 2s
	ChunkDelayMax time.Duration // default: 5s

	// NavigationsPerSecond throttles navigations across all tasks.
	// Zero disables the limiter.
	NavigationsPerSecond float64 // default: 0
}

// ProxyConfig controls the egress proxy pool.
type ProxyConfig struct {
	// Proxies is a comma-separated list of proxy URLs. Credentials may be
	// embedded as user:pass@host.
	Proxies []string

	// ProbeURL is fetched through a proxy to test connectivity.
	ProbeURL string // default: "https://httpbin.org/ip"

	// ProbeTimeout bounds a single proxy probe.
	ProbeTimeout time.Duration // default: 10s
}

// SupervisorConfig controls the host-side sidecar supervisor.
type SupervisorConfig struct {
	// Binary is the sidecar executable.
	Binary string // default: "crawler-sidecar"

	StartupTimeout time.Duration // default: 30s
	HealthInterval time.Duration // default: 10s
	HealthTimeout  time.Duration // default: 5s

	// FailureThreshold is the number of consecutive failed health checks
	// that flips the sidecar to error.
	FailureThreshold int // default: 2

	// RestartDelay is the settle time between stop and start.
	RestartDelay time.Duration // default: 1s

	// RequestTimeout bounds a /crawl round trip. Zero means no limit.
	RequestTimeout time.Duration // default: 0
}

// RateLimitConfig controls control-server rate limiting.
type RateLimitConfig struct {
	// Enabled toggles the limiter on POST /crawl.
	Enabled bool // default: false

	// RequestsPerSecond is the sustained rate per client.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per client.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory, if present, is applied first and
// never overrides variables already set in the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	return &Config{
		Server: ServerConfig{
			Host:          envOr("CRAWLER_HOST", "127.0.0.1"),
			Mode:          envOr("CRAWLER_MODE", "release"),
			EnableMetrics: envBoolOr("CRAWLER_METRICS", true),
		},
		Browser: BrowserConfig{
			Headless:    envBoolOr("CRAWLER_HEADLESS", true),
			NoSandbox:   envBoolOr("CRAWLER_NO_SANDBOX", true),
			ChromiumBin: os.Getenv("CRAWLER_CHROMIUM_BIN"),
			ChromeBin:   os.Getenv("CRAWLER_CHROME_BIN"),
			BlockedResourceTypes: envSliceOr("CRAWLER_BLOCKED_RESOURCES", []string{
				"Font", "Media",
			}),
		},
		Engine: EngineConfig{
			MaxConcurrentTasks:   envIntOr("CRAWLER_MAX_TASKS", 3),
			DefaultTimeout:       envDurationOr("CRAWLER_DEFAULT_TIMEOUT", 30*time.Second),
			ReadyTimeout:         envDurationOr("CRAWLER_READY_TIMEOUT", 10*time.Second),
			SettleDelay:          envDurationOr("CRAWLER_SETTLE_DELAY", 2*time.Second),
			PageDelayMin:         envDurationOr("CRAWLER_PAGE_DELAY_MIN", time.Second),
			PageDelayMax:         envDurationOr("CRAWLER_PAGE_DELAY_MAX", 3*time.Second),
			ChunkDelayMin:        envDurationOr("CRAWLER_CHUNK_DELAY_MIN", 2*time.Second),
			ChunkDelayMax:        envDurationOr("CRAWLER_CHUNK_DELAY_MAX", 5*time.Second),
			NavigationsPerSecond: envFloatOr("CRAWLER_NAV_RPS", 0),
		},
		Proxy: ProxyConfig{
			Proxies:      envSliceOr("CRAWLER_PROXIES", nil),
			ProbeURL:     envOr("CRAWLER_PROXY_PROBE_URL", "https://httpbin.org/ip"),
			ProbeTimeout: envDurationOr("CRAWLER_PROXY_PROBE_TIMEOUT", 10*time.Second),
		},
		Supervisor: SupervisorConfig{
			Binary:           envOr("CRAWLER_SIDECAR_BIN", "crawler-sidecar"),
			StartupTimeout:   envDurationOr("CRAWLER_STARTUP_TIMEOUT", 30*time.Second),
			HealthInterval:   envDurationOr("CRAWLER_HEALTH_INTERVAL", 10*time.Second),
			HealthTimeout:    envDurationOr("CRAWLER_HEALTH_TIMEOUT", 5*time.Second),
			FailureThreshold: envIntOr("CRAWLER_HEALTH_FAILURES", 2),
			RestartDelay:     envDurationOr("CRAWLER_RESTART_DELAY", time.Second),
			RequestTimeout:   envDurationOr("CRAWLER_REQUEST_TIMEOUT", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:           envBoolOr("CRAWLER_RATE_LIMIT", false),
			RequestsPerSecond: envFloatOr("CRAWLER_RATE_RPS", 5.0),
			Burst:             envIntOr("CRAWLER_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("CRAWLER_LOG_LEVEL", "info"),
			Format: envOr("CRAWLER_LOG_FORMAT", "json"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
