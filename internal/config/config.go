package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DedupAlwaysNew = "always_new"
	DedupReuse     = "reuse"
)

// Config holds all configuration for the dock.
type Config struct {
	// CDP connection settings
	CDPAddress    string
	CDPPort       int
	EvalTimeoutMS int

	// Browser process
	LaunchBrowser bool
	ProfileDir    string
	WindowWidth   int
	WindowHeight  int

	// HTTP API
	BindAddr         string
	PortCandidates   []string
	PortAutoFallback bool

	// Tabs
	MaxTabs       int
	DedupPolicy   string
	LoadTimeoutMS int

	// Layout
	TopInset        int
	SidebarWidth    int
	MinSurfaceW     int
	MinSurfaceH     int
	HealIntervalMS  int
	ReverifyDelayMS int
	MaxResets       int
	WindowPollMS    int

	// Injection
	ReadyTimeoutMS int
	RetryDelayMS   int

	// Sites
	SitesConfigPath string
	WatchSites      bool

	// Event journal; an empty dir disables it
	JournalDir   string
	JournalMaxMB int

	NotifyEndpoint string
	LogLevel       string
	LogFile        string
}

// Load reads configuration from environment variables and optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		CDPAddress:       getEnvOrDefault("CHROMIUM_CDP_ADDRESS", "127.0.0.1"),
		CDPPort:          getEnvIntOrDefault("CHROMIUM_CDP_PORT", 9220),
		EvalTimeoutMS:    getEnvIntOrDefault("PROMPTDOCK_EVAL_TIMEOUT_MS", 5000),
		LaunchBrowser:    getEnvBoolOrDefault("PROMPTDOCK_LAUNCH_BROWSER", true),
		ProfileDir:       getEnvOrDefault("PROMPTDOCK_PROFILE_DIR", "./browser_profile"),
		WindowWidth:      getEnvIntOrDefault("PROMPTDOCK_WINDOW_WIDTH", 1400),
		WindowHeight:     getEnvIntOrDefault("PROMPTDOCK_WINDOW_HEIGHT", 900),
		BindAddr:         getEnvOrDefault("PROMPTDOCK_BIND_ADDR", "127.0.0.1:8390"),
		PortCandidates:   getEnvListOrDefault("PROMPTDOCK_PORT_CANDIDATES", []string{"127.0.0.1:8391", "127.0.0.1:8392", "127.0.0.1:8393"}),
		PortAutoFallback: getEnvBoolOrDefault("PROMPTDOCK_PORT_AUTO_FALLBACK", true),
		MaxTabs:          getEnvIntOrDefault("PROMPTDOCK_MAX_TABS", 8),
		DedupPolicy:      strings.ToLower(getEnvOrDefault("TABS_DEDUP_POLICY", DedupAlwaysNew)),
		LoadTimeoutMS:    getEnvIntOrDefault("PROMPTDOCK_LOAD_TIMEOUT_MS", 15000),
		TopInset:         getEnvIntOrDefault("PROMPTDOCK_TOP_INSET", 40),
		SidebarWidth:     getEnvIntOrDefault("PROMPTDOCK_SIDEBAR_WIDTH", 350),
		MinSurfaceW:      getEnvIntOrDefault("PROMPTDOCK_MIN_SURFACE_WIDTH", 100),
		MinSurfaceH:      getEnvIntOrDefault("PROMPTDOCK_MIN_SURFACE_HEIGHT", 100),
		HealIntervalMS:   getEnvIntOrDefault("LAYOUT_HEAL_INTERVAL_MS", 500),
		ReverifyDelayMS:  getEnvIntOrDefault("LAYOUT_RESET_REVERIFY_MS", 100),
		MaxResets:        getEnvIntOrDefault("LAYOUT_MAX_RESETS", 3),
		WindowPollMS:     getEnvIntOrDefault("PROMPTDOCK_WINDOW_POLL_MS", 250),
		ReadyTimeoutMS:   getEnvIntOrDefault("INJECT_READY_TIMEOUT_MS", 10000),
		RetryDelayMS:     getEnvIntOrDefault("INJECT_RETRY_DELAY_MS", 2000),
		SitesConfigPath:  getEnvOrDefault("PROMPTDOCK_SITES_CONFIG", "./config/sites.yaml"),
		WatchSites:       getEnvBoolOrDefault("PROMPTDOCK_WATCH_SITES", true),
		JournalDir:       getEnvOrDefault("PROMPTDOCK_JOURNAL_DIR", "logs/events"),
		JournalMaxMB:     getEnvIntOrDefault("PROMPTDOCK_JOURNAL_MAX_MB", 50),
		NotifyEndpoint:   getEnvOrDefault("PROMPTDOCK_NOTIFY_ENDPOINT", ""),
		LogLevel:         strings.ToLower(getEnvOrDefault("PROMPTDOCK_LOG_LEVEL", "info")),
		LogFile:          getEnvOrDefault("PROMPTDOCK_LOG_FILE", "logs/promptdock.log"),
	}
	cfg.clamp()

	if cfg.DedupPolicy != DedupAlwaysNew && cfg.DedupPolicy != DedupReuse {
		return nil, fmt.Errorf("config: TABS_DEDUP_POLICY must be %q or %q, got %q", DedupAlwaysNew, DedupReuse, cfg.DedupPolicy)
	}
	return cfg, nil
}

func (c *Config) clamp() {
	if c.EvalTimeoutMS < 1000 {
		c.EvalTimeoutMS = 1000
	}
	if c.MaxTabs < 1 {
		c.MaxTabs = 1
	}
	if c.SidebarWidth < 200 {
		c.SidebarWidth = 200
	}
	if c.SidebarWidth > 600 {
		c.SidebarWidth = 600
	}
	if c.WindowWidth < 800 {
		c.WindowWidth = 800
	}
	if c.WindowHeight < 600 {
		c.WindowHeight = 600
	}
	if c.HealIntervalMS < 50 {
		c.HealIntervalMS = 50
	}
	if c.WindowPollMS < 50 {
		c.WindowPollMS = 50
	}
}

// CDPURL returns the CDP HTTP endpoint.
func (c *Config) CDPURL() string {
	return "http://" + c.CDPAddress + ":" + strconv.Itoa(c.CDPPort)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBoolOrDefault(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvListOrDefault(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
