package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/pkg/errors"
)

type Config struct {
	Monitor  MonitorConfig  `json:"monitor"`
	Telegram TelegramConfig `json:"telegram"`
	Render   RenderConfig   `json:"render"`
	Proxy    ProxyConfig    `json:"proxy"`
	Storage  StorageConfig  `json:"storage"`
	API      APIConfig      `json:"api"`
	Metrics  MetricsConfig  `json:"metrics"`
	Logging  LoggingConfig  `json:"logging"`
}

type MonitorConfig struct {
	URL             string  `json:"url"`
	TargetPrice     float64 `json:"target_price"`
	Currency        string  `json:"currency"`
	Timezone        string  `json:"timezone"`
	ReportStart     string  `json:"report_start"` // HH:MM, inclusive
	ReportEnd       string  `json:"report_end"`   // HH:MM, inclusive
	IntervalSeconds int     `json:"interval_seconds"`
}

type TelegramConfig struct {
	Token          string `json:"token"`
	ChatID         string `json:"chat_id"`
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type RenderConfig struct {
	PriceSelector  string   `json:"price_selector"`
	UserAgent      string   `json:"user_agent"`
	WaitSeconds    int      `json:"wait_seconds"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	BlockMarkers   []string `json:"block_markers"`
	ChromeExecPath string   `json:"chrome_exec_path"`
	WindowWidth    int      `json:"window_width"`
	WindowHeight   int      `json:"window_height"`
}

type ProxyConfig struct {
	Enabled               bool     `json:"enabled"`
	Sources               []Source `json:"sources"`
	UserAgent             string   `json:"user_agent"`
	EchoURL               string   `json:"echo_url"`
	ProbeTimeoutMs        int      `json:"probe_timeout_ms"`
	MaxProbes             int      `json:"max_probes"`
	MaxAttempts           int      `json:"max_attempts"` // 0 retries forever
	CooldownSeconds       int      `json:"cooldown_seconds"`
	CacheFile             string   `json:"cache_file"`
	CacheTTLSeconds       int      `json:"cache_ttl_seconds"`
	EnableFastFilter      bool     `json:"enable_fast_filter"`
	FastFilterTimeoutMs   int      `json:"fast_filter_timeout_ms"`
	FastFilterConcurrency int      `json:"fast_filter_concurrency"`
}

type Source struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol"` // "http", "socks5" or "auto"
	Enabled  bool   `json:"enabled"`
}

type StorageConfig struct {
	Type string `json:"type"` // "file", "sqlite", "redis"
	Path string `json:"path"`
}

type APIConfig struct {
	Enabled            bool   `json:"enabled"`
	Addr               string `json:"addr"`
	APIKeyEnv          string `json:"api_key_env"`
	RateLimitPerMinute int    `json:"rate_limit_per_minute"`
	EnableAPIKeyAuth   bool   `json:"enable_api_key_auth"`
	EnableIPRateLimit  bool   `json:"enable_ip_rate_limit"`
}

type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint"`
	Namespace string `json:"namespace"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // "json" or "text"
}

// Default returns the configuration used when neither file nor environment say otherwise
func Default() Config {
	return Config{
		Monitor: MonitorConfig{
			URL:             "https://ozon.by/category/televizory-15528/?category_was_predicted=true&deny_category_prediction=true&from_global=true&rsdiagonalstr=24.000%3B109.000&sorting=price&text=%D1%82%D0%B5%D0%BB%D0%B5%D0%B2%D0%B8%D0%B7%D0%BE%D1%80&__rr=1",
			TargetPrice:     190.0,
			Currency:        "BYN",
			Timezone:        "Europe/Minsk",
			ReportStart:     "10:25",
			ReportEnd:       "10:35",
			IntervalSeconds: 600,
		},
		Telegram: TelegramConfig{
			BaseURL:        "https://api.telegram.org",
			TimeoutSeconds: 15,
		},
		Render: RenderConfig{
			PriceSelector:  "span.tsHeadline500Medium",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			WaitSeconds:    12,
			TimeoutSeconds: 90,
			BlockMarkers:   []string{"Доступ ограничен", "Access denied", "captcha"},
			WindowWidth:    1366,
			WindowHeight:   900,
		},
		Proxy: ProxyConfig{
			Sources: []Source{
				{URL: "https://api.proxyscrape.com/v2/?request=getproxies&protocol=http&timeout=5000&country=all", Protocol: "http", Enabled: true},
				{URL: "https://raw.githubusercontent.com/TheSpeedX/PROXY-List/master/http.txt", Protocol: "http", Enabled: true},
			},
			EchoURL:               "http://httpbin.org/ip",
			ProbeTimeoutMs:        10000,
			MaxProbes:             10,
			CooldownSeconds:       300,
			CacheFile:             "/tmp/ozon_proxies.txt",
			CacheTTLSeconds:       3600,
			FastFilterTimeoutMs:   3000,
			FastFilterConcurrency: 200,
		},
		Storage: StorageConfig{
			Type: "file",
			Path: "/tmp/ozon_monitor.json",
		},
		API: APIConfig{
			Addr:               ":8083",
			APIKeyEnv:          "MONITOR_API_KEY",
			RateLimitPerMinute: 120,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Endpoint:  "/metrics",
			Namespace: "pricemonitor",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds configuration from defaults, the optional JSON file and the environment
func Load(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		switch {
		case os.IsNotExist(err):
			// env-only setup
		case err != nil:
			return nil, errors.Wrapf(err, "failed to read config file %s", filePath)
		default:
			var fileCfg Config
			if err := json.Unmarshal(data, &fileCfg); err != nil {
				return nil, errors.Wrapf(err, "failed to parse config file %s", filePath)
			}
			if err := mergo.Merge(&cfg, fileCfg, mergo.WithOverride); err != nil {
				return nil, errors.Wrap(err, "failed to merge config file")
			}
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("MONITOR_URL"); v != "" {
		cfg.Monitor.URL = v
	}
	if v := os.Getenv("MONITOR_TIMEZONE"); v != "" {
		cfg.Monitor.Timezone = v
	}
	if v := os.Getenv("TARGET_PRICE"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid TARGET_PRICE %q", v)
		}
		cfg.Monitor.TargetPrice = price
	}
	if v := os.Getenv("STATE_FILE"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("USE_PROXY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "invalid USE_PROXY %q", v)
		}
		cfg.Proxy.Enabled = enabled
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	return nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return errors.New("telegram token is required (TELEGRAM_TOKEN)")
	}
	if c.Telegram.ChatID == "" {
		return errors.New("telegram chat id is required (CHAT_ID)")
	}
	if c.Monitor.URL == "" {
		return errors.New("monitor url is required")
	}
	if c.Monitor.TargetPrice < 0 {
		return errors.New("target_price must not be negative")
	}
	if _, err := time.LoadLocation(c.Monitor.Timezone); err != nil {
		return errors.Wrapf(err, "unknown timezone %q", c.Monitor.Timezone)
	}
	start, err := ParseClock(c.Monitor.ReportStart)
	if err != nil {
		return errors.Wrap(err, "report_start")
	}
	end, err := ParseClock(c.Monitor.ReportEnd)
	if err != nil {
		return errors.Wrap(err, "report_end")
	}
	if end < start {
		return errors.New("report_end must not be before report_start")
	}
	if c.Proxy.MaxProbes < 1 {
		return errors.New("max_probes must be at least 1")
	}
	if c.Proxy.MaxAttempts < 0 {
		return errors.New("max_attempts must not be negative")
	}
	if c.Proxy.CooldownSeconds < 1 {
		return errors.New("cooldown_seconds must be at least 1")
	}
	if c.Proxy.ProbeTimeoutMs < 100 || c.Proxy.ProbeTimeoutMs > 300000 {
		return errors.New("probe_timeout_ms must be between 100 and 300000")
	}
	if c.Storage.Type != "file" && c.Storage.Type != "sqlite" && c.Storage.Type != "redis" {
		return errors.New("storage type must be 'file', 'sqlite', or 'redis'")
	}
	return nil
}

// Location returns the monitoring timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Monitor.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReportWindow returns the report window bounds as offsets from midnight
func (c *Config) ReportWindow() (time.Duration, time.Duration) {
	start, _ := ParseClock(c.Monitor.ReportStart)
	end, _ := ParseClock(c.Monitor.ReportEnd)
	return start, end
}

// ParseClock parses HH:MM into an offset from midnight
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid time of day %q, expected HH:MM", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
