package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings. Values are resolved in three layers:
// built-in defaults, an optional YAML file (APP_CONFIG_FILE), then
// environment variables, with later layers winning.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	BaseURL    string `yaml:"base_url"`

	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`

	Session struct {
		Secret string `yaml:"secret"`
	} `yaml:"session"`

	Analytics struct {
		Salt        string   `yaml:"salt"`
		IgnorePaths []string `yaml:"ignore_paths"`
	} `yaml:"analytics"`

	Mail struct {
		SMTPAddr string `yaml:"smtp_addr"`
		From     string `yaml:"from"`
	} `yaml:"mail"`

	Retention struct {
		Days     int    `yaml:"days"`
		Schedule string `yaml:"schedule"`
		Enabled  bool   `yaml:"enabled"`
	} `yaml:"retention"`

	// Languages are the locale path prefixes recognized by the router and
	// the visit recorder.
	Languages []string `yaml:"languages"`

	// DefaultSphereSlug names the sphere used when a visitor has not picked
	// one. It is resolved to an ID once at startup.
	DefaultSphereSlug string `yaml:"default_sphere"`

	ListingMaxResults int `yaml:"listing_max_results"`

	PrometheusEnabled bool     `yaml:"prometheus_enabled"`
	TrustedProxies    []string `yaml:"trusted_proxies"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	cfg.ListenAddr = ":8080"
	cfg.BaseURL = "http://localhost:8080"
	cfg.Languages = []string{"en", "da"}
	cfg.DefaultSphereSlug = "main"
	cfg.ListingMaxResults = 100
	cfg.Retention.Days = 30
	cfg.Retention.Schedule = "0 3 * * *"
	cfg.Retention.Enabled = true
	cfg.Analytics.IgnorePaths = []string{"/static/", "/healthz", "/readyz", "/metrics", "/api/"}

	if path := os.Getenv("APP_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.ListenAddr = getenvDefault("APP_LISTEN_ADDR", cfg.ListenAddr)
	cfg.BaseURL = getenvDefault("APP_BASE_URL", cfg.BaseURL)
	cfg.DB.DSN = getenvDefault("APP_DB_DSN", cfg.DB.DSN)

	if cfg.DB.DSN == "" {
		host := os.Getenv("APP_DB_HOST")
		name := os.Getenv("APP_DB_NAME")
		user := os.Getenv("APP_DB_USER")
		password := os.Getenv("APP_DB_PASSWORD")
		port := getenvDefault("APP_DB_PORT", "5432")
		sslmode := getenvDefault("APP_DB_SSLMODE", "disable")

		if host != "" && name != "" && user != "" {
			cfg.DB.DSN = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslmode)
		}
	}

	cfg.Session.Secret = getenvDefault("APP_SESSION_SECRET", cfg.Session.Secret)
	cfg.Analytics.Salt = getenvDefault("APP_ANALYTICS_SALT", cfg.Analytics.Salt)
	if v := getenvList("APP_ANALYTICS_IGNORE_PATHS"); v != nil {
		cfg.Analytics.IgnorePaths = v
	}
	cfg.Mail.SMTPAddr = getenvDefault("APP_SMTP_ADDR", cfg.Mail.SMTPAddr)
	cfg.Mail.From = getenvDefault("APP_MAIL_FROM", cfg.Mail.From)
	if v := getenvList("APP_LANGUAGES"); v != nil {
		cfg.Languages = v
	}
	cfg.DefaultSphereSlug = getenvDefault("APP_DEFAULT_SPHERE", cfg.DefaultSphereSlug)
	cfg.ListingMaxResults = getenvInt("APP_LISTING_MAX_RESULTS", cfg.ListingMaxResults)
	cfg.Retention.Days = getenvInt("APP_RETENTION_DAYS", cfg.Retention.Days)
	cfg.Retention.Schedule = getenvDefault("APP_RETENTION_SCHEDULE", cfg.Retention.Schedule)
	cfg.Retention.Enabled = getenvBool("APP_RETENTION_ENABLED", cfg.Retention.Enabled)
	cfg.PrometheusEnabled = getenvBool("APP_PROMETHEUS_ENDPOINT_ENABLED", cfg.PrometheusEnabled)
	if v := getenvList("APP_TRUSTED_PROXIES"); v != nil {
		cfg.TrustedProxies = v
	}

	if cfg.DB.DSN == "" {
		return nil, errors.New("APP_DB_DSN is required (or set APP_DB_HOST, APP_DB_NAME, and APP_DB_USER)")
	}
	if cfg.Session.Secret == "" {
		return nil, errors.New("APP_SESSION_SECRET is required")
	}
	if len(cfg.Session.Secret) < 32 {
		return nil, fmt.Errorf("APP_SESSION_SECRET must be at least 32 characters long (got %d)", len(cfg.Session.Secret))
	}
	if cfg.Analytics.Salt == "" {
		return nil, errors.New("APP_ANALYTICS_SALT is required")
	}
	if len(cfg.Languages) == 0 {
		return nil, errors.New("at least one language prefix is required")
	}
	if cfg.ListingMaxResults <= 0 {
		return nil, fmt.Errorf("listing max results must be positive (got %d)", cfg.ListingMaxResults)
	}
	if cfg.Retention.Days <= 0 {
		return nil, fmt.Errorf("retention days must be positive (got %d)", cfg.Retention.Days)
	}

	if len(cfg.TrustedProxies) == 0 {
		fmt.Println("WARNING: No APP_TRUSTED_PROXIES configured. The server will trust all proxies - not recommended for public environments.")
	}

	return cfg, nil
}

// IsLanguage reports whether code is a configured locale prefix.
func (c *Config) IsLanguage(code string) bool {
	for _, l := range c.Languages {
		if l == code {
			return true
		}
	}
	return false
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvList(key string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, item := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return nil
}
