package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "bitmage.yaml"

type Config struct {
	// HTTP
	Port            int               `yaml:"port" envconfig:"PORT"`
	CORSAllowOrigin string            `yaml:"cors_allow_origin" envconfig:"CORS_ALLOW_ORIGIN"`
	StaticTokens    map[string]string `yaml:"static_tokens" envconfig:"STATIC_TOKENS"` // token -> user id

	// Database
	DBHost     string `yaml:"db_host" envconfig:"DB_HOST"`
	DBPort     int    `yaml:"db_port" envconfig:"DB_PORT"`
	DBName     string `yaml:"db_name" envconfig:"DB_NAME"`
	DBUser     string `yaml:"db_user" envconfig:"DB_USER"`
	DBPassword string `yaml:"db_password" envconfig:"DB_PASSWORD"`

	// Cache
	RedisURL string `yaml:"redis_url" envconfig:"REDIS_URL"`

	// Points backend
	PointsAPIURL   string        `yaml:"points_api_url" envconfig:"POINTS_API_URL"`
	BackendTimeout time.Duration `yaml:"backend_timeout" envconfig:"BACKEND_TIMEOUT"`

	// Game
	SessionTimeZone string `yaml:"session_time_zone" envconfig:"SESSION_TIME_ZONE"`
	StartingBalance int64  `yaml:"starting_balance" envconfig:"STARTING_BALANCE"`
	MaxWager        int64  `yaml:"max_wager" envconfig:"MAX_WAGER"`

	// Timing
	CountdownInterval time.Duration `yaml:"countdown_interval" envconfig:"COUNTDOWN_INTERVAL"`
	TickInterval      time.Duration `yaml:"tick_interval" envconfig:"TICK_INTERVAL"`
	ChartInterval     time.Duration `yaml:"chart_interval" envconfig:"CHART_INTERVAL"`
	SyncInterval      time.Duration `yaml:"sync_interval" envconfig:"SYNC_INTERVAL"`

	// Notifications
	WebhookURL         string `yaml:"webhook_url" envconfig:"WEBHOOK_URL"`
	BotName            string `yaml:"bot_name" envconfig:"BOT_NAME"`
	FCMCredentialsFile string `yaml:"fcm_credentials_file" envconfig:"FCM_CREDENTIALS_FILE"`

	// Ledger
	LedgerPath string `yaml:"ledger_path" envconfig:"LEDGER_PATH"`

	// Logging
	LogLevel  string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" envconfig:"LOG_FORMAT"`

	location *time.Location
}

// Load reads .env, then the YAML file named by CONFIG_FILE, then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = DefaultFile
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("env config: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.CORSAllowOrigin == "" {
		c.CORSAllowOrigin = "*"
	}
	if c.DBHost == "" {
		c.DBHost = "localhost"
	}
	if c.DBPort == 0 {
		c.DBPort = 5432
	}
	if c.DBName == "" {
		c.DBName = "bitmage"
	}
	if c.BackendTimeout == 0 {
		c.BackendTimeout = 5 * time.Second
	}
	if c.SessionTimeZone == "" {
		c.SessionTimeZone = "UTC"
	}
	if c.StartingBalance == 0 {
		c.StartingBalance = 10000
	}
	if c.CountdownInterval == 0 {
		c.CountdownInterval = time.Second
	}
	if c.TickInterval == 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.ChartInterval == 0 {
		c.ChartInterval = 10 * time.Second
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.BotName == "" {
		c.BotName = "BitMAGE"
	}
	if c.LedgerPath == "" {
		c.LedgerPath = "data/bitmage_ledger.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "console"
	}
}

func (c *Config) Validate() error {
	var errs []string

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT %d is out of range", c.Port))
	}
	loc, err := time.LoadLocation(c.SessionTimeZone)
	if err != nil {
		errs = append(errs, fmt.Sprintf("SESSION_TIME_ZONE %q is not a known time zone", c.SessionTimeZone))
	} else {
		c.location = loc
	}
	for name, d := range map[string]time.Duration{
		"COUNTDOWN_INTERVAL": c.CountdownInterval,
		"TICK_INTERVAL":      c.TickInterval,
		"CHART_INTERVAL":     c.ChartInterval,
		"SYNC_INTERVAL":      c.SyncInterval,
		"BACKEND_TIMEOUT":    c.BackendTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.StartingBalance < 0 {
		errs = append(errs, "STARTING_BALANCE cannot be negative")
	}
	if c.MaxWager < 0 {
		errs = append(errs, "MAX_WAGER cannot be negative")
	}

	if !c.DBEnabled() {
		fmt.Println("[WARN] DB_USER not set, points API routes are disabled")
	}
	if c.RedisURL == "" {
		fmt.Println("[WARN] REDIS_URL not set, using in-process cache")
	}
	if !c.DBEnabled() && len(c.StaticTokens) == 0 {
		fmt.Println("[WARN] no DB and no STATIC_TOKENS, REST API has no authentication")
	}
	if !c.DBEnabled() && c.PointsAPIURL == "" {
		fmt.Println("[WARN] no points backend configured, balances stay local")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

// Location is the session time zone. Valid after Validate.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

func (c *Config) DBEnabled() bool {
	return c.DBUser != ""
}

// BackendMode names where balances are authoritative.
func (c *Config) BackendMode() string {
	switch {
	case c.DBEnabled():
		return "postgres"
	case c.PointsAPIURL != "":
		return "remote"
	}
	return "offline"
}

func (c *Config) Print() {
	fmt.Println("=== BitMAGE Prediction Server Configuration ===")
	fmt.Printf("Port: %d\n", c.Port)
	fmt.Printf("Session time zone: %s\n", c.SessionTimeZone)
	fmt.Printf("Starting balance: %d\n", c.StartingBalance)
	if c.MaxWager > 0 {
		fmt.Printf("Max wager: %d\n", c.MaxWager)
	}
	fmt.Println("--------------------------------------")
	fmt.Printf("Points backend: %s\n", c.BackendMode())
	if c.DBEnabled() {
		fmt.Printf("  Postgres: %s@%s:%d/%s\n", c.DBUser, c.DBHost, c.DBPort, c.DBName)
	}
	if c.PointsAPIURL != "" {
		fmt.Printf("  Points API: %s (timeout %s)\n", c.PointsAPIURL, c.BackendTimeout)
	}
	fmt.Printf("Cache: %s\n", boolLabel(c.RedisURL != "", "redis", "in-process LRU"))
	fmt.Printf("Ledger: %s\n", c.LedgerPath)
	fmt.Println("--------------------------------------")
	fmt.Println("Timing:")
	fmt.Printf("  Countdown: every %s\n", c.CountdownInterval)
	fmt.Printf("  Price tick: every %s\n", c.TickInterval)
	fmt.Printf("  Chart refresh: every %s\n", c.ChartInterval)
	fmt.Printf("  Sync: every %s\n", c.SyncInterval)
	fmt.Println("--------------------------------------")
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Printf("FCM push: %s\n", boolLabel(c.FCMCredentialsFile != "", "configured", "not set"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
