package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerPort     string
	Environment    string
	AllowedOrigins []string

	FirebaseProject            string
	FirebaseServiceAccountPath string
	FirebaseServiceAccountJSON string
	AuthDisabled               bool
	ServiceToken               string

	StoreBackend string // memory, firestore, postgres
	DatabaseURL  string

	BrokerBackend      string // memory, redis
	RedisURL           string
	RedisChannelPrefix string

	Delivery DeliveryConfig
}

// DeliveryConfig tunes the push/poll supervisor and the write path. Values can
// be overridden by the YAML file named in CONFIG_FILE.
type DeliveryConfig struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	PollSafetyInterval time.Duration `yaml:"poll_safety_interval"`
	PushOpenTimeout    time.Duration `yaml:"push_open_timeout"`
	BackoffInitial     time.Duration `yaml:"backoff_initial"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	GapTimeout         time.Duration `yaml:"gap_timeout"`
	DedupWindow        int           `yaml:"dedup_window"`
	QueryLimit         int           `yaml:"query_limit"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	ResolveMaxAttempts int           `yaml:"resolve_max_attempts"`
	SendRatePerMinute  int           `yaml:"send_rate_per_minute"`
	NotifyOnMessage    bool          `yaml:"notify_on_message"`
}

func DefaultDelivery() DeliveryConfig {
	return DeliveryConfig{
		PollInterval:       3 * time.Second,
		PollSafetyInterval: 30 * time.Second,
		PushOpenTimeout:    5 * time.Second,
		BackoffInitial:     time.Second,
		BackoffMax:         30 * time.Second,
		DedupWindow:        1024,
		QueryLimit:         100,
		WriteTimeout:       5 * time.Second,
		ResolveMaxAttempts: 3,
		SendRatePerMinute:  30,
		NotifyOnMessage:    true,
	}
}

func Load() (*Config, error) {
	godotenv.Load()

	defaults := DefaultDelivery()
	config := &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),

		FirebaseProject:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		AuthDisabled:               getEnvAsBool("AUTH_DISABLED", false),
		ServiceToken:               getEnv("SERVICE_TOKEN", ""),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", "memory")),
		DatabaseURL:  getEnv("DATABASE_URL", ""),

		BrokerBackend:      strings.ToLower(getEnv("BROKER_BACKEND", "memory")),
		RedisURL:           getEnv("REDIS_URL", ""),
		RedisChannelPrefix: getEnv("REDIS_CHANNEL_PREFIX", "pgx:delivery"),

		Delivery: DeliveryConfig{
			PollInterval:       getEnvAsDuration("POLL_INTERVAL", defaults.PollInterval),
			PollSafetyInterval: getEnvAsDuration("POLL_SAFETY_INTERVAL", defaults.PollSafetyInterval),
			PushOpenTimeout:    getEnvAsDuration("PUSH_OPEN_TIMEOUT", defaults.PushOpenTimeout),
			BackoffInitial:     getEnvAsDuration("BACKOFF_INITIAL", defaults.BackoffInitial),
			BackoffMax:         getEnvAsDuration("BACKOFF_MAX", defaults.BackoffMax),
			GapTimeout:         getEnvAsDuration("GAP_TIMEOUT", 0),
			DedupWindow:        getEnvAsInt("DEDUP_WINDOW", defaults.DedupWindow),
			QueryLimit:         getEnvAsInt("QUERY_LIMIT", defaults.QueryLimit),
			WriteTimeout:       getEnvAsDuration("WRITE_TIMEOUT", defaults.WriteTimeout),
			ResolveMaxAttempts: getEnvAsInt("RESOLVE_MAX_ATTEMPTS", defaults.ResolveMaxAttempts),
			SendRatePerMinute:  getEnvAsInt("SEND_RATE_PER_MINUTE", defaults.SendRatePerMinute),
			NotifyOnMessage:    getEnvAsBool("NOTIFY_ON_MESSAGE", defaults.NotifyOnMessage),
		},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := config.Delivery.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "memory", "firestore":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.BrokerBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("config: REDIS_URL is required for the redis broker")
		}
	default:
		return fmt.Errorf("config: unknown BROKER_BACKEND %q", c.BrokerBackend)
	}
	if c.AuthDisabled && c.Environment == "production" {
		return fmt.Errorf("config: AUTH_DISABLED is not allowed in production")
	}
	if c.Delivery.PollInterval <= 0 {
		return fmt.Errorf("config: POLL_INTERVAL must be positive")
	}
	return nil
}

// applyFile overlays non-zero values from a YAML document. Durations use Go
// syntax ("3s", "1m").
func (d *DeliveryConfig) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var doc struct {
		Delivery struct {
			PollInterval       string `yaml:"poll_interval"`
			PollSafetyInterval string `yaml:"poll_safety_interval"`
			PushOpenTimeout    string `yaml:"push_open_timeout"`
			BackoffInitial     string `yaml:"backoff_initial"`
			BackoffMax         string `yaml:"backoff_max"`
			GapTimeout         string `yaml:"gap_timeout"`
			DedupWindow        int    `yaml:"dedup_window"`
			QueryLimit         int    `yaml:"query_limit"`
			WriteTimeout       string `yaml:"write_timeout"`
			ResolveMaxAttempts int    `yaml:"resolve_max_attempts"`
			SendRatePerMinute  int    `yaml:"send_rate_per_minute"`
			NotifyOnMessage    *bool  `yaml:"notify_on_message"`
		} `yaml:"delivery"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	f := doc.Delivery
	durations := []struct {
		raw string
		dst *time.Duration
	}{
		{f.PollInterval, &d.PollInterval},
		{f.PollSafetyInterval, &d.PollSafetyInterval},
		{f.PushOpenTimeout, &d.PushOpenTimeout},
		{f.BackoffInitial, &d.BackoffInitial},
		{f.BackoffMax, &d.BackoffMax},
		{f.GapTimeout, &d.GapTimeout},
		{f.WriteTimeout, &d.WriteTimeout},
	}
	for _, item := range durations {
		if item.raw == "" {
			continue
		}
		v, err := time.ParseDuration(item.raw)
		if err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
		*item.dst = v
	}
	if f.DedupWindow > 0 {
		d.DedupWindow = f.DedupWindow
	}
	if f.QueryLimit > 0 {
		d.QueryLimit = f.QueryLimit
	}
	if f.ResolveMaxAttempts > 0 {
		d.ResolveMaxAttempts = f.ResolveMaxAttempts
	}
	if f.SendRatePerMinute > 0 {
		d.SendRatePerMinute = f.SendRatePerMinute
	}
	if f.NotifyOnMessage != nil {
		d.NotifyOnMessage = *f.NotifyOnMessage
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		boolValue, err := strconv.ParseBool(strings.TrimSpace(value))
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		d, err := time.ParseDuration(strings.TrimSpace(value))
		if err == nil {
			return d
		}
	}
	return defaultValue
}
