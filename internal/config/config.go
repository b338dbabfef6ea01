package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	LogLevel  string // logrus level name
	LogFormat string // "json" or "text"

	DBDriver      string // mysql, postgres or sqlite3
	DBDSN         string // full DSN; overrides the individual fields
	DBUser        string
	DBPass        string
	DBHost        string
	DBPort        string
	DBName        string
	DBAutoMigrate bool

	JWTSecret      string // secret used to sign JWTs
	AccessTTLMin   int    // access token time-to-live in minutes
	RefreshTTLDays int    // refresh token time-to-live in days
	BcryptCost     int    // bcrypt cost for password hashing

	ReaperMode     string        // "ticker" or "asynq"
	ReaperInterval time.Duration // how often expired review holds are released

	Calendar CalendarConfig

	AMQPURL               string // RabbitMQ URL; empty disables notifications
	NotifyQueue           string
	NotifyConsumerEnabled bool
}

// CalendarConfig configures the calendar proxy client.
type CalendarConfig struct {
	Enabled      bool
	BaseURL      string
	TokenURL     string
	TenantID     string
	ClientID     string
	ClientSecret string
	Scope        string
	Mailbox      string
	TokenCache   string // "memory" or "redis"
	Timeout      time.Duration

	// NotificationURL, when set, is subscribed to mailbox changes at startup.
	NotificationURL string
	ClientState     string
}

// Reaper modes.
const (
	ReaperTicker = "ticker"
	ReaperAsynq  = "asynq"
)

// Load reads a .env file when present, then the environment.  Required
// variables are enforced by must() and missing values cause the program to
// exit with a fatal log message.
func Load() Config {
	_ = godotenv.Load() // a missing .env is fine; real env vars win

	driver := envStr("DB_DRIVER", "mysql")
	cfg := Config{
		Env:       envStr("APP_ENV", "dev"),
		Port:      envStr("APP_PORT", "8080"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "text"),

		DBDriver:      driver,
		DBDSN:         os.Getenv("DB_DSN"),
		DBPass:        os.Getenv("DB_PASS"),
		DBAutoMigrate: envBool("DB_AUTO_MIGRATE", true),

		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),

		ReaperMode:     strings.ToLower(envStr("REAPER_MODE", ReaperTicker)),
		ReaperInterval: envDur("REAPER_INTERVAL", 5*time.Minute),

		Calendar: loadCalendar(),

		AMQPURL:               firstEnv("RABBITMQ_URL", "AMQP_URL"),
		NotifyQueue:           envStr("NOTIFY_QUEUE", "reservation.events"),
		NotifyConsumerEnabled: envBool("NOTIFY_CONSUMER_ENABLED", false),
	}
	// sqlite only needs a file name; the networked drivers need the full set
	if cfg.DBDSN == "" && driver != "sqlite3" {
		cfg.DBUser = must("DB_USER")
		cfg.DBHost = must("DB_HOST")
		cfg.DBPort = must("DB_PORT")
		cfg.DBName = must("DB_NAME")
	} else {
		cfg.DBUser = os.Getenv("DB_USER")
		cfg.DBHost = os.Getenv("DB_HOST")
		cfg.DBPort = os.Getenv("DB_PORT")
		cfg.DBName = os.Getenv("DB_NAME")
	}
	if cfg.ReaperMode != ReaperTicker && cfg.ReaperMode != ReaperAsynq {
		log.Fatalf("invalid REAPER_MODE: %q", cfg.ReaperMode)
	}
	return cfg
}

func loadCalendar() CalendarConfig {
	c := CalendarConfig{
		Enabled:      envBool("CALENDAR_ENABLED", false),
		BaseURL:      envStr("CALENDAR_BASE_URL", "https://graph.microsoft.com/v1.0"),
		TokenURL:     os.Getenv("CALENDAR_TOKEN_URL"),
		TenantID:     os.Getenv("CALENDAR_TENANT_ID"),
		ClientID:     os.Getenv("CALENDAR_CLIENT_ID"),
		ClientSecret: os.Getenv("CALENDAR_CLIENT_SECRET"),
		Scope:        envStr("CALENDAR_SCOPE", "https://graph.microsoft.com/.default"),
		Mailbox:      os.Getenv("CALENDAR_MAILBOX"),
		TokenCache:   strings.ToLower(envStr("CALENDAR_TOKEN_CACHE", "memory")),
		Timeout:      envDur("CALENDAR_TIMEOUT", 10*time.Second),

		NotificationURL: os.Getenv("CALENDAR_NOTIFICATION_URL"),
		ClientState:     os.Getenv("CALENDAR_CLIENT_STATE"),
	}
	if c.TokenURL == "" && c.TenantID != "" {
		c.TokenURL = "https://login.microsoftonline.com/" + c.TenantID + "/oauth2/v2.0/token"
	}
	if c.Enabled && (c.TokenURL == "" || c.ClientID == "" || c.Mailbox == "") {
		log.Fatalf("CALENDAR_ENABLED requires CALENDAR_TOKEN_URL (or CALENDAR_TENANT_ID), CALENDAR_CLIENT_ID and CALENDAR_MAILBOX")
	}
	if c.NotificationURL != "" && c.ClientState == "" {
		log.Fatalf("CALENDAR_NOTIFICATION_URL requires CALENDAR_CLIENT_STATE")
	}
	return c
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}
