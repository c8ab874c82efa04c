package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/blackmichael/altcheck/internal/domain"
	"github.com/joho/godotenv"
)

// Store drivers accepted in STORE_DRIVER.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var defaultDSN = map[string]string{
	DriverSQLite: "altcheck.db",
	DriverMySQL:  "wordpress:wordpress@tcp(localhost:3306)/wordpress",
}

// Config holds all configuration for the application.
type Config struct {
	// Port is the HTTP server port.
	Port int

	// StoreDriver selects the content store: DriverSQLite or DriverMySQL.
	StoreDriver string

	// DatabaseURL is the SQLite path or the MySQL DSN.
	DatabaseURL string

	// TablePrefix is the WordPress table prefix used by the MySQL store.
	TablePrefix string

	// EventsURL is the post event stream WebSocket endpoint. Empty disables
	// the subscriber.
	EventsURL string

	// WebhookSecret must be sent in X-Altcheck-Secret on webhook calls. Empty
	// disables the check.
	WebhookSecret string

	// MessagesPath optionally points to a YAML message bank replacing the
	// built-in one.
	MessagesPath string

	bot domain.BotIdentity
}

// Bot returns the identity feedback is written as.
func (c *Config) Bot() domain.BotIdentity {
	return c.bot
}

// Load reads configuration from environment variables with sensible defaults.
// Variables in a .env file in the working directory are loaded first without
// overriding ones already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	port := 3000
	if p := os.Getenv("PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid PORT: %d out of range", port)
		}
	}

	driver := envOrDefault("STORE_DRIVER", DriverSQLite)
	dsn, ok := defaultDSN[driver]
	if !ok {
		return nil, fmt.Errorf("invalid STORE_DRIVER %q: want %s or %s", driver, DriverSQLite, DriverMySQL)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		dsn = v
	}

	defaults := domain.DefaultBotIdentity()
	bot := domain.BotIdentity{
		Login:         envOrDefault("BOT_LOGIN", defaults.Login),
		DisplayName:   envOrDefault("BOT_DISPLAY_NAME", defaults.DisplayName),
		CommentAuthor: envOrDefault("BOT_COMMENT_AUTHOR", defaults.CommentAuthor),
		Email:         envOrDefault("BOT_EMAIL", defaults.Email),
		URL:           envOrDefault("BOT_URL", defaults.URL),
		Role:          envOrDefault("BOT_ROLE", defaults.Role),
		IntroMetaKey:  envOrDefault("INTRO_META_KEY", defaults.IntroMetaKey),
	}

	return &Config{
		Port:          port,
		StoreDriver:   driver,
		DatabaseURL:   dsn,
		TablePrefix:   envOrDefault("WP_TABLE_PREFIX", "wp_"),
		EventsURL:     os.Getenv("EVENTS_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		MessagesPath:  os.Getenv("MESSAGES_PATH"),
		bot:           bot,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
