package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"wedding-rsvp/internal/notify"
	"wedding-rsvp/internal/ratelimit"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendSheets = "sheets"
)

// Config holds the application configuration
type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	// PublicURL is the base of the links sent to guests.
	PublicURL    string `env:"PUBLIC_URL" envDefault:"http://localhost:8080"`
	DataDir      string `env:"DATA_DIR" envDefault:"data"`
	Backend      string `env:"RSVP_BACKEND" envDefault:"sqlite"`
	DatabasePath string `env:"DATABASE_PATH"`
	GuestsFile   string `env:"GUESTS_FILE"`

	RegistryTTL       time.Duration `env:"REGISTRY_TTL" envDefault:"5m"`
	AllowRSVPUpdates  bool          `env:"ALLOW_RSVP_UPDATES" envDefault:"false"`
	RequireKnownGuest bool          `env:"REQUIRE_KNOWN_GUEST" envDefault:"true"`
	AutosaveDelay     time.Duration `env:"AUTOSAVE_DELAY" envDefault:"1s"`
	SyncSchedule      string        `env:"SYNC_SCHEDULE" envDefault:"*/5 * * * *"`
	AdminPassword     string        `env:"ADMIN_PASSWORD"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`

	RateLimit         RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	BlockedClients    []string        `env:"BLOCKED_CLIENTS" envSeparator:","`
	PublicTokenPrefix string          `env:"PUBLIC_TOKEN_PREFIX" envDefault:"public-"`

	// TrustedProxies lists the peers whose X-Forwarded-For header is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	Sheets   SheetsConfig   `envPrefix:"SHEETS_"`
	EmailJS  EmailJSConfig  `envPrefix:"EMAILJS_"`
	WhatsApp WhatsAppConfig `envPrefix:"WHATSAPP_"`

	OrganizerEmails []string `env:"ORGANIZER_EMAILS" envSeparator:","`
	OrganizerPhones []string `env:"ORGANIZER_PHONES" envSeparator:","`

	WeddingDate     string `env:"WEDDING_DATE" envDefault:"Saturday, January 1, 2027"`
	WeddingLocation string `env:"WEDDING_LOCATION" envDefault:"Venue TBD"`
	BrideName       string `env:"BRIDE_NAME" envDefault:"Bride"`
	GroomName       string `env:"GROOM_NAME" envDefault:"Groom"`
}

// RateLimitConfig is the single attempt budget shared by the token check on
// page load and on submit.
type RateLimitConfig struct {
	MaxAttempts int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	Window      time.Duration `env:"WINDOW" envDefault:"15m"`
	Lockout     time.Duration `env:"LOCKOUT" envDefault:"30m"`
	// RedisAddr shares attempt counters between instances when set.
	RedisAddr string `env:"REDIS_ADDR"`
}

type SheetsConfig struct {
	SpreadsheetID   string `env:"SPREADSHEET_ID"`
	CredentialsFile string `env:"CREDENTIALS_FILE"`
	Tab             string `env:"TAB" envDefault:"RSVPs"`
}

type EmailJSConfig struct {
	ServiceID           string `env:"SERVICE_ID"`
	TemplateID          string `env:"TEMPLATE_ID"`
	OrganizerTemplateID string `env:"ORGANIZER_TEMPLATE_ID"`
	PublicKey           string `env:"PUBLIC_KEY"`
	PrivateKey          string `env:"PRIVATE_KEY"`
	Endpoint            string `env:"ENDPOINT" envDefault:"https://api.emailjs.com/api/v1.0/email/send"`
}

type WhatsAppConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"false"`
	DataDir string `env:"DATA_DIR"`
}

// LoadConfig reads an optional .env file and then the environment.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(c.DataDir, "rsvp.db")
	}
	if c.WhatsApp.DataDir == "" {
		c.WhatsApp.DataDir = c.DataDir
	}
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendSQLite:
	case BackendSheets:
		if c.Sheets.SpreadsheetID == "" || c.Sheets.CredentialsFile == "" {
			return fmt.Errorf("RSVP_BACKEND=sheets requires SHEETS_SPREADSHEET_ID and SHEETS_CREDENTIALS_FILE")
		}
	default:
		return fmt.Errorf("unknown RSVP_BACKEND %q", c.Backend)
	}
	if c.RateLimit.MaxAttempts < 1 {
		return fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be at least 1")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Lockout <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW and RATE_LIMIT_LOCKOUT must be positive")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// LocalPath is the file holding drafts and queued submissions.
func (c *Config) LocalPath() string {
	return filepath.Join(c.DataDir, "local.json")
}

// RateLimits converts the rate limit settings for the limiter.
func (c *Config) RateLimits() ratelimit.Config {
	return ratelimit.Config{
		MaxAttempts: c.RateLimit.MaxAttempts,
		Window:      c.RateLimit.Window,
		Lockout:     c.RateLimit.Lockout,
	}
}

// EmailEnabled reports whether EmailJS credentials are present.
func (c *Config) EmailEnabled() bool {
	return c.EmailJS.ServiceID != "" && c.EmailJS.TemplateID != "" && c.EmailJS.PublicKey != ""
}

// EmailJSClient converts the EmailJS settings for the notifier.
func (c *Config) EmailJSClient() notify.EmailJSConfig {
	return notify.EmailJSConfig{
		Endpoint:            c.EmailJS.Endpoint,
		ServiceID:           c.EmailJS.ServiceID,
		TemplateID:          c.EmailJS.TemplateID,
		OrganizerTemplateID: c.EmailJS.OrganizerTemplateID,
		PublicKey:           c.EmailJS.PublicKey,
		PrivateKey:          c.EmailJS.PrivateKey,
		OrganizerEmails:     c.OrganizerEmails,
	}
}

// Wedding returns the event details quoted in messages.
func (c *Config) Wedding() notify.WeddingDetails {
	return notify.WeddingDetails{
		Date:      c.WeddingDate,
		Location:  c.WeddingLocation,
		BrideName: c.BrideName,
		GroomName: c.GroomName,
	}
}

// GuestLink is the personal RSVP URL for token.
func (c *Config) GuestLink(token string) string {
	return c.PublicURL + "/guest/" + token
}

// NewLogger builds the root logger.
func (c *Config) NewLogger(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	if c.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
