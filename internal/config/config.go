// Package config loads SupportPipe settings from the environment.
//
// A .env file is read first when present; variables already set in the
// environment win. Every setting is looked up as SUPPORTPIPE_<NAME> and then
// as <NAME>, so conventional keys such as OPENAI_API_KEY or DATABASE_URL
// work unprefixed.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is the environment variable prefix.
const Prefix = "SUPPORTPIPE"

const (
	// DefaultStateDir is the default directory for SupportPipe state data
	DefaultStateDir = "/var/lib/supportpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "supportpipe.db"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite database filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds every setting of the service.
type Config struct {
	StateDir    string `envconfig:"STATE_DIR" default:"/var/lib/supportpipe"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	WhatsAppDSN string `envconfig:"WHATSAPP_DB_DSN"`
	Transport   string `envconfig:"TRANSPORT" default:"whatsapp"`

	APIAddr   string `envconfig:"API_ADDR" default:":8080"`
	APIToken  string `envconfig:"API_TOKEN"`
	PublicURL string `envconfig:"PUBLIC_URL"`

	OpenAIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel string `envconfig:"OPENAI_MODEL"`

	TwilioAccountSID string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `envconfig:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string `envconfig:"TWILIO_FROM_NUMBER"`

	PortalValidateURL string        `envconfig:"PORTAL_VALIDATE_URL"`
	PortalBalanceURL  string        `envconfig:"PORTAL_BALANCE_URL"`
	PortalOrderURL    string        `envconfig:"PORTAL_ORDER_URL"`
	PortalToken       string        `envconfig:"PORTAL_TOKEN"`
	PortalTimeout     time.Duration `envconfig:"PORTAL_TIMEOUT" default:"10s"`

	WarningAfter time.Duration `envconfig:"INACTIVITY_WARNING_AFTER" default:"2m"`
	EndAfter     time.Duration `envconfig:"INACTIVITY_END_AFTER" default:"2m"`
	AIEndAfter   time.Duration `envconfig:"AI_INACTIVITY_END_AFTER" default:"1m"`

	Timezone      string `envconfig:"TIMEZONE" default:"America/Mexico_City"`
	HoursDisabled bool   `envconfig:"BUSINESS_HOURS_DISABLED"`

	Debug bool `envconfig:"DEBUG" default:"true"`
}

// Load reads the given .env files (".env" when none are given) and decodes
// the environment into a Config.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				slog.Debug("config.Load: no env file", "path", f)
				continue
			}
			return Config{}, fmt.Errorf("failed to load %s: %w", f, err)
		}
		slog.Debug("config.Load: env file loaded", "path", f)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	slog.Debug("config.Load: environment loaded",
		"state_dir", cfg.StateDir,
		"database_url_set", cfg.DatabaseURL != "",
		"transport", cfg.Transport,
		"api_addr", cfg.APIAddr,
		"openai_key_set", cfg.OpenAIKey != "",
		"business_hours_disabled", cfg.HoursDisabled)
	return cfg, nil
}

// Validate checks settings that cannot work together.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportWhatsApp:
	case TransportTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return fmt.Errorf("%w: twilio transport needs TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.WarningAfter <= 0 || c.EndAfter <= 0 || c.AIEndAfter <= 0 {
		return fmt.Errorf("%w: inactivity timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}

// StoreDSN returns DATABASE_URL or, when unset, a SQLite file in the state directory.
func (c Config) StoreDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return filepath.Join(c.StateDir, DefaultDBFileName)
}

// WhatsAppStoreDSN returns the whatsmeow database DSN. It follows
// DATABASE_URL when that is set; otherwise it is a SQLite file with foreign
// keys enabled in the state directory.
func (c Config) WhatsAppStoreDSN() string {
	if c.WhatsAppDSN != "" {
		return c.WhatsAppDSN
	}
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return "file:" + filepath.Join(c.StateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}
