package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	validation "github.com/go-ozzo/ozzo-validation"
)

// EnvPrefix is prepended to every environment variable read by LoadConfig.
const EnvPrefix = "AUTH_LINK_"

// Config holds the link engine options
type Config struct {
	AllowedProviders  []string      `env:"ALLOWED_PROVIDERS" envSeparator:"," envDefault:"discord"`
	LockTimeout       time.Duration `env:"LOCK_TIMEOUT" envDefault:"5s"`
	LockTTL           time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	ConfirmationTTL   time.Duration `env:"CONFIRMATION_TTL" envDefault:"10m"`
	RedirectAllowList []string      `env:"REDIRECT_ALLOW_LIST" envSeparator:"," envDefault:"/"`
	DefaultRedirect   string        `env:"DEFAULT_REDIRECT" envDefault:"/"`
	DatabaseDriver    string        `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN       string        `env:"DATABASE_DSN" envDefault:"file::memory:?cache=shared"`
	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		AllowedProviders:  []string{"discord"},
		LockTimeout:       5 * time.Second,
		LockTTL:           30 * time.Second,
		ConfirmationTTL:   10 * time.Minute,
		RedirectAllowList: []string{"/"},
		DefaultRedirect:   "/",
		DatabaseDriver:    "sqlite",
		DatabaseDSN:       "file::memory:?cache=shared",
	}
}

// LoadConfig reads the configuration from AUTH_LINK_* environment variables.
func LoadConfig() (Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, err
	}
	cfg = cfg.Normalize()
	return cfg, cfg.Validate()
}

// Normalize lower cases provider names and drops blank entries.
func (c Config) Normalize() Config {
	providers := make([]string, 0, len(c.AllowedProviders))
	seen := map[string]bool{}
	for _, p := range c.AllowedProviders {
		p = NormalizeProviderType(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		providers = append(providers, p)
	}
	c.AllowedProviders = providers

	paths := make([]string, 0, len(c.RedirectAllowList))
	for _, p := range c.RedirectAllowList {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	c.RedirectAllowList = paths
	return c
}

// Validate checks the configuration values
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.AllowedProviders, validation.Required),
		validation.Field(&c.LockTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.LockTTL, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.ConfirmationTTL, validation.Required),
		validation.Field(&c.DefaultRedirect, validation.Required, validation.By(internalPath)),
		validation.Field(&c.RedirectAllowList, validation.By(internalPaths)),
		validation.Field(&c.DatabaseDriver, validation.Required, validation.In("sqlite", "postgres")),
	)
}

// IsProviderAllowed reports whether providerType is in the allow-list,
// ignoring case.
func (c Config) IsProviderAllowed(providerType string) bool {
	providerType = NormalizeProviderType(providerType)
	for _, allowed := range c.AllowedProviders {
		if NormalizeProviderType(allowed) == providerType {
			return true
		}
	}
	return false
}

func internalPath(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") || strings.Contains(s, `\`) {
		return errors.New("must be an internal path")
	}
	return nil
}

func internalPaths(value any) error {
	paths, _ := value.([]string)
	for _, p := range paths {
		if err := internalPath(p); err != nil {
			return err
		}
	}
	return nil
}
