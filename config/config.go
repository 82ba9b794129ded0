package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

var (
	ErrUnknownStorageDriver = errors.New("unknown-storage-driver")
	ErrMissingPostgresURL   = errors.New("missing-postgres-url")
	ErrInvalidKaraokeStep   = errors.New("invalid-karaoke-step")
	ErrNegativeDelay        = errors.New("negative-delay")
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Addr           string        `env:"ADDR" envDefault:":5000"`
	AllowedOrigins []string      `env:"ALLOWED_ORIGINS,required" envSeparator:","`
	JWTKey         string        `env:"JWT_KEY,required,unset"`
	TokenMaxAge    time.Duration `env:"TOKEN_MAX_AGE" envDefault:"168h"`
	RequireAuth    bool          `env:"REQUIRE_AUTH" envDefault:"true"`

	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	PostgresURL   string `env:"POSTGRES_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"scriptroom.db"`

	ScriptsDir       string        `env:"SCRIPTS_DIR" envDefault:"scripts"`
	KaraokeStep      int           `env:"KARAOKE_STEP" envDefault:"2"`
	BaseDelay        time.Duration `env:"BASE_DELAY" envDefault:"90ms"`
	PunctuationDelay time.Duration `env:"PUNCTUATION_DELAY" envDefault:"300ms"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StorageDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.PostgresURL == "" {
			return ErrMissingPostgresURL
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStorageDriver, c.StorageDriver)
	}

	if c.KaraokeStep < 1 {
		return ErrInvalidKaraokeStep
	}
	if c.BaseDelay < 0 || c.PunctuationDelay < 0 {
		return ErrNegativeDelay
	}
	return nil
}
