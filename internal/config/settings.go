package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

// Settings is the runtime configuration loaded from the YAML settings file.
// Every field has a sane default so an empty file (or no file) is valid.
type Settings struct {
	Server   ServerSettings   `yaml:"server"`
	Database DatabaseSettings `yaml:"database"`
	Redis    RedisSettings    `yaml:"redis"`
	Sweep    SweepSettings    `yaml:"sweep"`
	Import   ImportSettings   `yaml:"import"`
	Language string           `yaml:"language" validate:"required,oneof=en fr"`
}

type ServerSettings struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`
}

// DatabaseSettings configures the PostgreSQL store. An empty URL selects the
// in-memory store.
type DatabaseSettings struct {
	URL string `yaml:"url" validate:"omitempty,url"`

	// KeyringUser, when set, names the keyring entry holding the database password.
	KeyringUser string `yaml:"keyring_user"`
	Password    string `yaml:"-"`
}

// RedisSettings configures cross-process contact locks. Empty URL means
// in-process locks only.
type RedisSettings struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	LockTTL time.Duration `yaml:"lock_ttl" validate:"gte=0"`
}

type SweepSettings struct {
	// Interval between background sweeps. Zero disables the worker.
	Interval     time.Duration `yaml:"interval" validate:"gte=0"`
	UpcomingDays int           `yaml:"upcoming_days" validate:"gte=0,lte=366"`
}

// ImportSettings configures the vCard contact source.
type ImportSettings struct {
	Mode      string `yaml:"mode" validate:"omitempty,oneof=local web"`
	LocalPath string `yaml:"local_path" validate:"required_if=Mode local"`
	WebURL    string `yaml:"web_url" validate:"required_if=Mode web,omitempty,url"`
	WebUser   string `yaml:"web_user"`
	WebPass   string `yaml:"-"`

	// DefaultFrequency is assigned to newly imported contacts.
	DefaultFrequency string `yaml:"default_frequency" validate:"omitempty,oneof=weekly monthly quarterly biannually annually"`
}

var settingsValidator = validator.New()

// DefaultSettings returns the settings used when no file is provided.
func DefaultSettings() Settings {
	return Settings{
		Server:   ServerSettings{Addr: DefaultListenAddr},
		Redis:    RedisSettings{LockTTL: DefaultLockTTL},
		Sweep:    SweepSettings{Interval: DefaultSweepInterval, UpcomingDays: DefaultUpcomingDays},
		Language: DefaultLanguage,
	}
}

// LoadSettings reads the YAML file at path (optional), applies environment
// overrides, resolves keyring secrets and validates the result.
func LoadSettings(path string) (Settings, error) {
	s := DefaultSettings()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("%s: %w", ErrSettingsRead, err)
		}
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", ErrSettingsParse, err)
		}
	}

	if err := s.applyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}

	if err := s.resolveSecrets(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := settingsValidator.Struct(s); err != nil {
		return fmt.Errorf("%s: %w", ErrSettingsInvalid, err)
	}
	return nil
}

// applyEnv overrides file values with KEEPINTOUCH_* variables.
func (s *Settings) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SERVER_ADDR":              &s.Server.Addr,
		"DATABASE_URL":             &s.Database.URL,
		"DATABASE_KEYRING_USER":    &s.Database.KeyringUser,
		"REDIS_URL":                &s.Redis.URL,
		"LANGUAGE":                 &s.Language,
		"IMPORT_MODE":              &s.Import.Mode,
		"IMPORT_LOCAL_PATH":        &s.Import.LocalPath,
		"IMPORT_WEB_URL":           &s.Import.WebURL,
		"IMPORT_WEB_USER":          &s.Import.WebUser,
		"IMPORT_DEFAULT_FREQUENCY": &s.Import.DefaultFrequency,
	}
	for key, dst := range str {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	if v, ok := lookup(EnvPrefix + "SWEEP_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", ErrSettingsInvalid, EnvPrefix+"SWEEP_INTERVAL", err)
		}
		s.Sweep.Interval = d
	}
	if v, ok := lookup(EnvPrefix + "UPCOMING_DAYS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", ErrSettingsInvalid, EnvPrefix+"UPCOMING_DAYS", err)
		}
		s.Sweep.UpcomingDays = n
	}
	return nil
}

// resolveSecrets fetches passwords from the OS keyring. A missing entry is not
// fatal: the credential simply stays empty.
func (s *Settings) resolveSecrets() error {
	var err error
	if s.Database.Password, err = lookupSecret(s.Database.KeyringUser); err != nil {
		return err
	}
	if s.Import.WebPass, err = lookupSecret(s.Import.WebUser); err != nil {
		return err
	}
	return nil
}

func lookupSecret(user string) (string, error) {
	if user == "" {
		return "", nil
	}
	p, err := keyring.Get(KeyringService, user)
	if errors.Is(err, keyring.ErrNotFound) {
		slog.Debug(MsgPassFail, LogKeyComponent, CompMain, LogKeyUser, user)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", ErrSecretLookup, err)
	}
	return p, nil
}

// StoreSecret saves a password in the OS keyring under the application service.
func StoreSecret(user, password string) error {
	return keyring.Set(KeyringService, user, password)
}
