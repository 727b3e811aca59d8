package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Data    DataConfig
	Model   ModelConfig
	Display DisplayConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type DataConfig struct {
	CatalogPath string
}

type ModelConfig struct {
	ArtifactPath string
	Timeout      string
}

type DisplayConfig struct {
	CurrencySymbol string
	SampleRows     int
}

type SessionConfig struct {
	IdleTimeout string
	MaxSessions int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8501,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Data: DataConfig{
			CatalogPath: "data/cleaned_car.csv",
		},
		Model: ModelConfig{
			ArtifactPath: "data/model.json",
			Timeout:      "2s",
		},
		Display: DisplayConfig{
			CurrencySymbol: "₹",
			SampleRows:     10,
		},
		Session: SessionConfig{
			IdleTimeout: "30m",
			MaxSessions: 10000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Addr returns the host:port the server listens on.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TimeoutDuration parses Timeout. Validated by Load.
func (c ModelConfig) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// IdleTimeoutDuration parses IdleTimeout. Validated by Load.
func (c SessionConfig) IdleTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.IdleTimeout)
	return d
}

// Load reads configuration from the config file, a .env file in the working
// directory, and environment variables, in increasing order of precedence.
//
// The config file is TOML at $CARPRICE_CONFIG, or
// $XDG_CONFIG_HOME/carprice/config.toml when unset. Environment variables
// (CARPRICE_*) override file values; a .env file only fills variables that
// are not already set.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadFromPath(path, envFile string) (Config, error) {
	return loadWith(newFileBackend(path), envFile)
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	loadDotEnv(envFile)
	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv exports variables from envFile without overriding the real
// environment. A missing file is not an error.
func loadDotEnv(envFile string) {
	if envFile == "" {
		return
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read env file %s: %v. Ignoring it.\n", envFile, err)
	}
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d out of range", c.Server.Port)
	}
	if c.Data.CatalogPath == "" {
		return fmt.Errorf("missing required config: data.catalog_path (env CARPRICE_CATALOG_PATH)")
	}
	if c.Model.ArtifactPath == "" {
		return fmt.Errorf("missing required config: model.artifact_path (env CARPRICE_MODEL_PATH)")
	}
	if _, err := time.ParseDuration(c.Model.Timeout); err != nil {
		return fmt.Errorf("invalid config: model.timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Session.IdleTimeout); err != nil {
		return fmt.Errorf("invalid config: session.idle_timeout: %w", err)
	}
	if c.Display.SampleRows < 0 {
		return fmt.Errorf("invalid config: display.sample_rows must not be negative")
	}
	return nil
}
