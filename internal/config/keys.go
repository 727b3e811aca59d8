package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "CARPRICE_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "CARPRICE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CARPRICE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "data.catalog_path", typ: kString, env: "CARPRICE_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Data.CatalogPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.CatalogPath },
	},
	{
		key: "model.artifact_path", typ: kString, env: "CARPRICE_MODEL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Model.ArtifactPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.ArtifactPath },
	},
	{
		key: "model.timeout", typ: kString, env: "CARPRICE_MODEL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Model.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Timeout },
	},
	{
		key: "display.currency_symbol", typ: kString, env: "CARPRICE_CURRENCY_SYMBOL",
		apply:   func(cfg *Config, v any) { cfg.Display.CurrencySymbol = v.(string) },
		extract: func(cfg Config) any { return cfg.Display.CurrencySymbol },
	},
	{
		key: "display.sample_rows", typ: kInt, env: "CARPRICE_SAMPLE_ROWS",
		apply:   func(cfg *Config, v any) { cfg.Display.SampleRows = v.(int) },
		extract: func(cfg Config) any { return cfg.Display.SampleRows },
	},
	{
		key: "session.idle_timeout", typ: kString, env: "CARPRICE_SESSION_IDLE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.IdleTimeout },
	},
	{
		key: "session.max_sessions", typ: kInt, env: "CARPRICE_SESSION_MAX_SESSIONS",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxSessions = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxSessions },
	},
	{
		key: "log.level", typ: kString, env: "CARPRICE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
