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
	kBool
)

// keyDef binds one dotted config key to its env var and Config field.
// Secret keys are never read from or written to the plain backend; account
// names their entry in the keychain.
type keyDef struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	account string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var keyDefs = []keyDef{
	{
		key: "server.port", typ: kInt, env: "PAGEDOCTOR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PAGEDOCTOR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PAGEDOCTOR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "psi.api_key", typ: kString, env: "PAGEDOCTOR_PSI_API_KEY",
		secret: true, account: "psi_api_key",
		apply:   func(cfg *Config, v any) { cfg.PSI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.PSI.APIKey },
	},
	{
		key: "psi.base_url", typ: kString, env: "PAGEDOCTOR_PSI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.PSI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.PSI.BaseURL },
	},
	{
		key: "psi.timeout", typ: kString, env: "PAGEDOCTOR_PSI_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.PSI.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.PSI.Timeout },
	},
	{
		key: "psi.locale", typ: kString, env: "PAGEDOCTOR_PSI_LOCALE",
		apply:   func(cfg *Config, v any) { cfg.PSI.Locale = v.(string) },
		extract: func(cfg Config) any { return cfg.PSI.Locale },
	},
	{
		key: "crux.base_url", typ: kString, env: "PAGEDOCTOR_CRUX_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.CrUX.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.CrUX.BaseURL },
	},
	{
		key: "crux.api_key", typ: kString, env: "PAGEDOCTOR_CRUX_API_KEY",
		secret: true, account: "crux_api_key",
		apply:   func(cfg *Config, v any) { cfg.CrUX.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.CrUX.APIKey },
	},
	{
		key: "scheduler.run_on_start", typ: kBool, env: "PAGEDOCTOR_SCHEDULER_RUN_ON_START",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.RunOnStart = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scheduler.RunOnStart },
	},
	{
		key: "notify.desktop", typ: kBool, env: "PAGEDOCTOR_NOTIFY_DESKTOP",
		apply:   func(cfg *Config, v any) { cfg.Notify.Desktop = v.(bool) },
		extract: func(cfg Config) any { return cfg.Notify.Desktop },
	},
}

func lookupKey(key string) (keyDef, bool) {
	for _, s := range keyDefs {
		if s.key == key {
			return s, true
		}
	}
	return keyDef{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range keyDefs {
		if s.secret {
			continue
		}
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
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			bv, err := strconv.ParseBool(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				continue
			}
			s.apply(cfg, bv)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range keyDefs {
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
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
