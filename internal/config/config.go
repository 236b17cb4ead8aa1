package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	secretService  = "pagedoctor"
	apiTokenKey    = "api_token"
	defaultTimeout = 30 * time.Second
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	PSI       PSIConfig
	CrUX      CrUXConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type PSIConfig struct {
	APIKey  string
	BaseURL string
	Timeout string
	Locale  string
}

// TimeoutDuration parses Timeout, falling back to 30s when it is empty or
// invalid.
func (c PSIConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return defaultTimeout
	}
	return d
}

type CrUXConfig struct {
	BaseURL string
	APIKey  string
}

type SchedulerConfig struct {
	RunOnStart bool
}

type NotifyConfig struct {
	Desktop bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		PSI: PSIConfig{
			BaseURL: "https://www.googleapis.com/pagespeedonline/v5",
			Timeout: "30s",
		},
		CrUX: CrUXConfig{
			BaseURL: "https://chromeuxreport.googleapis.com/v1",
		},
		Scheduler: SchedulerConfig{
			RunOnStart: true,
		},
		Notify: NotifyConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from, in increasing precedence: defaults, the
// platform-native backend, and PAGEDOCTOR_* environment variables. A .env
// file in the working directory is loaded into the environment first
// without overriding variables that are already set.
//
// On macOS the backend is UserDefaults (domain: com.pagedoctor.app) and
// secrets live in the login Keychain.
// Elsewhere the backend is a JSON file at $XDG_CONFIG_HOME/pagedoctor/config.json
// and secrets live in $XDG_DATA_HOME/pagedoctor/secrets.json.
//
// The PageSpeed API key is optional. The CrUX key falls back to it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return loadWith(newPlatformBackend(), NewKeychain())
}

// Keychain stores secrets outside the plain config backend.
type Keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc Keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range keyDefs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := kc.Get(secretService, s.account); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.CrUX.APIKey == "" {
		cfg.CrUX.APIKey = cfg.PSI.APIKey
	}

	return cfg, nil
}

// NewKeychain returns the platform secret store.
func NewKeychain() Keychain {
	return platformKeychain{}
}

type platformKeychain struct{}

func (platformKeychain) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (platformKeychain) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// GetAPIToken returns the bearer token guarding the local API, generating
// and storing one on first use.
func GetAPIToken(kc Keychain) (string, error) {
	if tok, err := kc.Get(secretService, apiTokenKey); err == nil && tok != "" {
		return tok, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	tok := hex.EncodeToString(buf)
	if err := kc.Set(secretService, apiTokenKey, tok); err != nil {
		return "", fmt.Errorf("storing token: %w", err)
	}
	return tok, nil
}
