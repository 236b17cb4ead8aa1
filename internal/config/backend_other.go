//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "pagedoctor")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, fallback, "pagedoctor")
	}
	return "pagedoctor-data"
}

func defaultDataDir() string {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "config.json"))
}
