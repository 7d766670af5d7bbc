package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	v = viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Config search paths, in order of precedence:
	// 1. Walk up from CWD to find a project .depot/ directory, so commands
	//    work from subdirectories.
	cwd, err := os.Getwd()
	if err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			depotDir := filepath.Join(dir, ".depot")
			if info, err := os.Stat(depotDir); err == nil && info.IsDir() {
				v.AddConfigPath(depotDir)
				break
			}
		}
		v.AddConfigPath(filepath.Join(cwd, ".depot"))
	}

	// 2. User config directory (~/.config/depot/)
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "depot"))
	}

	// 3. Home directory (~/.depot/)
	if homeDir, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(homeDir, ".depot"))
	}

	// Environment variables take precedence over the config file.
	// E.g. DEPOT_DB, DEPOT_JSON, DEPOT_SYNC_ENDPOINT.
	v.SetEnvPrefix("DEPOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("json", false)
	v.SetDefault("db", "")
	v.SetDefault("import-file", "")
	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.interval", "15s")
	v.SetDefault("sync.batch-size", 25)
	v.SetDefault("sync.initial-delay", "5s")
	v.SetDefault("sync.max-delay", "10m")
	v.SetDefault("sync.ttl", "72h")
	v.SetDefault("sync.compress", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found - fine, defaults apply.
	}

	return nil
}

// GetString retrieves a string configuration value
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value (primarily for tests)
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}
