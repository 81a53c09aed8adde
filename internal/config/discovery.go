package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Discover finds the config file by checking standard locations.
// Priority order: --config flag, $POLLBRIDGE_CONFIG,
// ~/.config/pollbridge/config.yaml, ./pollbridge.yaml.
func Discover(flagPath string) (string, error) {
	// 1. Explicit flag must exist
	if flagPath != "" {
		if _, err := os.Stat(flagPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", flagPath)
		}
		return flagPath, nil
	}

	// 2. Environment variable
	if path := os.Getenv(EnvConfigPath); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$%s points at missing file: %s", EnvConfigPath, path)
		}
		return path, nil
	}

	// 3. User config directory
	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "pollbridge", "config.yaml")
		if fileExists(userConfig) {
			return userConfig, nil
		}
	}

	// 4. Working directory
	if fileExists("pollbridge.yaml") {
		return "pollbridge.yaml", nil
	}

	return "", fmt.Errorf("%w (checked: --config, $%s, ~/.config/pollbridge/config.yaml, ./pollbridge.yaml)",
		ErrNoConfig, EnvConfigPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
