package config

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// Fingerprint hashes the effective configuration, after defaults and env
// expansion, so two processes can tell whether they run the same settings.
// Two files that differ only in comments or key order share a fingerprint.
func Fingerprint(cfg *Config) (string, error) {
	data, err := Render(cfg)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Render returns the effective configuration as YAML.
func Render(cfg *Config) ([]byte, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
