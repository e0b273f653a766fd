package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/zeebo/blake3"
)

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Fingerprint returns a short hash of the loaded config file, reported by
// health checks so operators can tell which config a running process uses.
func (c *Config) Fingerprint() string {
	if c.SourcePath == "" {
		return ""
	}
	sum, err := ComputeBlake3Hash(c.SourcePath)
	if err != nil {
		return ""
	}
	return sum[:16]
}
