package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrCreateKey resolves the 32-byte master key, in order, from the
// environment variable envVar, from keyPath, or by generating a new key and
// saving it to keyPath with owner-only permissions. generated reports whether
// a new key was written.
func LoadOrCreateKey(keyPath, envVar string) (key []byte, generated bool, err error) {
	// 1. Environment
	if envVar != "" {
		if envKey := os.Getenv(envVar); envKey != "" {
			key, err := parseHexKey(envKey)
			if err != nil {
				return nil, false, fmt.Errorf("%s: %w", envVar, err)
			}
			return key, false, nil
		}
	}

	if keyPath == "" {
		return nil, false, fmt.Errorf("no master key: %s is unset and no key file configured", envVar)
	}

	// 2. Key file
	data, err := os.ReadFile(keyPath)
	if err == nil {
		key, err := parseHexKey(string(data))
		if err != nil {
			return nil, false, fmt.Errorf("key file %s: %w", keyPath, err)
		}
		return key, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("failed to read key file: %w", err)
	}

	// 3. Generate
	key = make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, false, fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(keyPath, []byte(hex.EncodeToString(key)), 0600); err != nil {
		return nil, false, fmt.Errorf("failed to save master key to %s: %w", keyPath, err)
	}
	return key, true, nil
}

func parseHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("master key is not valid hex: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}
