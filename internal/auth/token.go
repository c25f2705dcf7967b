// Package auth persists the engine's plugin token between runs.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoToken means no usable token is stored.
var ErrNoToken = errors.New("auth: no token stored")

type tokenFile struct {
	AuthToken string `json:"auth_token"`
}

// Load reads the token from path. A missing file, or one with an empty
// token, returns ErrNoToken.
func Load(path string) (string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("auth: read %s: %w", path, err)
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("auth: parse %s: %w", path, err)
	}
	if f.AuthToken == "" {
		return "", ErrNoToken
	}
	return f.AuthToken, nil
}

// Save writes token to path with owner-only permissions, replacing any
// previous file atomically.
func Save(path, token string) error {
	if token == "" {
		return errors.New("auth: refusing to save empty token")
	}
	data, err := json.Marshal(tokenFile{AuthToken: token})
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".auth-*.json")
	if err != nil {
		return fmt.Errorf("auth: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: write: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("auth: chmod: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("auth: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("auth: rename: %w", err)
	}
	return nil
}
