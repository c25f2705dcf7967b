package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/auth"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/config"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/retry"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/vts"
)

// tokenApprovalTimeout bounds how long the user has to approve the plugin in
// the engine's UI.
const tokenApprovalTimeout = 2 * time.Minute

func pluginInfo(cfg config.VTSConfig) vts.PluginInfo {
	return vts.PluginInfo{
		Name:      cfg.PluginName,
		Developer: cfg.PluginDeveloper,
		RequestID: cfg.RequestID,
	}
}

// connect dials the engine, retrying with backoff while it is not up yet.
// timeout bounds every round trip on the returned client; 0 leaves them
// bounded by the caller's context only.
func connect(ctx context.Context, cfg config.VTSConfig, timeout time.Duration) (*vts.Client, error) {
	var client *vts.Client
	err := retry.RunWithReconnect(ctx, "vts", func(ctx context.Context) error {
		t, err := vts.Dial(ctx, cfg.Address, timeout)
		if err != nil {
			return err
		}
		client = vts.NewClient(t, pluginInfo(cfg))
		return nil
	}, retry.DefaultConfig())
	if err != nil {
		return nil, err
	}
	slog.Info("connected to engine", "address", cfg.Address)
	return client, nil
}

// requestToken asks the engine for a new token on a dedicated connection and
// stores it in the auth file.
func requestToken(ctx context.Context, cfg config.VTSConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tokenApprovalTimeout)
	defer cancel()

	client, err := connect(ctx, cfg, 0)
	if err != nil {
		return "", err
	}
	defer client.Close()

	slog.Info("requesting authentication token, approve the plugin in VTube Studio",
		"plugin", client.Info().Name,
		"timeout", tokenApprovalTimeout,
	)
	token, err := client.RequestToken(ctx)
	if err != nil {
		return "", err
	}
	if err := auth.Save(cfg.AuthFile, token); err != nil {
		return "", fmt.Errorf("failed to store token: %w", err)
	}
	slog.Info("authentication token stored", "auth_file", cfg.AuthFile)
	return token, nil
}

// loadToken returns the stored token, requesting a new one when none is
// stored.
func loadToken(ctx context.Context, cfg config.VTSConfig) (string, error) {
	token, err := auth.Load(cfg.AuthFile)
	if errors.Is(err, auth.ErrNoToken) {
		slog.Info("no stored token", "auth_file", cfg.AuthFile)
		return requestToken(ctx, cfg)
	}
	return token, err
}

// registerParams creates every custom parameter m declares. The client must
// already be authenticated.
func registerParams(ctx context.Context, client *vts.Client, m mapper.Mapper) (int, error) {
	n := 0
	for _, def := range m.Parameters() {
		if !def.Custom {
			continue
		}
		if err := client.CreateParameter(ctx, def); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// resolvePolicy looks up the configured policy with the mode override
// applied.
func resolvePolicy(cfg config.MapperConfig) (mapper.Policy, error) {
	p, err := mapper.Lookup(cfg.Policy)
	if err != nil {
		return mapper.Policy{}, err
	}
	return p.Apply(cfg.Mode), nil
}
