package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/mapper"
	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/pipeline"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Request a new plugin token and store it in the auth file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := requestToken(cmd.Context(), cfg.VTS); err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "token stored in %s\n", cfg.VTS.AuthFile)
		return nil
	},
}

var registerPolicy string

var registerCmd = &cobra.Command{
	Use:   "register-params",
	Short: "Register the policy's custom parameters with the engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if registerPolicy != "" {
			cfg.Mapper.Policy = registerPolicy
		}
		policy, err := resolvePolicy(cfg.Mapper)
		if err != nil {
			return err
		}
		m, err := mapper.New(policy)
		if err != nil {
			return err
		}

		token, err := loadToken(ctx, cfg.VTS)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		client, err := connect(ctx, cfg.VTS, cfg.VTS.Timeout)
		if err != nil {
			return fmt.Errorf("failed to connect to engine: %w", err)
		}
		defer client.Close()

		if err := client.Authenticate(ctx, token); err != nil {
			slog.Warn("stored token rejected, remove it and run the token command", "auth_file", cfg.VTS.AuthFile)
			return fmt.Errorf("%w: %w", pipeline.ErrAuthFailed, err)
		}
		n, err := registerParams(ctx, client, m)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %d custom parameters for policy %s\n", n, m.Name())
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerPolicy, "policy", "", "Mapper policy whose parameters to register (overrides mapper.policy)")
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(registerCmd)
}
