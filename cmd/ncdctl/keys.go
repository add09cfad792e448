package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/compression-classifier/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/compression-classifier/pkg/postgres"
)

var (
	configPath   string
	keyName      string
	keyScopes    string
	keyRateLimit int
	keyExpiresIn time.Duration
	revokeID     string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage gateway API keys",
	Long: `Create, revoke and list the scoped API keys the gateway accepts.

Scopes: classify, ingest, admin (admin implies the others).

Examples:
  ncdctl keys create --name my-app --scopes classify --rate-limit 120
  ncdctl keys revoke --key ncd_abc123...
  ncdctl keys list`,
}

var keysCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keyName == "" {
			return fmt.Errorf("--name is required")
		}
		scopes, err := apikey.ParseScopes(keyScopes)
		if err != nil {
			return err
		}
		return withKeyStore(cmd.Context(), func(cfg *config.Config, store *apikey.Store) error {
			rate := keyRateLimit
			if rate <= 0 {
				rate = cfg.Gateway.DefaultKeyRate
			}
			var expiresAt *time.Time
			if keyExpiresIn > 0 {
				t := time.Now().Add(keyExpiresIn)
				expiresAt = &t
			}

			raw, info, err := store.CreateKey(cmd.Context(), apikey.KeySpec{
				Name:      keyName,
				Scopes:    scopes,
				RateLimit: rate,
				ExpiresAt: expiresAt,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"api_key": raw, "key": info})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "API key created. Store it securely, it cannot be retrieved again.")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Key:        %s\n", raw)
			fmt.Fprintf(out, "  ID:         %s\n", info.ID)
			fmt.Fprintf(out, "  Name:       %s\n", info.Name)
			fmt.Fprintf(out, "  Scopes:     %s\n", strings.Join(info.Scopes, ","))
			fmt.Fprintf(out, "  Rate Limit: %d req/min\n", info.RateLimit)
			fmt.Fprintf(out, "  Expires:    %s\n", formatExpiry(info.ExpiresAt))
			return nil
		})
	},
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke an API key by raw value or ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("key")
		if (raw == "") == (revokeID == "") {
			return fmt.Errorf("exactly one of --key or --id is required")
		}
		return withKeyStore(cmd.Context(), func(_ *config.Config, store *apikey.Store) error {
			var err error
			if raw != "" {
				err = store.RevokeKey(cmd.Context(), raw)
			} else {
				err = store.RevokeByID(cmd.Context(), revokeID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key revoked.")
			return nil
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active API keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKeyStore(cmd.Context(), func(_ *config.Config, store *apikey.Store) error {
			keys, err := store.ListKeys(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), keys)
			}

			out := cmd.OutOrStdout()
			if len(keys) == 0 {
				fmt.Fprintln(out, "No active API keys.")
				return nil
			}
			fmt.Fprintf(out, "%-36s  %-20s  %-22s  %-10s  %s\n", "ID", "Name", "Scopes", "Rate Limit", "Expires")
			for _, k := range keys {
				fmt.Fprintf(out, "%-36s  %-20s  %-22s  %-10d  %s\n", k.ID, k.Name, strings.Join(k.Scopes, ","), k.RateLimit, formatExpiry(k.ExpiresAt))
			}
			fmt.Fprintf(out, "\nTotal: %d active key(s)\n", len(keys))
			return nil
		})
	},
}

func init() {
	keysCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file with postgres settings")

	keysCreateCmd.Flags().StringVar(&keyName, "name", "", "name for the api key")
	keysCreateCmd.Flags().StringVar(&keyScopes, "scopes", apikey.ScopeClassify, "comma-separated scopes")
	keysCreateCmd.Flags().IntVar(&keyRateLimit, "rate-limit", 0, "requests per minute (0 uses gateway.defaultKeyRate)")
	keysCreateCmd.Flags().DurationVar(&keyExpiresIn, "expires-in", 0, "expiry duration, e.g. 720h (0 never expires)")

	keysRevokeCmd.Flags().String("key", "", "raw api key to revoke")
	keysRevokeCmd.Flags().StringVar(&revokeID, "id", "", "id of the api key to revoke")

	keysCmd.AddCommand(keysCreateCmd, keysRevokeCmd, keysListCmd)
	rootCmd.AddCommand(keysCmd)
}

func withKeyStore(ctx context.Context, fn func(*config.Config, *apikey.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	return fn(cfg, apikey.NewStore(db))
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
