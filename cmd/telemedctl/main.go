package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telemed-platform/internal/auth"
	"telemed-platform/internal/config"
	"telemed-platform/internal/rbac"
	"telemed-platform/migrations"
	"telemed-platform/pkg/logger"
	"telemed-platform/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "telemedctl",
		Short:         "Operator tooling for the telemedicine API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("api", "http://localhost:8080", "API base URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(probeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 2})
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := migrations.New(db).Up(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			role, _ := cmd.Flags().GetString("role")

			m, err := tokenManager()
			if err != nil {
				return err
			}
			pair, err := mintToken(m, userID, role)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"access_token":  pair.AccessToken,
				"refresh_token": pair.RefreshToken,
				"expires_at":    pair.ExpiresAt,
			})
		},
	}
	cmd.Flags().String("user", "", "user id (subject)")
	cmd.Flags().String("role", rbac.RolePatient, "patient, doctor or admin")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func tokenManager() (*auth.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return auth.NewManager(cfg.Auth)
}

func mintToken(m *auth.Manager, userID, role string) (auth.TokenPair, error) {
	if !rbac.IsKnownRole(role) {
		return auth.TokenPair{}, fmt.Errorf("unknown role %q", role)
	}
	return m.IssuePair(time.Now().UTC(), userID, role)
}

func cliLogger(cmd *cobra.Command) *slog.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if verbose {
		return logger.New("local")
	}
	return logger.New("production")
}
