package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"github.com/redmonkez12/loyalty-card/internal/account"
	"github.com/redmonkez12/loyalty-card/internal/config"
	"github.com/redmonkez12/loyalty-card/internal/database"
	"github.com/redmonkez12/loyalty-card/internal/identity"
	"github.com/redmonkez12/loyalty-card/internal/logging"
	"github.com/redmonkez12/loyalty-card/internal/membership"
)

const commandTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:          "loyaltyctl",
		Short:        "Operate the loyalty card backing stores",
		SilenceUsage: true,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the identity and record tables",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}

	staffCmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage staff accounts",
	}

	staffCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a verified staff identity with an admin record",
		Args:  cobra.NoArgs,
		RunE:  runStaffCreate,
	}
	staffCreateCmd.Flags().String("email", "", "Staff email address")
	staffCreateCmd.Flags().String("password", "", "Initial password")
	_ = staffCreateCmd.MarkFlagRequired("email")
	_ = staffCreateCmd.MarkFlagRequired("password")
	staffCmd.AddCommand(staffCreateCmd)

	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Inspect loyalty records",
	}

	recordShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print one loyalty record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecordShow,
	}
	recordCmd.AddCommand(recordShowCmd)

	rootCmd.AddCommand(migrateCmd, staffCmd, recordCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openDB(ctx context.Context) (*config.Config, *bun.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, db, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	_, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Tables are up to date.")
	return nil
}

func runStaffCreate(cmd *cobra.Command, _ []string) error {
	email, _ := cmd.Flags().GetString("email")
	password, _ := cmd.Flags().GetString("password")

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	cfg, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	logger := logging.NewLogger(cfg.Server.IsDevelopment())

	tokens, err := identity.NewTokenService(cfg.Auth.TokenFormat, cfg.Auth.PasetoKey, cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("initialize token service: %w", err)
	}

	return provisionStaff(ctx, cmd, db, tokens, cfg, logger, email, password)
}

func provisionStaff(
	ctx context.Context,
	cmd *cobra.Command,
	db *bun.DB,
	tokens identity.TokenService,
	cfg *config.Config,
	logger *logging.Logger,
	email, password string,
) error {
	// Provisioning never signs in, so no mailer or session is involved
	identities := identity.NewService(
		identity.NewRepository(db),
		tokens,
		identity.NewFileSessionStore(cfg.Auth.SessionFile),
		nil,
		nil,
		logger,
		identity.Options{TokenDuration: cfg.Auth.TokenDuration, RecentAuthWindow: cfg.Auth.RecentAuthWindow},
	)

	svc := membership.NewService(identities, account.NewRepository(db), logger)
	rec, err := svc.ProvisionStaff(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			return fmt.Errorf("an identity with email %s already exists", email)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Staff account created: %s (%s)\n", rec.Email, rec.ID)
	return nil
}

func runRecordShow(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	_, db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	rec, err := account.NewRepository(db).GetRecord(ctx, args[0])
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return fmt.Errorf("no record with id %s", args[0])
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
