package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"classhub/internal/app"
	"classhub/internal/clock"
	"classhub/internal/config"
	"classhub/internal/identity"
	"classhub/internal/logging"
	"classhub/pkg/database"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, flush, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer flush()
	slog.SetDefault(logger)

	logger.Info("starting classhub", "version", version, "commit", commit, "config", configPath)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := application.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case serveErr = <-application.Errors():
		logger.Error("server stopped unexpectedly", "error", serveErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return err
	}
	return serveErr
}

// openDirectory loads the config, opens the roster database and brings its
// schema up to date.
func openDirectory(ctx context.Context, configPath string) (*config.Config, *sqlx.DB, []string, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	db, err := database.Open(ctx, &cfg.Directory)
	if err != nil {
		return nil, nil, nil, err
	}
	applied, err := database.NewMigrationManager(db).ApplyMigrations(ctx)
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return cfg, db, applied, nil
}

func runMigrate(ctx context.Context, configPath string, out io.Writer) error {
	cfg, db, applied, err := openDirectory(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.NewSchemaValidator(db).Validate(ctx); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintf(out, "%s directory is up to date\n", cfg.Directory.Driver)
		return nil
	}
	for _, version := range applied {
		fmt.Fprintf(out, "applied %s\n", version)
	}
	return nil
}

func runSeed(ctx context.Context, configPath, file string, out io.Writer) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("failed to read roster %s: %w", file, err)
	}
	var roster identity.Roster
	if err := yaml.Unmarshal(data, &roster); err != nil {
		return fmt.Errorf("failed to parse roster %s: %w", file, err)
	}

	_, db, _, err := openDirectory(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := identity.NewDirectory(db).Seed(ctx, roster); err != nil {
		return err
	}
	fmt.Fprintf(out, "seeded %d users, %d classes, %d enrollments\n",
		len(roster.Users), len(roster.Classes), len(roster.Enrollments))
	return nil
}

func runToken(ctx context.Context, configPath, userID string, out io.Writer) error {
	cfg, db, _, err := openDirectory(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	user, err := identity.NewDirectory(db).GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	token, err := identity.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenExpiry, cfg.Auth.Issuer, clock.Real{}).Issue(user.ID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runRevoke(ctx context.Context, configPath, userID string, out io.Writer) error {
	_, db, _, err := openDirectory(ctx, configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	dir := identity.NewDirectory(db)
	if _, err := dir.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("user %s: %w", userID, err)
	}
	at := time.Now().UTC()
	if err := dir.Revoke(ctx, userID, at); err != nil {
		return err
	}
	fmt.Fprintf(out, "revoked sessions of %s issued up to %s\n", userID, at.Format(time.RFC3339))
	return nil
}
