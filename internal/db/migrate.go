package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/certifychain/server/internal/log"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate runs goose Up using the embedded migrations.
func Migrate(database *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	log.Logger("db").Info("Running embedded migrations")
	if err := goose.Up(database, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Reset truncates every application table. Used by integration tests.
func Reset(database *sql.DB) error {
	_, err := database.Exec(`TRUNCATE TABLE verification_logs, credentials, institutions, sessions, identities RESTART IDENTITY CASCADE`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	if _, err := database.Exec(`ALTER SEQUENCE credential_token_seq RESTART WITH 1`); err != nil {
		return fmt.Errorf("reset token sequence: %w", err)
	}
	return nil
}
