package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/certifychain/server/internal/log"
)

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		user := u.User.Username()
		u.User = url.UserPassword(user, "****")
	}
	return u.String()
}

// extractDBName returns the database name from URL path ("/certs" -> "certs").
func extractDBName(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database") && strings.Contains(msg, "does not exist")
}

// Open establishes a connection to PostgreSQL and configures the connection pool.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	logger := log.Logger("db")

	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	dbName := extractDBName(u)
	host := u.Hostname()
	port := u.Port()
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}

	logger.WithField("dsn", redactDSN(databaseURL)).Infof("DB connect target: host=%s port=%s db=%q", host, port, dbName)

	// Optional safety check: verify DB exists on this instance by connecting to maintenance DB "postgres"
	if dbName != "" {
		maintenanceURL := *u
		maintenanceURL.Path = "/postgres"
		maintenanceURL.RawPath = ""

		maintDB, err := sql.Open("postgres", maintenanceURL.String())
		if err == nil {
			defer maintDB.Close()

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			var found string
			rowErr := maintDB.QueryRowContext(checkCtx,
				"SELECT datname FROM pg_database WHERE datname = $1",
				dbName,
			).Scan(&found)

			switch {
			case rowErr == nil:
				logger.Debugf("DB precheck: database %q exists", found)
			case errors.Is(rowErr, sql.ErrNoRows):
				logger.Warnf("DB precheck: database %q NOT found on this Postgres instance", dbName)
			default:
				logger.WithError(rowErr).Debug("DB precheck: could not query pg_database")
			}
		} else {
			logger.WithError(err).Debug("DB precheck: could not open maintenance connection")
		}
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()

		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf("database %q not found on host=%s port=%s: %w", dbName, host, port, err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
