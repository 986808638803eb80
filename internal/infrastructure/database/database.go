package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// SchemaName is the Postgres schema owning every catalog table.
const SchemaName = "catalog_api"

const (
	defaultApplicationName = "catalog-api"
	defaultConnectTimeout  = 5 * time.Second
)

// Config controls the catalog's Postgres pool.
type Config struct {
	DSN             string
	ApplicationName string
	ConnectTimeout  time.Duration
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	// SlowQuery is the duration above which statements are logged as slow.
	// Zero disables slow query logging.
	SlowQuery time.Duration
	LogLevel  gormlogger.LogLevel
}

// Validate rejects configurations the pool cannot honour.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return errors.New("database DSN is empty")
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle connections (%d) exceed max open connections (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Open connects to the catalog database, creating the database first when
// the server does not have it yet, and pings the pool before returning.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.LogLevel == 0 {
		cfg.LogLevel = gormlogger.Warn
	}
	log = log.With().Str("component", "database").Logger()

	dsn, err := withSessionParams(cfg.DSN, cfg.ApplicationName, cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	if err := ensureDatabase(connectCtx, dsn, log); err != nil {
		return nil, fmt.Errorf("ensure database: %w", err)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		PrepareStmt:    true,
		NamingStrategy: schema.NamingStrategy{TablePrefix: SchemaName + "."},
		Logger:         newQueryLogger(log, cfg.LogLevel, cfg.SlowQuery),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieve sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(connectCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Int("max_idle_conns", cfg.MaxIdleConns).
		Msg("database connected")
	return db, nil
}

// Ping reports whether the pool can reach Postgres.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withSessionParams tags every connection with the application name and
// bounds connection setup, unless the DSN already sets either parameter.
// Both URL and key=value DSNs are accepted.
func withSessionParams(dsn, appName string, timeout time.Duration) (string, error) {
	if appName == "" {
		appName = defaultApplicationName
	}
	params := [][2]string{{"application_name", appName}}
	if secs := int(timeout / time.Second); secs > 0 {
		params = append(params, [2]string{"connect_timeout", strconv.Itoa(secs)})
	}

	if !strings.Contains(dsn, "://") {
		out := strings.TrimSpace(dsn)
		for _, p := range params {
			if !strings.Contains(out, p[0]+"=") {
				out += fmt.Sprintf(" %s='%s'", p[0], strings.ReplaceAll(p[1], "'", `\'`))
			}
		}
		return out, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse database DSN: %w", err)
	}
	q := u.Query()
	for _, p := range params {
		if q.Get(p[0]) == "" {
			q.Set(p[0], p[1])
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ensureDatabase creates the database named by a URL DSN through the
// maintenance "postgres" database. Key=value DSNs are left to the driver.
func ensureDatabase(ctx context.Context, dsn string, log zerolog.Logger) error {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return nil
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" || name == "postgres" {
		return nil
	}

	admin := *u
	admin.Path = "/postgres"
	sqlDB, err := sql.Open("postgres", admin.String())
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	var exists bool
	err = sqlDB.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	log.Info().Str("database", name).Msg("creating catalog database")
	_, err = sqlDB.ExecContext(ctx, "CREATE DATABASE "+quoteIdentifier(name))
	return err
}

func quoteIdentifier(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
