package audit

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds the Postgres connection settings for a sink.
type Config struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	SSLMode  string
	MaxConns int
	MinConns int
}

func (c *Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.Database == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	if c.Username == "" {
		return fmt.Errorf("username cannot be empty")
	}
	return nil
}

// PostgresSink is a Sink backed by Postgres via sqlx, with schema managed
// through golang-migrate against the embedded migrations/ directory.
type PostgresSink struct {
	db *sqlx.DB
}

// NewPostgresSink opens a connection pool, runs pending migrations, and
// returns a ready-to-use Sink.
func NewPostgresSink(ctx context.Context, cfg *Config) (*PostgresSink, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("audit: invalid config: %w", err)
	}

	db, err := sqlx.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("audit: open connection: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if cfg.MinConns > 0 {
		db.SetMaxIdleConns(cfg.MinConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	if err := runMigrations(db.DB, cfg.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: run migrations: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

func runMigrations(db *sql.DB, databaseName string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, databaseName, driver)
	if err != nil {
		return fmt.Errorf("init migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// RecordEvent inserts one audit row.
func (s *PostgresSink) RecordEvent(ctx context.Context, event Event) error {
	const query = `
		INSERT INTO channel_audit_log
			(channel_id, role, kind, remote_static, handshake_hash, detail, occurred_at)
		VALUES
			(:channel_id, :role, :kind, :remote_static, :handshake_hash, :detail, :occurred_at)`
	_, err := s.db.NamedExecContext(ctx, query, map[string]interface{}{
		"channel_id":     event.ChannelID,
		"role":           event.Role,
		"kind":           event.Kind,
		"remote_static":  event.RemoteStatic,
		"handshake_hash": event.HandshakeHash,
		"detail":         event.Detail,
		"occurred_at":    event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
