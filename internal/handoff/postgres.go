package handoff

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"fecingest/internal/config"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresConfig configures the Postgres trigger table.
type PostgresConfig struct {
	URL         string
	Table       string
	PingTimeout time.Duration
}

// PostgresConfigFrom reads the [handoff] section.
func PostgresConfigFrom(h config.Handoff) PostgresConfig {
	return PostgresConfig{
		URL:         h.DatabaseURL,
		Table:       h.OutboxTable,
		PingTimeout: time.Duration(h.PingTimeoutSeconds) * time.Second,
	}
}

func (c PostgresConfig) Validate() error {
	if c.URL == "" {
		return errors.New("database url is required")
	}
	if !tableNamePattern.MatchString(c.Table) {
		return fmt.Errorf("invalid outbox table name %q", c.Table)
	}
	if c.PingTimeout <= 0 {
		return errors.New("ping timeout must be positive")
	}
	return nil
}

// PostgresRecorder stores hand-offs in a Postgres table through pgx.
type PostgresRecorder struct {
	db    *sql.DB
	table string
}

// OpenPostgres connects, pings, and ensures the trigger table exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresRecorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	recorder := &PostgresRecorder{db: db, table: cfg.Table}
	if err := recorder.ensureTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return recorder, nil
}

// NewPostgresRecorder wraps an already opened database.
func NewPostgresRecorder(db *sql.DB, table string) (*PostgresRecorder, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid outbox table name %q", table)
	}
	return &PostgresRecorder{db: db, table: table}, nil
}

func (p *PostgresRecorder) ensureTable(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		idempotency_key TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		conf JSONB NOT NULL,
		envelope_hash TEXT NOT NULL,
		upstream_run_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		consumed_at TIMESTAMPTZ
	)`, p.table)
	if _, err := p.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create %s: %w", p.table, err)
	}
	return nil
}

func (p *PostgresRecorder) InsertHandoff(ctx context.Context, record Record) (bool, error) {
	conf, err := json.Marshal(record.Conf)
	if err != nil {
		return false, fmt.Errorf("encode conf: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (idempotency_key, target, conf, envelope_hash, upstream_run_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING`, p.table)
	res, err := p.db.ExecContext(ctx, query,
		record.IdempotencyKey, record.Target, string(conf), record.EnvelopeHash, record.UpstreamRunID, record.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert handoff: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert handoff rows: %w", err)
	}
	return affected > 0, nil
}

func (p *PostgresRecorder) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// NewPostgresOutbox writes hand-offs to the Postgres trigger table.
func NewPostgresOutbox(recorder *PostgresRecorder, logger *slog.Logger) *Outbox {
	return newOutbox(recorder, "postgres", logger)
}
