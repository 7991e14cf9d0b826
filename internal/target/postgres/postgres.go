// Package postgres drives CRUD cycles against PostgreSQL through lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"crudstress/internal/target"
)

// Config holds connection parameters.
type Config struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
	Table    string
	// MaxConns caps the shared pool; sessions each pin one connection.
	MaxConns int
}

// DSN renders the lib/pq connection string.
func (c Config) DSN() string {
	ssl := c.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, ssl)
}

type queries struct {
	schema string
	fts    string
	insert string
	read   string
	update string
	delete string
	reset  string
	count  string
	search string
}

// tsv is shared by the GIN index and the search predicate; they must match.
const tsv = `to_tsvector('simple', payload ->> 'text')`

func buildQueries(table string) queries {
	t := pq.QuoteIdentifier(table)
	return queries{
		schema: `CREATE TABLE IF NOT EXISTS ` + t + ` (
			id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fts:    `CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(table+"_fts") + ` ON ` + t + ` USING GIN (` + tsv + `)`,
		insert: `INSERT INTO ` + t + ` (id, payload) VALUES ($1, $2)`,
		read:   `SELECT payload FROM ` + t + ` WHERE id = $1`,
		update: `UPDATE ` + t + ` SET payload = payload || $1::jsonb WHERE id = $2`,
		delete: `DELETE FROM ` + t + ` WHERE id = $1`,
		reset:  `TRUNCATE TABLE ` + t,
		count:  `SELECT COUNT(*) FROM ` + t,
		search: `SELECT COUNT(*) FROM ` + t + ` WHERE ` + tsv + ` @@ plainto_tsquery('simple', $1)`,
	}
}

// Target is a PostgreSQL table under test.
type Target struct {
	db  *sql.DB
	q   queries
	log *zap.Logger
}

var _ target.Target = (*Target)(nil)

// New opens the pool, verifies connectivity and ensures the table exists.
func New(ctx context.Context, cfg Config, log *zap.Logger) (*Target, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	t := NewFromDB(db, cfg.Table, log)
	if err := t.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("connected",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.String("table", cfg.Table))
	return t, nil
}

// NewFromDB wraps an already opened handle.
func NewFromDB(db *sql.DB, table string, log *zap.Logger) *Target {
	if table == "" {
		table = "crud_records"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Target{db: db, q: buildQueries(table), log: log}
}

func (t *Target) Name() string { return "postgres" }

// EnsureSchema creates the working table and its full-text index if they
// are missing.
func (t *Target) EnsureSchema(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, t.q.schema); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := t.db.ExecContext(ctx, t.q.fts); err != nil {
		return fmt.Errorf("create fts index: %w", err)
	}
	return nil
}

// Open pins a dedicated connection for the worker.
func (t *Target) Open(ctx context.Context, worker int) (target.Session, error) {
	conn, err := t.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection for worker %d: %w", worker, err)
	}
	return &session{conn: conn, q: &t.q}, nil
}

func (t *Target) Reset(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, t.q.reset); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

func (t *Target) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := t.db.QueryRowContext(ctx, t.q.count).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}

func (t *Target) Close() error {
	return t.db.Close()
}

type session struct {
	conn *sql.Conn
	q    *queries
}

func (s *session) Create(ctx context.Context, rec target.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	// lib/pq encodes []byte as bytea, which jsonb rejects.
	if _, err := s.conn.ExecContext(ctx, s.q.insert, rec.Key, string(b)); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func (s *session) Read(ctx context.Context, key string) error {
	var payload []byte
	err := s.conn.QueryRowContext(ctx, s.q.read, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return target.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	return nil
}

func (s *session) Update(ctx context.Context, key string, at time.Time) error {
	patch, err := json.Marshal(map[string]any{"updated": true, "updated_at": at})
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	res, err := s.conn.ExecContext(ctx, s.q.update, string(patch), key)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	return affected(res)
}

func (s *session) Delete(ctx context.Context, key string) error {
	res, err := s.conn.ExecContext(ctx, s.q.delete, key)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	return affected(res)
}

func (s *session) Search(ctx context.Context, keyword string) (int64, error) {
	var n int64
	if err := s.conn.QueryRowContext(ctx, s.q.search, keyword).Scan(&n); err != nil {
		return 0, fmt.Errorf("search: %w", err)
	}
	return n, nil
}

func (s *session) Close(_ context.Context) error {
	return s.conn.Close()
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return target.ErrNotFound
	}
	return nil
}
