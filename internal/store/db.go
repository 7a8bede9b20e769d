package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// EnsureSchema creates the presence tables when they do not exist. Dev
// convenience; production deployments apply schema.sql out of band.
func (d *DB) EnsureSchema(ctx context.Context) error {
	_, err := d.Client.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS lectures (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	current_token    TEXT,
	token_expires_at BIGINT,
	status           TEXT NOT NULL DEFAULT 'inactive',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS sessions (
	id           TEXT PRIMARY KEY,
	lecture_id   TEXT NOT NULL,
	token        TEXT NOT NULL,
	expires_at   BIGINT NOT NULL,
	generated_at BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS sessions_lecture_idx ON sessions (lecture_id, generated_at DESC);

CREATE TABLE IF NOT EXISTS attendance (
	id           UUID PRIMARY KEY,
	lecture_id   TEXT NOT NULL,
	lecture_name TEXT NOT NULL,
	student_id   TEXT NOT NULL,
	token        TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	method       TEXT NOT NULL DEFAULT 'qr'
);
CREATE UNIQUE INDEX IF NOT EXISTS attendance_replay_idx ON attendance (lecture_id, student_id, token);
CREATE INDEX IF NOT EXISTS attendance_day_idx ON attendance (lecture_id, student_id, ts);

CREATE TABLE IF NOT EXISTS students (
	student_id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS refresh_tokens (
	token      TEXT PRIMARY KEY,
	subject    TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked    BOOLEAN NOT NULL DEFAULT FALSE
);
`

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
