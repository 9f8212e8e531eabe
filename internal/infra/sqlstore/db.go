// Package sqlstore implements the task, credential and group stores on top of
// database/sql with the pure-Go SQLite driver.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"omnipost/internal/domain"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS account_groups (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    name        TEXT    NOT NULL UNIQUE,
    description TEXT    NOT NULL DEFAULT '',
    created_at  INTEGER NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    platform_type     INTEGER NOT NULL,
    credential_ref    TEXT    NOT NULL,
    label             TEXT    NOT NULL,
    status            TEXT    NOT NULL DEFAULT 'invalid',
    group_id          INTEGER NULL REFERENCES account_groups(id),
    created_at        INTEGER NOT NULL,
    last_validated_at INTEGER NULL,
    UNIQUE (platform_type, label)
);

CREATE INDEX IF NOT EXISTS idx_credentials_ref ON credentials (credential_ref);
CREATE INDEX IF NOT EXISTS idx_credentials_validated ON credentials (last_validated_at);

CREATE TABLE IF NOT EXISTS tasks (
    id              TEXT    PRIMARY KEY,
    title           TEXT    NOT NULL DEFAULT '',
    status          TEXT    NOT NULL DEFAULT 'waiting',
    progress        INTEGER NOT NULL DEFAULT 0,
    priority        INTEGER NOT NULL DEFAULT 1,
    platform_tags   TEXT,
    file_list       TEXT,
    account_list    TEXT,
    schedule_config TEXT,
    publish_payload TEXT,
    error_message   TEXT    NULL,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks (created_at);
`

// Open connects to dsn and applies the schema. Timestamps are stored as unix
// milliseconds. Foreign keys are enforced on every pooled connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	dsn = withForeignKeys(dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite %s", dsn)
	}
	// one connection: SQLite allows a single writer
	db.SetMaxOpenConns(1)
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// withForeignKeys adds the foreign_keys pragma to dsn unless it already sets
// one. The driver runs DSN pragmas on each new connection.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, "apply schema")
	}
	return nil
}

func persistErr(op string, err error) error {
	return &domain.PersistenceError{Op: op, Err: errors.WithStack(err)}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeField decodes one structured column. A blank or undecodable value
// leaves dst at its zero value rather than failing the whole row.
func decodeField(taskID, column string, raw sql.NullString, dst any) bool {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" || raw.String == "null" {
		return false
	}
	if err := json.Unmarshal([]byte(raw.String), dst); err != nil {
		log.Warn().Err(err).Str("task_id", taskID).Str("column", column).Msg("undecodable task column, using empty default")
		return false
	}
	return true
}
