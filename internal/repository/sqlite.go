package repository

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"echochat/internal/domain"
	"echochat/internal/metrics"
)

const backendSQLite = "sqlite"

// SQLiteStore is a local stand-in for the DynamoDB table, used by serve mode
// during development.
type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// OpenSQLite opens (or creates) the database at path, ensuring that the
// parent directory and the messages table exist.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "repository: create db directory %s", dir)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "repository: open db at %s", path)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "repository: ping db at %s", path)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now, newID: newUUID}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			ts TEXT NOT NULL,
			reply_to TEXT,
			source TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_messages_subject_ts ON messages(subject, ts);
	`)
	if err != nil {
		return errors.Wrap(err, "repository: init schema")
	}
	return nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg domain.ChatMessage) (string, error) {
	msg, err := prepare(msg, s.now, s.newID)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (id, subject, role, text, ts, reply_to, source) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Subject, string(msg.Role), msg.Text, msg.Timestamp.Format(time.RFC3339Nano),
		nullable(msg.ReplyTo), nullable(msg.Source),
	)
	if err != nil {
		metrics.StoreWrites.WithLabelValues(backendSQLite, metrics.OutcomeError).Inc()
		return "", errors.Wrap(err, "repository: AppendMessage")
	}
	metrics.StoreWrites.WithLabelValues(backendSQLite, metrics.OutcomeOK).Inc()
	return msg.ID, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
