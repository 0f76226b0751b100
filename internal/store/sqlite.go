package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"xrelay/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	now func() time.Time
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for the sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log, now: time.Now}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) LoadCursor(ctx context.Context) (string, error) {
	var sinceID string
	err := s.db.QueryRowContext(ctx, `SELECT since_id FROM cursor WHERE id = 1`).Scan(&sinceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sinceID, nil
}

func (s *sqliteStore) SaveCursor(ctx context.Context, sinceID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cursor(id, since_id) VALUES(1, ?)
		 ON CONFLICT(id) DO UPDATE SET since_id = excluded.since_id`,
		sinceID,
	)
	return err
}

func (s *sqliteStore) UpsertSubscriber(ctx context.Context, sub Subscriber) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM subscribers WHERE chat_id = ?`, sub.ChatID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	isNew := errors.Is(err, sql.ErrNoRows)

	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subscribers(chat_id, username, first_name, first_seen, last_seen)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   username   = excluded.username,
		   first_name = excluded.first_name,
		   last_seen  = excluded.last_seen`,
		sub.ChatID, nullStr(sub.Username), sub.FirstName, now, now,
	)
	if err != nil {
		return false, err
	}
	return isNew, nil
}

func (s *sqliteStore) Subscribers(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, username, first_name, first_seen, last_seen
		 FROM subscribers ORDER BY chat_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		var username sql.NullString
		var firstSeen, lastSeen string
		if err := rows.Scan(&sub.ChatID, &username, &sub.FirstName, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		sub.Username = username.String
		sub.FirstSeen, _ = time.Parse(time.RFC3339Nano, firstSeen)
		sub.LastSeen, _ = time.Parse(time.RFC3339Nano, lastSeen)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
