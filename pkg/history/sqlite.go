package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"

	"basil/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// SQLiteStore persists entries in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	logger.Component(slog.Default(), "history.sqlite").Debug("History database opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_history (id, chat, channel, sender, sender_name, addressee, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Chat, entry.Channel, entry.From, entry.FromName, entry.To, entry.Text, entry.At)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, chat string, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, chat, channel, sender, sender_name, addressee, body, created_at
		FROM (
			SELECT * FROM chat_history WHERE chat = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC
	`, chat, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Chat, &e.Channel, &e.From, &e.FromName, &e.To, &e.Text, &e.At); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
