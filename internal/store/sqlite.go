package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gitchat/internal/chat"
	"gitchat/internal/store/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore is the alternate, non-authoritative storage backend.
// Messages are stored unsigned; the file store remains the source of
// truth for the signed, git-mirrored history.
type SQLiteStore struct {
	db    *sql.DB
	clock chat.Clock
	idgen chat.IDGenerator
}

// NewSQLiteStore opens (or creates) the database at path, which may be
// ":memory:" for tests.
func NewSQLiteStore(path string, clock chat.Clock, idgen chat.IDGenerator) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, clock: clock, idgen: idgen}, nil
}

// Init applies any pending schema migrations.
func (s *SQLiteStore) Init() error {
	return migrations.Up(s.db)
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save inserts a new message row with a generated UUID id.
func (s *SQLiteStore) Save(req chat.SaveRequest) (string, error) {
	content := strings.TrimRight(req.Content, " \t\r\n")
	if strings.TrimSpace(content) == "" {
		return "", chat.ErrEmptyContent
	}

	author := req.Author
	if author == "" {
		author = "anonymous"
	}
	if !chat.ValidAuthor(author) {
		return "", fmt.Errorf("%w: %q", chat.ErrInvalidUsername, author)
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}

	msgType := req.Type
	if msgType == "" {
		msgType = chat.TypeMessage
	}

	id := s.idgen.New()
	_, err := s.db.Exec(
		"INSERT INTO messages (id, user, content, timestamp, parent, type) VALUES (?, ?, ?, ?, ?, ?)",
		id, author, content, ts.UTC().Format(time.RFC3339), req.Parent, string(msgType),
	)
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}
	return id, nil
}

// Read returns the message with the given id, or (nil, nil) when no
// such row exists.
func (s *SQLiteStore) Read(id string) (*chat.Message, error) {
	row := s.db.QueryRow(
		"SELECT id, user, content, timestamp, parent, signature, type FROM messages WHERE id = ?", id,
	)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}
	return msg, nil
}

// List returns messages newest first, truncated to limit when positive.
func (s *SQLiteStore) List(limit int) ([]*chat.Message, error) {
	query := "SELECT id, user, content, timestamp, parent, signature, type FROM messages ORDER BY timestamp DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// SelectBefore returns messages strictly older than cutoff, ascending.
func (s *SQLiteStore) SelectBefore(cutoff time.Time) ([]*chat.Message, error) {
	rows, err := s.db.Query(
		"SELECT id, user, content, timestamp, parent, signature, type FROM messages WHERE timestamp < ? ORDER BY timestamp ASC",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("selecting messages to archive: %w", err)
	}
	defer rows.Close()

	var msgs []*chat.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// Remove deletes rows by id after they have been bundled.
func (s *SQLiteStore) Remove(ids []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting delete transaction: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec("DELETE FROM messages WHERE id = ?", id); err != nil {
			tx.Rollback()
			return fmt.Errorf("deleting message %s: %w", id, err)
		}
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*chat.Message, error) {
	var (
		msg               chat.Message
		rawTS             string
		parent, signature sql.NullString
		msgType           string
	)
	if err := row.Scan(&msg.ID, &msg.Author, &msg.Content, &rawTS, &parent, &signature, &msgType); err != nil {
		return nil, err
	}
	if ts, err := time.Parse(time.RFC3339, rawTS); err == nil {
		msg.CreatedAt = ts
	}
	msg.Parent = parent.String
	msg.Signature = signature.String
	msg.Type = messageType(msgType)
	return &msg, nil
}
