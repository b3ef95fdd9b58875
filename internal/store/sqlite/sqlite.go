package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/avdeyev/chatline/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_online     BOOLEAN NOT NULL DEFAULT 0,
	last_seen_at  DATETIME,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	channel_id  INTEGER NOT NULL,
	author_id   INTEGER NOT NULL REFERENCES users(id),
	content     TEXT NOT NULL,
	parent_id   INTEGER REFERENCES messages(id),
	reply_count INTEGER NOT NULL DEFAULT 0,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_parent ON messages(parent_id);

CREATE TABLE IF NOT EXISTS read_marks (
	user_id    INTEGER NOT NULL REFERENCES users(id),
	channel_id INTEGER NOT NULL,
	message_id INTEGER NOT NULL,
	read_at    DATETIME NOT NULL,
	PRIMARY KEY (user_id, channel_id)
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with a pre-hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_online, COALESCE(last_seen_at, created_at), created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_online, COALESCE(last_seen_at, created_at), created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsOnline,
		&user.LastSeenAt,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// InsertMessage persists a message and returns the canonical record. Thread
// replies bump the parent's reply count in the same transaction.
func (s *SQLiteStore) InsertMessage(ctx context.Context, channelID, authorID int64, content string, parentID *int64) (*store.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO messages (channel_id, author_id, content, parent_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, channelID, authorID, content, parentID, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if parentID != nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET reply_count = reply_count + 1 WHERE id = ?
		`, *parentID); err != nil {
			return nil, fmt.Errorf("bump reply count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return s.getMessage(ctx, id)
}

func (s *SQLiteStore) getMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT id, channel_id, author_id, content, parent_id, reply_count, created_at
		FROM messages
		WHERE id = ?
	`
	var msg store.Message
	var parentID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.ChannelID,
		&msg.AuthorID,
		&msg.Content,
		&parentID,
		&msg.ReplyCount,
		&msg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message not found: %w", err)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	if parentID.Valid {
		msg.ParentID = &parentID.Int64
	}
	return &msg, nil
}

// ListMessages retrieves messages from a channel, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, channel_id, author_id, content, parent_id, reply_count, created_at
		FROM messages
		WHERE channel_id = ?
	`
	args := []any{channelID}
	if beforeID != nil {
		query += " AND id < ?"
		args = append(args, *beforeID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []*store.Message
	for rows.Next() {
		var msg store.Message
		var parentID sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &msg.AuthorID, &msg.Content, &parentID, &msg.ReplyCount, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if parentID.Valid {
			msg.ParentID = &parentID.Int64
		}
		msgs = append(msgs, &msg)
	}

	return msgs, rows.Err()
}

// MarkRead upserts the user's last-read position in a channel.
func (s *SQLiteStore) MarkRead(ctx context.Context, userID, channelID, messageID int64, readAt time.Time) error {
	query := `
		INSERT INTO read_marks (user_id, channel_id, message_id, read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id)
		DO UPDATE SET message_id = excluded.message_id, read_at = excluded.read_at
		WHERE excluded.message_id > read_marks.message_id
	`
	if _, err := s.db.ExecContext(ctx, query, userID, channelID, messageID, readAt.UTC()); err != nil {
		return fmt.Errorf("upsert read mark: %w", err)
	}
	return nil
}

// GetReadMark returns the user's read mark for a channel, or nil.
func (s *SQLiteStore) GetReadMark(ctx context.Context, userID, channelID int64) (*store.ReadMark, error) {
	query := `
		SELECT user_id, channel_id, message_id, read_at
		FROM read_marks
		WHERE user_id = ? AND channel_id = ?
	`
	var mark store.ReadMark
	err := s.db.QueryRowContext(ctx, query, userID, channelID).Scan(
		&mark.UserID,
		&mark.ChannelID,
		&mark.MessageID,
		&mark.ReadAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query read mark: %w", err)
	}
	return &mark, nil
}

// ==== PresenceStore implementation ====

// SetUserOnline flips the persisted presence flag. The offline edge also
// stamps last_seen_at.
func (s *SQLiteStore) SetUserOnline(ctx context.Context, userID int64, online bool) error {
	var err error
	if online {
		_, err = s.db.ExecContext(ctx, `UPDATE users SET is_online = 1 WHERE id = ?`, userID)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE users SET is_online = 0, last_seen_at = CURRENT_TIMESTAMP WHERE id = ?`, userID)
	}
	if err != nil {
		return fmt.Errorf("set user online: %w", err)
	}
	return nil
}
