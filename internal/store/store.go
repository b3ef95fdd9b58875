package store

import (
	"context"
	"time"
)

// User represents a registered account. IsOnline is the persisted presence
// flag maintained by the sync core as a side effect of connection edges.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsOnline     bool
	LastSeenAt   time.Time
	CreatedAt    time.Time
}

// Message is a persisted chat message. ID is server-assigned and monotonic.
// ReplyCount is maintained by the store when thread replies are inserted.
type Message struct {
	ID         int64
	ChannelID  int64
	AuthorID   int64
	Content    string
	ParentID   *int64 // thread root, nil for top-level messages
	CreatedAt  time.Time
	ReplyCount int
}

// ReadMark records a user's last-read position in a channel.
type ReadMark struct {
	UserID    int64
	ChannelID int64
	MessageID int64
	ReadAt    time.Time
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates a new user with a pre-hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore is the persistence collaborator consumed by the sync core.
type MessageStore interface {
	// InsertMessage persists a message and returns the canonical record
	// with its server-assigned identifier and timestamp. A non-nil
	// parentID inserts a thread reply and bumps the parent's reply count.
	InsertMessage(ctx context.Context, channelID, authorID int64, content string, parentID *int64) (*Message, error)

	// ListMessages retrieves messages from a channel, newest first, capped
	// at limit. A non-nil beforeID returns only messages older than it.
	ListMessages(ctx context.Context, channelID int64, limit int, beforeID *int64) ([]*Message, error)

	// MarkRead upserts the user's last-read position in a channel.
	MarkRead(ctx context.Context, userID, channelID, messageID int64, readAt time.Time) error

	// GetReadMark returns the user's read mark for a channel, or nil.
	GetReadMark(ctx context.Context, userID, channelID int64) (*ReadMark, error)
}

// PresenceStore persists the derived online/offline flag.
type PresenceStore interface {
	// SetUserOnline flips the user's persisted presence flag and, on the
	// offline edge, stamps last_seen_at.
	SetUserOnline(ctx context.Context, userID int64, online bool) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore
	PresenceStore

	// Close closes the underlying database connection.
	Close() error
}
