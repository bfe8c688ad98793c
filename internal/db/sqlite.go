package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/zenith-chat/zenith/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    FOREIGN KEY (conversation_id) REFERENCES conversations(id)
);`

var (
	// ErrUsernameTaken is returned by CreateUser when the username already exists.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmptyName is returned by RenameConversation for blank or whitespace-only names.
	ErrEmptyName = errors.New("conversation name cannot be empty")
)

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// journal_mode is unsupported for in-memory databases, so its error is ignored.
	_, _ = db.Exec(`PRAGMA journal_mode=WAL`)
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

func (db *Database) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	query := `
        INSERT INTO users (username, password_hash)
        VALUES (?, ?)
        RETURNING id`

	user := &models.User{Username: username, PasswordHash: passwordHash}
	err := db.db.QueryRowContext(ctx, query, username, passwordHash).Scan(&user.ID)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername returns nil without error when no such user exists.
func (db *Database) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
        SELECT id, username, password_hash
        FROM users
        WHERE username = ?`

	var user models.User
	err := db.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (db *Database) CreateConversation(ctx context.Context, userID int64, name string) (*models.Conversation, error) {
	query := `
        INSERT INTO conversations (user_id, name, created_at)
        VALUES (?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	conv := &models.Conversation{UserID: userID, Name: name}
	err := db.db.QueryRowContext(ctx, query, userID, name).Scan(&conv.ID, &conv.CreatedAt)
	return conv, err
}

// GetConversation returns nil without error when no such conversation exists.
func (db *Database) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	query := `
        SELECT id, user_id, name, created_at
        FROM conversations
        WHERE id = ?`

	var conv models.Conversation
	err := db.db.QueryRowContext(ctx, query, id).Scan(&conv.ID, &conv.UserID, &conv.Name, &conv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns the user's conversations, most recently created
// first. CURRENT_TIMESTAMP only has second resolution, so the id breaks ties
// between conversations created within the same second.
func (db *Database) ListConversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	query := `
        SELECT id, user_id, name, created_at
        FROM conversations
        WHERE user_id = ?
        ORDER BY created_at DESC, id DESC`

	rows, err := db.db.QueryContext(ctx, query, userID)
	if err != nil {
		return []models.Conversation{}, err
	}
	defer rows.Close()

	conversations := make([]models.Conversation, 0)
	for rows.Next() {
		var conv models.Conversation
		err := rows.Scan(&conv.ID, &conv.UserID, &conv.Name, &conv.CreatedAt)
		if err != nil {
			return []models.Conversation{}, err
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

func (db *Database) RenameConversation(ctx context.Context, id int64, name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	_, err := db.db.ExecContext(ctx, "UPDATE conversations SET name = ? WHERE id = ?", name, id)
	return err
}

// DeleteConversation removes the conversation and all of its messages in a
// single transaction. Deleting a nonexistent id is a no-op.
func (db *Database) DeleteConversation(ctx context.Context, id int64) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE conversation_id = ?", id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *Database) SaveMessage(ctx context.Context, msg *models.Message) error {
	query := `
        INSERT INTO messages (conversation_id, role, content)
        VALUES (?, ?, ?)
        RETURNING id`

	return db.db.QueryRowContext(ctx, query, msg.ConvID, msg.Role, msg.Content).Scan(&msg.ID)
}

// ListMessages returns the conversation history in insertion order.
func (db *Database) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	query := `
        SELECT id, conversation_id, role, content
        FROM messages
        WHERE conversation_id = ?
        ORDER BY id ASC`

	rows, err := db.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return []models.Message{}, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var msg models.Message
		err := rows.Scan(&msg.ID, &msg.ConvID, &msg.Role, &msg.Content)
		if err != nil {
			return []models.Message{}, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
