package models

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// User maps to the `users` table. The password hash never leaves the server.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

type Conversation struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID      int64  `json:"id"`
	ConvID  int64  `json:"conversation_id"`
	Role    string `json:"role"` // user or assistant
	Content string `json:"content"`
}
