package domain

import "time"

type CollaboratorCursor struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

type TypingIndicator struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	IsTyping  bool      `json:"is_typing"`
	Timestamp time.Time `json:"timestamp"`
}

// Member is a user currently present on a note, as seen by the server.
type Member struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expires_at"`
}
