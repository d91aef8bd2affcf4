package domain

import "time"

// DefaultNoteID is the shared note every session edits unless told otherwise.
const DefaultNoteID = "shared"

type Note struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Sequence     int64     `json:"sequence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastEditUser string    `json:"last_edit_user"`
}

type NoteResponse struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Sequence     int64     `json:"sequence"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastEditUser string    `json:"last_edit_user"`
}

func (n *Note) Response() *NoteResponse {
	return &NoteResponse{
		ID:           n.ID,
		Content:      n.Content,
		Sequence:     n.Sequence,
		UpdatedAt:    n.UpdatedAt,
		LastEditUser: n.LastEditUser,
	}
}
