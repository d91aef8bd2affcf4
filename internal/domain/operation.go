package domain

import "time"

type OperationType string

const (
	OperationInsert OperationType = "INSERT"
	OperationDelete OperationType = "DELETE"
	OperationRetain OperationType = "RETAIN"
)

func (t OperationType) Valid() bool {
	switch t {
	case OperationInsert, OperationDelete, OperationRetain:
		return true
	}
	return false
}

// Operation is a single text edit. Position and Length count characters (runes),
// not bytes. SequenceNumber is assigned by the server; zero means "not yet sequenced".
type Operation struct {
	ID             string        `json:"id,omitempty"`
	Type           OperationType `json:"operation_type"`
	Position       int           `json:"position"`
	Content        string        `json:"content,omitempty"`
	Length         int           `json:"length"`
	SequenceNumber int64         `json:"sequence_number,omitempty"`
	UserID         string        `json:"user_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at,omitempty"`
}

// AppliedOperation is an operation as recorded in the operation log.
type AppliedOperation struct {
	NoteID    string    `json:"note_id"`
	Operation Operation `json:"operation"`
	AppliedAt time.Time `json:"applied_at"`
}
