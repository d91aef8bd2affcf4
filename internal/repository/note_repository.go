package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notepad-sync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var ErrNoteNotFound = errors.New("note not found")

type NoteRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Note, error)
	// Save creates or replaces the note document.
	Save(ctx context.Context, note *domain.Note) error
}

type noteDoc struct {
	ID           string    `json:"_id"`
	Rev          string    `json:"_rev,omitempty"`
	DocType      string    `json:"doc_type"`
	NoteID       string    `json:"note_id"`
	Content      string    `json:"content"`
	Sequence     int64     `json:"sequence"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	LastEditUser string    `json:"last_edit_user"`
}

type CouchDBNoteRepository struct {
	db *kivik.DB
}

func NewNoteRepository(client *kivik.Client, dbName string) *CouchDBNoteRepository {
	return &CouchDBNoteRepository{
		db: client.DB(dbName),
	}
}

func noteDocID(id string) string {
	return fmt.Sprintf("note:%s", id)
}

func (r *CouchDBNoteRepository) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	row := r.db.Get(ctx, noteDocID(id))

	var doc noteDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrNoteNotFound
		}
		return nil, fmt.Errorf("failed to find note: %w", err)
	}

	return &domain.Note{
		ID:           doc.NoteID,
		Content:      doc.Content,
		Sequence:     doc.Sequence,
		CreatedAt:    doc.CreatedAt,
		UpdatedAt:    doc.UpdatedAt,
		LastEditUser: doc.LastEditUser,
	}, nil
}

func (r *CouchDBNoteRepository) Save(ctx context.Context, note *domain.Note) error {
	docID := noteDocID(note.ID)

	rev, err := currentRev(ctx, r.db, docID)
	if err != nil {
		return fmt.Errorf("failed to fetch note revision: %w", err)
	}

	doc := noteDoc{
		ID:           docID,
		Rev:          rev,
		DocType:      "note",
		NoteID:       note.ID,
		Content:      note.Content,
		Sequence:     note.Sequence,
		CreatedAt:    note.CreatedAt,
		UpdatedAt:    note.UpdatedAt,
		LastEditUser: note.LastEditUser,
	}

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}

	return nil
}

// currentRev returns the latest revision of docID, or "" when it does not exist yet.
func currentRev(ctx context.Context, db *kivik.DB, docID string) (string, error) {
	rev, err := db.GetRev(ctx, docID)
	if err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return "", nil
		}
		return "", err
	}
	return rev, nil
}
