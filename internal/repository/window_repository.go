package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notepad-sync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

var ErrWindowPositionNotFound = errors.New("window position not found")

type WindowPositionRepository interface {
	FindByUserID(ctx context.Context, userID string) (*domain.WindowPosition, error)
	Save(ctx context.Context, pos *domain.WindowPosition) error
}

type windowDoc struct {
	ID        string    `json:"_id"`
	Rev       string    `json:"_rev,omitempty"`
	DocType   string    `json:"doc_type"`
	UserID    string    `json:"user_id"`
	X         int       `json:"x_position"`
	Y         int       `json:"y_position"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CouchDBWindowPositionRepository struct {
	db *kivik.DB
}

func NewWindowPositionRepository(client *kivik.Client, dbName string) *CouchDBWindowPositionRepository {
	return &CouchDBWindowPositionRepository{
		db: client.DB(dbName),
	}
}

func windowDocID(userID string) string {
	return fmt.Sprintf("window:%s", userID)
}

func (r *CouchDBWindowPositionRepository) FindByUserID(ctx context.Context, userID string) (*domain.WindowPosition, error) {
	row := r.db.Get(ctx, windowDocID(userID))

	var doc windowDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == 404 {
			return nil, ErrWindowPositionNotFound
		}
		return nil, fmt.Errorf("failed to find window position: %w", err)
	}

	return &domain.WindowPosition{
		UserID:    doc.UserID,
		X:         doc.X,
		Y:         doc.Y,
		Width:     doc.Width,
		Height:    doc.Height,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

func (r *CouchDBWindowPositionRepository) Save(ctx context.Context, pos *domain.WindowPosition) error {
	docID := windowDocID(pos.UserID)

	rev, err := currentRev(ctx, r.db, docID)
	if err != nil {
		return fmt.Errorf("failed to fetch window position revision: %w", err)
	}

	doc := windowDoc{
		ID:        docID,
		Rev:       rev,
		DocType:   "window_position",
		UserID:    pos.UserID,
		X:         pos.X,
		Y:         pos.Y,
		Width:     pos.Width,
		Height:    pos.Height,
		UpdatedAt: pos.UpdatedAt,
	}

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save window position: %w", err)
	}

	return nil
}
