package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"notepad-sync/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// OperationRepository is the append-only log of sequenced operations per note.
type OperationRepository interface {
	Append(ctx context.Context, applied *domain.AppliedOperation) error
	ListSince(ctx context.Context, noteID string, afterSequence int64, limit int) ([]domain.Operation, error)
}

type operationDoc struct {
	ID             string    `json:"_id"`
	DocType        string    `json:"doc_type"`
	NoteID         string    `json:"note_id"`
	OperationID    string    `json:"operation_id"`
	OperationType  string    `json:"operation_type"`
	Position       int       `json:"position"`
	Content        string    `json:"content,omitempty"`
	Length         int       `json:"length"`
	SequenceNumber int64     `json:"sequence_number"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
	AppliedAt      time.Time `json:"applied_at"`
}

type CouchDBOperationRepository struct {
	db *kivik.DB
}

func NewOperationRepository(client *kivik.Client, dbName string) *CouchDBOperationRepository {
	return &CouchDBOperationRepository{
		db: client.DB(dbName),
	}
}

func (r *CouchDBOperationRepository) Append(ctx context.Context, applied *domain.AppliedOperation) error {
	op := applied.Operation
	// zero padding keeps _all_docs order equal to sequence order
	docID := fmt.Sprintf("op:%s:%012d", applied.NoteID, op.SequenceNumber)

	doc := operationDoc{
		ID:             docID,
		DocType:        "operation",
		NoteID:         applied.NoteID,
		OperationID:    op.ID,
		OperationType:  string(op.Type),
		Position:       op.Position,
		Content:        op.Content,
		Length:         op.Length,
		SequenceNumber: op.SequenceNumber,
		UserID:         op.UserID,
		CreatedAt:      op.CreatedAt,
		AppliedAt:      applied.AppliedAt,
	}

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}

	return nil
}

func (r *CouchDBOperationRepository) ListSince(ctx context.Context, noteID string, afterSequence int64, limit int) ([]domain.Operation, error) {
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type":        "operation",
			"note_id":         noteID,
			"sequence_number": map[string]interface{}{"$gt": afterSequence},
		},
	}
	if limit > 0 {
		query["limit"] = limit
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []domain.Operation
	for rows.Next() {
		var doc operationDoc
		if err := rows.ScanDoc(&doc); err != nil {
			continue
		}
		ops = append(ops, domain.Operation{
			ID:             doc.OperationID,
			Type:           domain.OperationType(doc.OperationType),
			Position:       doc.Position,
			Content:        doc.Content,
			Length:         doc.Length,
			SequenceNumber: doc.SequenceNumber,
			UserID:         doc.UserID,
			CreatedAt:      doc.CreatedAt,
		})
	}

	sort.Slice(ops, func(i, j int) bool {
		return ops[i].SequenceNumber < ops[j].SequenceNumber
	})

	return ops, nil
}
