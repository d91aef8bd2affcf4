package boltdb

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"notepad-sync/internal/client/storage"
)

// SaveLayout stores the window layout under the user id
func (s *Storage) SaveLayout(ctx context.Context, userID string, layout storage.Layout) error {
	if s.db == nil {
		return storage.ErrStorageClosed
	}

	data, err := json.Marshal(layout)
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketLayout)
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}

		if err := bucket.Put([]byte(userID), data); err != nil {
			return fmt.Errorf("failed to save layout: %w", err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("transaction failed: %w", err)
	}

	return nil
}

// GetLayout retrieves the window layout of a user
func (s *Storage) GetLayout(ctx context.Context, userID string) (*storage.Layout, error) {
	if s.db == nil {
		return nil, storage.ErrStorageClosed
	}

	var layout *storage.Layout

	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketLayout)
		if bucket == nil {
			return storage.ErrLayoutNotFound
		}

		data := bucket.Get([]byte(userID))
		if data == nil {
			return storage.ErrLayoutNotFound
		}

		layout = &storage.Layout{}
		if err := json.Unmarshal(data, layout); err != nil {
			return fmt.Errorf("failed to unmarshal layout: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return layout, nil
}
