// Package presence tracks which users are on which note on the server side. Entries
// carry an expire-at deadline; Purge drops and returns the ones past it.
package presence

import (
	"context"
	"time"

	"notepad-sync/internal/domain"
)

type Registry interface {
	// Touch adds or refreshes a member with a new deadline of now+ttl.
	Touch(ctx context.Context, noteID string, member domain.Identity, ttl time.Duration) error
	Remove(ctx context.Context, noteID, userID string) error
	// Members lists members whose deadline has not passed.
	Members(ctx context.Context, noteID string) ([]domain.Member, error)
	// Purge removes expired members and returns them.
	Purge(ctx context.Context, noteID string) ([]domain.Member, error)
	Notes(ctx context.Context) ([]string, error)
}
