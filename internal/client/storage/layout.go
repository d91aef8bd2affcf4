package storage

import (
	"context"

	"notepad-sync/internal/domain"
)

// Layout is the locally remembered chrome of the floating note window.
type Layout struct {
	Position  domain.WindowPosition `json:"position"`
	Minimized bool                  `json:"minimized"`
	Maximized bool                  `json:"maximized"`
}

// LayoutStorage persists the window layout of each local user.
type LayoutStorage interface {
	// SaveLayout stores or replaces the layout of a user
	SaveLayout(ctx context.Context, userID string, layout Layout) error

	// GetLayout returns ErrLayoutNotFound if nothing was saved for the user
	GetLayout(ctx context.Context, userID string) (*Layout, error)
}
