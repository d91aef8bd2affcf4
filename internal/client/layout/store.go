// Package layout keeps this user's floating note window geometry. Geometry is pushed to
// the server for cross-session restore only; it is never shown to other users.
package layout

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"notepad-sync/internal/client/storage"
	"notepad-sync/internal/domain"
)

// Publisher sends the clamped geometry to the server. Delivery is fire-and-forget.
type Publisher interface {
	PublishWindowPosition(ctx context.Context, pos domain.WindowPosition) error
}

// Viewport is the area the window must stay inside. A zero dimension means unknown and
// disables clamping on that axis beyond keeping the origin non-negative.
type Viewport struct {
	Width  int
	Height int
}

type Store struct {
	mu        sync.RWMutex
	userID    string
	viewport  Viewport
	position  domain.WindowPosition
	minimized bool
	maximized bool
	publisher Publisher
	storage   storage.LayoutStorage
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore creates a layout store. layoutStorage may be nil when nothing should be
// remembered locally.
func NewStore(userID string, viewport Viewport, publisher Publisher, layoutStorage storage.LayoutStorage, logger *slog.Logger) *Store {
	return &Store{
		userID:    userID,
		viewport:  viewport,
		position:  domain.WindowPosition{UserID: userID, Width: 1, Height: 1},
		publisher: publisher,
		storage:   layoutStorage,
		logger:    logger,
		now:       time.Now,
	}
}

// Load restores the last locally saved layout, if any.
func (s *Store) Load(ctx context.Context) error {
	if s.storage == nil {
		return nil
	}

	saved, err := s.storage.GetLayout(ctx, s.userID)
	if errors.Is(err, storage.ErrLayoutNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = s.clamp(saved.Position)
	s.minimized = saved.Minimized
	s.maximized = saved.Maximized
	return nil
}

// UpdateWindowPosition clamps the rectangle into the viewport, applies it locally right
// away and publishes it for persistence. A failed publish is logged, not returned.
func (s *Store) UpdateWindowPosition(ctx context.Context, x, y, width, height int) domain.WindowPosition {
	s.mu.Lock()
	pos := s.clamp(domain.WindowPosition{
		UserID:    s.userID,
		X:         x,
		Y:         y,
		Width:     width,
		Height:    height,
		UpdatedAt: s.now(),
	})
	s.position = pos
	s.mu.Unlock()

	s.save(ctx)

	if s.publisher != nil {
		if err := s.publisher.PublishWindowPosition(ctx, pos); err != nil {
			s.logger.Warn("Failed to publish window position", "user_id", s.userID, "error", err)
		}
	}

	return pos
}

// Move shifts the window by dx, dy keeping its size.
func (s *Store) Move(ctx context.Context, dx, dy int) domain.WindowPosition {
	cur := s.Position()
	return s.UpdateWindowPosition(ctx, cur.X+dx, cur.Y+dy, cur.Width, cur.Height)
}

// Restore applies geometry received from the server without publishing it back.
func (s *Store) Restore(ctx context.Context, pos domain.WindowPosition) {
	s.mu.Lock()
	pos.UserID = s.userID
	s.position = s.clamp(pos)
	s.mu.Unlock()

	s.save(ctx)
}

// SetViewport records a new viewport size and re-clamps the window into it.
func (s *Store) SetViewport(width, height int) domain.WindowPosition {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewport = Viewport{Width: width, Height: height}
	s.position = s.clamp(s.position)
	return s.position
}

// SetMinimized and SetMaximized are local-only; they are remembered on disk but never
// sent to the server. The two modes exclude each other.
func (s *Store) SetMinimized(ctx context.Context, minimized bool) {
	s.mu.Lock()
	s.minimized = minimized
	if minimized {
		s.maximized = false
	}
	s.mu.Unlock()

	s.save(ctx)
}

func (s *Store) SetMaximized(ctx context.Context, maximized bool) {
	s.mu.Lock()
	s.maximized = maximized
	if maximized {
		s.minimized = false
	}
	s.mu.Unlock()

	s.save(ctx)
}

func (s *Store) Position() domain.WindowPosition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *Store) Viewport() Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

func (s *Store) Minimized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minimized
}

func (s *Store) Maximized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maximized
}

// clamp keeps 0 <= x <= viewport.Width-width and the same for y. Caller holds s.mu.
func (s *Store) clamp(pos domain.WindowPosition) domain.WindowPosition {
	if pos.Width < 1 {
		pos.Width = 1
	}
	if pos.Height < 1 {
		pos.Height = 1
	}

	pos.X = clampAxis(pos.X, pos.Width, s.viewport.Width)
	pos.Y = clampAxis(pos.Y, pos.Height, s.viewport.Height)
	return pos
}

func clampAxis(origin, size, limit int) int {
	if limit > 0 && origin > limit-size {
		origin = limit - size
	}
	if origin < 0 {
		origin = 0
	}
	return origin
}

func (s *Store) save(ctx context.Context) {
	if s.storage == nil {
		return
	}

	s.mu.RLock()
	layout := storage.Layout{
		Position:  s.position,
		Minimized: s.minimized,
		Maximized: s.maximized,
	}
	s.mu.RUnlock()

	if err := s.storage.SaveLayout(ctx, s.userID, layout); err != nil {
		s.logger.Warn("Failed to save window layout", "user_id", s.userID, "error", err)
	}
}
