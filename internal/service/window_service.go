package service

import (
	"context"
	"fmt"
	"time"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/repository"
)

// WindowService persists one floating-window geometry per user for cross-session restore.
type WindowService struct {
	repo repository.WindowPositionRepository
	now  func() time.Time
}

func NewWindowService(repo repository.WindowPositionRepository) *WindowService {
	return &WindowService{
		repo: repo,
		now:  time.Now,
	}
}

func (s *WindowService) Save(ctx context.Context, userID string, req *domain.UpdateWindowPositionRequest) (*domain.WindowPosition, error) {
	if req.X < 0 || req.Y < 0 || req.Width <= 0 || req.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d at (%d,%d)", ErrInvalidGeometry, req.Width, req.Height, req.X, req.Y)
	}

	pos := &domain.WindowPosition{
		UserID:    userID,
		X:         req.X,
		Y:         req.Y,
		Width:     req.Width,
		Height:    req.Height,
		UpdatedAt: s.now(),
	}

	if err := s.repo.Save(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

func (s *WindowService) Get(ctx context.Context, userID string) (*domain.WindowPosition, error) {
	return s.repo.FindByUserID(ctx, userID)
}
