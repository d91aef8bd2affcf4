package service

import (
	"context"
	"errors"
	"testing"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/repository"
)

func TestWindowService_SaveAndGet(t *testing.T) {
	repo := newMockWindowRepo()
	svc := NewWindowService(repo)
	ctx := context.Background()

	saved, err := svc.Save(ctx, "u1", &domain.UpdateWindowPositionRequest{X: 10, Y: 5, Width: 300, Height: 200})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if saved.UserID != "u1" {
		t.Errorf("expected user u1, got %q", saved.UserID)
	}
	if saved.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}

	got, err := svc.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.Width != 300 {
		t.Errorf("expected width 300, got %d", got.Width)
	}

	if _, err := svc.Get(ctx, "u2"); !errors.Is(err, repository.ErrWindowPositionNotFound) {
		t.Errorf("expected ErrWindowPositionNotFound, got %v", err)
	}
}

func TestWindowService_RejectsInvalidGeometry(t *testing.T) {
	svc := NewWindowService(newMockWindowRepo())

	tests := []struct {
		name string
		req  domain.UpdateWindowPositionRequest
	}{
		{name: "negative x", req: domain.UpdateWindowPositionRequest{X: -1, Y: 0, Width: 10, Height: 10}},
		{name: "negative y", req: domain.UpdateWindowPositionRequest{X: 0, Y: -1, Width: 10, Height: 10}},
		{name: "zero width", req: domain.UpdateWindowPositionRequest{Width: 0, Height: 10}},
		{name: "zero height", req: domain.UpdateWindowPositionRequest{Width: 10, Height: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Save(context.Background(), "u1", &tt.req); !errors.Is(err, ErrInvalidGeometry) {
				t.Errorf("expected ErrInvalidGeometry, got %v", err)
			}
		})
	}
}
