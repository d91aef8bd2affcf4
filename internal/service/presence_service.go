package service

import (
	"context"
	"log"
	"time"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/presence"
	"notepad-sync/internal/protocol"
)

// PresenceService relays cursor and typing updates and keeps the presence registry
// fresh. Presence is never persisted.
type PresenceService struct {
	registry presence.Registry
	hub      Broadcaster
	ttl      time.Duration
	now      func() time.Time
}

func NewPresenceService(registry presence.Registry, hub Broadcaster, ttl time.Duration) *PresenceService {
	return &PresenceService{
		registry: registry,
		hub:      hub,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *PresenceService) Join(ctx context.Context, identity domain.Identity, noteID string) error {
	return s.registry.Touch(ctx, noteID, identity, s.ttl)
}

func (s *PresenceService) Cursor(ctx context.Context, identity domain.Identity, noteID string, position int) error {
	if err := s.registry.Touch(ctx, noteID, identity, s.ttl); err != nil {
		log.Printf("[Presence] failed to refresh %s on %s: %v", identity.UserID, noteID, err)
	}

	msg, err := protocol.NewMessage(protocol.EventCursorPosition, protocol.CursorEventPayload{
		NoteID: noteID,
		Cursor: domain.CollaboratorCursor{
			UserID:    identity.UserID,
			Username:  identity.Username,
			Position:  position,
			Timestamp: s.now(),
		},
	})
	if err != nil {
		return err
	}
	return s.hub.Broadcast(protocol.CursorsTopic(noteID), msg)
}

func (s *PresenceService) Typing(ctx context.Context, identity domain.Identity, noteID string, isTyping bool) error {
	if err := s.registry.Touch(ctx, noteID, identity, s.ttl); err != nil {
		log.Printf("[Presence] failed to refresh %s on %s: %v", identity.UserID, noteID, err)
	}

	msg, err := protocol.NewMessage(protocol.EventTypingStatus, protocol.TypingEventPayload{
		NoteID: noteID,
		Indicator: domain.TypingIndicator{
			UserID:    identity.UserID,
			Username:  identity.Username,
			IsTyping:  isTyping,
			Timestamp: s.now(),
		},
	})
	if err != nil {
		return err
	}
	return s.hub.Broadcast(protocol.TypingTopic(noteID), msg)
}

// Leave removes the user from noteID and tells the remaining collaborators.
func (s *PresenceService) Leave(ctx context.Context, identity domain.Identity, noteID string) error {
	if err := s.registry.Remove(ctx, noteID, identity.UserID); err != nil {
		return err
	}
	return s.broadcastLeft(noteID, identity.UserID, identity.Username)
}

func (s *PresenceService) Members(ctx context.Context, noteID string) ([]domain.Member, error) {
	return s.registry.Members(ctx, noteID)
}

// Sweep purges members whose TTL ran out on every note and announces each departure.
func (s *PresenceService) Sweep(ctx context.Context) error {
	notes, err := s.registry.Notes(ctx)
	if err != nil {
		return err
	}

	for _, noteID := range notes {
		expired, err := s.registry.Purge(ctx, noteID)
		if err != nil {
			log.Printf("[Presence] purge of %s failed: %v", noteID, err)
			continue
		}
		for _, m := range expired {
			if err := s.broadcastLeft(noteID, m.UserID, m.Username); err != nil {
				log.Printf("[Presence] failed to announce %s left %s: %v", m.UserID, noteID, err)
			}
		}
	}
	return nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *PresenceService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("[Presence] sweep failed: %v", err)
			}
		}
	}
}

func (s *PresenceService) broadcastLeft(noteID, userID, username string) error {
	msg, err := protocol.NewMessage(protocol.EventCollaboratorLeft, protocol.CollaboratorLeftPayload{
		NoteID:   noteID,
		UserID:   userID,
		Username: username,
	})
	if err != nil {
		return err
	}
	return s.hub.Broadcast(protocol.PresenceTopic(noteID), msg)
}
