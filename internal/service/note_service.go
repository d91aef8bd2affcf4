package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/protocol"
	"notepad-sync/internal/repository"
	"notepad-sync/internal/textop"

	"github.com/google/uuid"
)

// NoteService is the sequencer. It keeps the authoritative content of every open note in
// memory, assigns sequence numbers under the note's lock and broadcasts each applied
// operation in sequence order.
type NoteService struct {
	repo    repository.NoteRepository
	opLog   repository.OperationRepository
	windows repository.WindowPositionRepository
	hub     Broadcaster
	events  OperationPublisher
	now     func() time.Time

	mu    sync.Mutex
	notes map[string]*noteState
}

type noteState struct {
	mu   sync.Mutex
	note *domain.Note
}

// NewNoteService wires the sequencer. opLog, windows and events may be nil.
func NewNoteService(
	repo repository.NoteRepository,
	opLog repository.OperationRepository,
	windows repository.WindowPositionRepository,
	hub Broadcaster,
	events OperationPublisher,
) *NoteService {
	return &NoteService{
		repo:    repo,
		opLog:   opLog,
		windows: windows,
		hub:     hub,
		events:  events,
		now:     time.Now,
		notes:   make(map[string]*noteState),
	}
}

func (s *NoteService) state(noteID string) *noteState {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.notes[noteID]
	if !ok {
		st = &noteState{}
		s.notes[noteID] = st
	}
	return st
}

// load fills st.note from the repository, starting an empty note when none is stored.
// Caller holds st.mu.
func (s *NoteService) load(ctx context.Context, st *noteState, noteID string) error {
	if st.note != nil {
		return nil
	}

	note, err := s.repo.FindByID(ctx, noteID)
	if errors.Is(err, repository.ErrNoteNotFound) {
		now := s.now()
		note = &domain.Note{ID: noteID, CreatedAt: now, UpdatedAt: now}
	} else if err != nil {
		return err
	}

	st.note = note
	return nil
}

// Apply sequences op on noteID. The stored content and the broadcast carry the operation
// as actually applied, with position and length clamped to the content. When clamping
// changed the operation every subscriber also gets a CONTENT_SYNC snapshot.
func (s *NoteService) Apply(ctx context.Context, identity domain.Identity, noteID string, op domain.Operation) (*domain.Operation, error) {
	if !op.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidOperation, op.Type)
	}

	st := s.state(noteID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.load(ctx, st, noteID); err != nil {
		return nil, err
	}

	content, applied, err := textop.Apply(st.note.Content, op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}
	clamped := applied.Position != op.Position || (op.Type == domain.OperationDelete && applied.Length != op.Length)

	now := s.now()
	if applied.ID == "" {
		applied.ID = uuid.New().String()
	}
	applied.UserID = identity.UserID
	applied.SequenceNumber = st.note.Sequence + 1
	applied.CreatedAt = now

	previous := *st.note
	st.note.Content = content
	st.note.Sequence = applied.SequenceNumber
	st.note.UpdatedAt = now
	st.note.LastEditUser = identity.UserID

	if err := s.repo.Save(ctx, st.note); err != nil {
		*st.note = previous
		return nil, err
	}

	record := &domain.AppliedOperation{NoteID: noteID, Operation: applied, AppliedAt: now}
	if s.opLog != nil {
		if err := s.opLog.Append(ctx, record); err != nil {
			log.Printf("[Notes] failed to log operation %d of %s: %v", applied.SequenceNumber, noteID, err)
		}
	}
	if s.events != nil {
		if err := s.events.PublishApplied(ctx, record); err != nil {
			log.Printf("[Notes] failed to publish operation %d of %s: %v", applied.SequenceNumber, noteID, err)
		}
	}

	msg, err := protocol.NewMessage(protocol.EventOperation, protocol.OperationPayload{NoteID: noteID, Operation: applied})
	if err != nil {
		return nil, err
	}
	if err := s.hub.Broadcast(protocol.OperationsTopic(noteID), msg); err != nil {
		return nil, err
	}

	if clamped {
		if err := s.broadcastSnapshot(noteID, st.note); err != nil {
			log.Printf("[Notes] failed to broadcast snapshot of %s: %v", noteID, err)
		}
	}

	return &applied, nil
}

// Join answers a client's subscribe announcement with the current snapshot and, when
// stored, that user's window geometry.
func (s *NoteService) Join(ctx context.Context, identity domain.Identity, clientID, noteID string) error {
	st := s.state(noteID)
	st.mu.Lock()
	if err := s.load(ctx, st, noteID); err != nil {
		st.mu.Unlock()
		return err
	}

	msg, err := protocol.NewMessage(protocol.EventInitialContent, protocol.ContentPayload{
		NoteID:   noteID,
		Content:  st.note.Content,
		Sequence: st.note.Sequence,
	})
	if err == nil {
		// sent under the note lock so no later operation can overtake the snapshot
		err = s.hub.SendToClient(clientID, protocol.UserInitialContent, msg)
	}
	st.mu.Unlock()
	if err != nil {
		return err
	}

	if s.windows == nil {
		return nil
	}

	pos, err := s.windows.FindByUserID(ctx, identity.UserID)
	if errors.Is(err, repository.ErrWindowPositionNotFound) {
		return nil
	}
	if err != nil {
		log.Printf("[Notes] failed to load window position for %s: %v", identity.UserID, err)
		return nil
	}

	winMsg, err := protocol.NewMessage(protocol.EventWindowPosition, pos)
	if err != nil {
		return err
	}
	return s.hub.SendToClient(clientID, protocol.UserWindowPosition, winMsg)
}

// Resync broadcasts the authoritative snapshot to every subscriber of noteID.
func (s *NoteService) Resync(ctx context.Context, noteID string) error {
	st := s.state(noteID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.load(ctx, st, noteID); err != nil {
		return err
	}
	return s.broadcastSnapshot(noteID, st.note)
}

func (s *NoteService) broadcastSnapshot(noteID string, note *domain.Note) error {
	msg, err := protocol.NewMessage(protocol.EventContentSync, protocol.ContentPayload{
		NoteID:   noteID,
		Content:  note.Content,
		Sequence: note.Sequence,
	})
	if err != nil {
		return err
	}
	return s.hub.Broadcast(protocol.SyncTopic(noteID), msg)
}

// Snapshot returns a copy of the current note for the REST fallback.
func (s *NoteService) Snapshot(ctx context.Context, noteID string) (*domain.NoteResponse, error) {
	st := s.state(noteID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := s.load(ctx, st, noteID); err != nil {
		return nil, err
	}
	return st.note.Response(), nil
}

// History lists logged operations after a sequence number.
func (s *NoteService) History(ctx context.Context, noteID string, afterSequence int64, limit int) ([]domain.Operation, error) {
	if s.opLog == nil {
		return nil, nil
	}
	return s.opLog.ListSince(ctx, noteID, afterSequence, limit)
}
