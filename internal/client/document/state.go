// Package document holds the local mirror of the shared note. Content changes only when
// an operation or snapshot arrives from the server; local keystrokes are never applied
// here ahead of the server's echo.
package document

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/textop"
)

// ErrSequenceGap reports that an operation arrived with a sequence number more than one
// ahead of the last applied one. The operation is still applied; the caller should
// request a fresh snapshot.
var ErrSequenceGap = errors.New("operation sequence gap")

type State struct {
	mu           sync.RWMutex
	noteID       string
	content      string
	sequence     int64
	synced       bool
	lastSyncedAt time.Time
	logger       *slog.Logger
	now          func() time.Time
}

func NewState(noteID string, logger *slog.Logger) *State {
	return &State{
		noteID: noteID,
		logger: logger,
		now:    time.Now,
	}
}

func (s *State) NoteID() string {
	return s.noteID
}

func (s *State) Content() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.content
}

func (s *State) Sequence() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// Synced reports whether a snapshot has been received since the last Reset.
func (s *State) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

func (s *State) LastSyncedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSyncedAt
}

// ApplyOperation applies a server-sequenced operation and returns the resulting content.
// Out-of-range positions are clamped. Operations already covered by the current sequence
// number are skipped. A malformed operation type is logged and treated as a no-op.
func (s *State) ApplyOperation(op domain.Operation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if op.SequenceNumber > 0 && op.SequenceNumber <= s.sequence {
		s.logger.Debug("Skipping already applied operation",
			"note_id", s.noteID,
			"sequence", op.SequenceNumber,
			"current", s.sequence)
		return s.content, nil
	}

	content, _, err := textop.Apply(s.content, op)
	if err != nil {
		s.logger.Warn("Ignoring malformed operation",
			"note_id", s.noteID,
			"type", op.Type,
			"error", err)
		content = s.content
	}

	var gapErr error
	if op.SequenceNumber > 0 {
		if s.synced && op.SequenceNumber > s.sequence+1 {
			gapErr = fmt.Errorf("%w: have %d, got %d", ErrSequenceGap, s.sequence, op.SequenceNumber)
		}
		s.sequence = op.SequenceNumber
	}

	s.content = content
	s.lastSyncedAt = s.now()

	return s.content, gapErr
}

// SetContent overwrites the content with an authoritative snapshot.
func (s *State) SetContent(content string, sequence int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.content = content
	s.sequence = sequence
	s.synced = true
	s.lastSyncedAt = s.now()
}

// Reset returns the state to empty and unsynced, as on channel teardown.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.content = ""
	s.sequence = 0
	s.synced = false
	s.lastSyncedAt = time.Time{}
}
