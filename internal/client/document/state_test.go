package document

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notepad-sync/internal/domain"
)

func newTestState() *State {
	return NewState(domain.DefaultNoteID, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestState_ApplyOperation(t *testing.T) {
	tests := []struct {
		name    string
		initial string
		op      domain.Operation
		want    string
	}{
		{
			name:    "insert at start",
			initial: "",
			op:      domain.Operation{Type: domain.OperationInsert, Position: 0, Content: "Hi", SequenceNumber: 1},
			want:    "Hi",
		},
		{
			name:    "position beyond length clamps to end",
			initial: "abc",
			op:      domain.Operation{Type: domain.OperationInsert, Position: 42, Content: "!", SequenceNumber: 1},
			want:    "abc!",
		},
		{
			name:    "delete longer than remaining clamps",
			initial: "abcdef",
			op:      domain.Operation{Type: domain.OperationDelete, Position: 4, Length: 50, SequenceNumber: 1},
			want:    "abcd",
		},
		{
			name:    "malformed type is a no-op",
			initial: "abc",
			op:      domain.Operation{Type: "UPSERT", Position: 0, Content: "x", SequenceNumber: 1},
			want:    "abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestState()
			s.SetContent(tt.initial, 0)

			got, err := s.ApplyOperation(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, s.Content())
		})
	}
}

func TestState_IdempotentPerSequence(t *testing.T) {
	s := newTestState()
	s.SetContent("", 0)

	ops := []domain.Operation{
		{Type: domain.OperationInsert, Position: 0, Content: "Hello", SequenceNumber: 1},
		{Type: domain.OperationInsert, Position: 5, Content: " you", SequenceNumber: 2},
		{Type: domain.OperationDelete, Position: 0, Length: 1, SequenceNumber: 3},
	}

	for _, op := range ops {
		_, err := s.ApplyOperation(op)
		require.NoError(t, err)
	}
	assert.Equal(t, "ello you", s.Content())

	for _, op := range ops {
		_, err := s.ApplyOperation(op)
		require.NoError(t, err)
	}
	assert.Equal(t, "ello you", s.Content())
	assert.Equal(t, int64(3), s.Sequence())
}

func TestState_SequenceGap(t *testing.T) {
	s := newTestState()
	s.SetContent("abc", 4)

	got, err := s.ApplyOperation(domain.Operation{Type: domain.OperationInsert, Position: 3, Content: "d", SequenceNumber: 7})
	require.ErrorIs(t, err, ErrSequenceGap)
	assert.Equal(t, "abcd", got)
	assert.Equal(t, int64(7), s.Sequence())
}

func TestState_UnsequencedOperationsAlwaysApply(t *testing.T) {
	s := newTestState()

	_, err := s.ApplyOperation(domain.Operation{Type: domain.OperationInsert, Position: 0, Content: "a"})
	require.NoError(t, err)
	_, err = s.ApplyOperation(domain.Operation{Type: domain.OperationInsert, Position: 0, Content: "a"})
	require.NoError(t, err)

	assert.Equal(t, "aa", s.Content())
	assert.Equal(t, int64(0), s.Sequence())
}

func TestState_SetContentAndReset(t *testing.T) {
	s := newTestState()
	assert.False(t, s.Synced())

	s.SetContent("snapshot", 12)
	assert.True(t, s.Synced())
	assert.Equal(t, "snapshot", s.Content())
	assert.Equal(t, int64(12), s.Sequence())
	assert.False(t, s.LastSyncedAt().IsZero())

	s.Reset()
	assert.False(t, s.Synced())
	assert.Equal(t, "", s.Content())
	assert.Equal(t, int64(0), s.Sequence())
	assert.True(t, s.LastSyncedAt().IsZero())
}
