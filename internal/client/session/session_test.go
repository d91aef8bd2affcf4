package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notepad-sync/internal/client/api"
	"notepad-sync/internal/client/channel"
	"notepad-sync/internal/client/layout"
	"notepad-sync/internal/domain"
	"notepad-sync/internal/protocol"
)

type fakeConn struct {
	failed chan error
	closed chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written []protocol.Message
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case err := <-c.failed:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, msg)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sent(msgType protocol.MessageType) []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Message
	for _, msg := range c.written {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string) (channel.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{failed: make(chan error, 1), closed: make(chan struct{})}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

type fakeFetcher struct {
	note    *domain.NoteResponse
	window  *domain.WindowPosition
	members []domain.Member

	mu    sync.Mutex
	saved []domain.UpdateWindowPositionRequest
}

func (f *fakeFetcher) GetNote(ctx context.Context, token, noteID string) (*domain.NoteResponse, error) {
	if f.note == nil {
		return nil, api.ErrNotFound
	}
	return f.note, nil
}

func (f *fakeFetcher) GetPresence(ctx context.Context, token, noteID string) ([]domain.Member, error) {
	return f.members, nil
}

func (f *fakeFetcher) GetWindowPosition(ctx context.Context, token string) (*domain.WindowPosition, error) {
	if f.window == nil {
		return nil, api.ErrNotFound
	}
	return f.window, nil
}

func (f *fakeFetcher) SaveWindowPosition(ctx context.Context, token string, req domain.UpdateWindowPositionRequest) (*domain.WindowPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, req)
	return &domain.WindowPosition{X: req.X, Y: req.Y, Width: req.Width, Height: req.Height}, nil
}

func (f *fakeFetcher) savedPositions() []domain.UpdateWindowPositionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UpdateWindowPositionRequest(nil), f.saved...)
}

func slowPolicy() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Hour)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSession(t *testing.T, fetcher Fetcher) (*Session, *fakeDialer) {
	t.Helper()

	dialer := &fakeDialer{}
	s := New(Config{
		ServerURL:  "ws://example/ws",
		NoteID:     "shared",
		Token:      "tok",
		Identity:   domain.Identity{UserID: "me", Username: "Me"},
		Viewport:   layout.Viewport{Width: 100, Height: 40},
		TypingIdle: 20 * time.Millisecond,
	}, fetcher, nil, discardLogger(), channel.WithDialer(dialer), channel.WithReconnectPolicy(slowPolicy))

	return s, dialer
}

func startConnected(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	require.Eventually(t, func() bool { return s.State() == channel.Connected }, time.Second, 2*time.Millisecond)
}

func TestSession_SnapshotThenOperations(t *testing.T) {
	s, _ := newTestSession(t, nil)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "Hello", Sequence: 3, Initial: true})
	s.HandleEvent(protocol.OperationEvent{NoteID: "shared", Operation: domain.Operation{
		Type: domain.OperationInsert, Position: 5, Content: " world", SequenceNumber: 4,
	}})
	s.HandleEvent(protocol.OperationEvent{NoteID: "other", Operation: domain.Operation{
		Type: domain.OperationDelete, Position: 0, Length: 5, SequenceNumber: 5,
	}})

	assert.Equal(t, "Hello world", s.Document().Content())
	assert.Equal(t, int64(4), s.Document().Sequence())
}

func TestSession_DuplicateOperationAppliedOnce(t *testing.T) {
	s, _ := newTestSession(t, nil)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "", Sequence: 0, Initial: true})
	op := protocol.OperationEvent{NoteID: "shared", Operation: domain.Operation{
		Type: domain.OperationInsert, Position: 0, Content: "Hi", SequenceNumber: 1,
	}}
	s.HandleEvent(op)
	s.HandleEvent(op)

	assert.Equal(t, "Hi", s.Document().Content())
}

func TestSession_SequenceGapRequestsResync(t *testing.T) {
	s, dialer := newTestSession(t, nil)
	startConnected(t, s)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "abc", Sequence: 1, Initial: true})
	s.HandleEvent(protocol.OperationEvent{NoteID: "shared", Operation: domain.Operation{
		Type: domain.OperationInsert, Position: 3, Content: "d", SequenceNumber: 5,
	}})

	assert.Equal(t, "abcd", s.Document().Content())
	// one join on connect, one for the resync
	assert.Len(t, dialer.last().sent(protocol.TypeJoin), 2)
}

func TestSession_PresenceIgnoresSelf(t *testing.T) {
	s, _ := newTestSession(t, nil)

	s.HandleEvent(protocol.CursorEvent{NoteID: "shared", Cursor: domain.CollaboratorCursor{UserID: "me", Position: 1}})
	s.HandleEvent(protocol.CursorEvent{NoteID: "shared", Cursor: domain.CollaboratorCursor{UserID: "u2", Username: "Bo", Position: 4}})
	s.HandleEvent(protocol.TypingEvent{NoteID: "shared", Indicator: domain.TypingIndicator{UserID: "u2", IsTyping: true}})

	cursors := s.Presence().Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, "u2", cursors[0].UserID)
	assert.True(t, s.Presence().IsTyping("u2"))

	s.HandleEvent(protocol.CollaboratorLeftEvent{NoteID: "shared", UserID: "u2"})
	assert.Empty(t, s.Presence().Cursors())
	assert.False(t, s.Presence().IsTyping("u2"))
}

func TestSession_LocalEditPublishesWithoutApplying(t *testing.T) {
	s, dialer := newTestSession(t, nil)
	startConnected(t, s)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "Hello", Sequence: 1, Initial: true})

	require.NoError(t, s.LocalEdit("Hello", "Hello!", 6))

	assert.Equal(t, "Hello", s.Document().Content(), "document waits for the server echo")

	ops := dialer.last().sent(protocol.TypeOperation)
	require.Len(t, ops, 1)
	var payload protocol.OperationPayload
	require.NoError(t, ops[0].UnmarshalPayload(&payload))
	assert.Equal(t, "shared", payload.NoteID)
	assert.Equal(t, domain.OperationInsert, payload.Operation.Type)
	assert.Equal(t, 5, payload.Operation.Position)
	assert.Equal(t, "!", payload.Operation.Content)
	assert.Equal(t, "me", payload.Operation.UserID)
	assert.NotEmpty(t, payload.Operation.ID)

	cursors := dialer.last().sent(protocol.TypeCursor)
	require.Len(t, cursors, 1)
}

func TestSession_EchoAcknowledgesPendingOperation(t *testing.T) {
	s, dialer := newTestSession(t, nil)
	startConnected(t, s)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "", Sequence: 0, Initial: true})
	require.NoError(t, s.LocalEdit("", "a", 1))
	require.NoError(t, s.LocalEdit("a", "ab", 2))
	assert.Equal(t, 2, s.PendingOperations())

	ops := dialer.last().sent(protocol.TypeOperation)
	require.Len(t, ops, 2)
	var first protocol.OperationPayload
	require.NoError(t, ops[0].UnmarshalPayload(&first))

	echoed := first.Operation
	echoed.SequenceNumber = 1
	s.HandleEvent(protocol.OperationEvent{NoteID: "shared", Operation: echoed})
	assert.Equal(t, 1, s.PendingOperations())

	s.HandleEvent(protocol.OperationEvent{NoteID: "shared", Operation: domain.Operation{
		ID: "someone-else", Type: domain.OperationInsert, Content: "z", SequenceNumber: 2,
	}})
	assert.Equal(t, 1, s.PendingOperations(), "foreign operations do not acknowledge ours")

	dialer.last().failed <- errors.New("connection reset")
	require.Eventually(t, func() bool { return s.PendingOperations() == 0 }, time.Second, 2*time.Millisecond)
}

func TestSession_RejectionClearsPendingOperations(t *testing.T) {
	s, _ := newTestSession(t, nil)
	startConnected(t, s)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "", Sequence: 0, Initial: true})
	require.NoError(t, s.LocalEdit("", "a", 1))
	require.Equal(t, 1, s.PendingOperations())

	s.HandleEvent(protocol.ErrorEvent{Message: "invalid operation"})

	assert.Equal(t, 0, s.PendingOperations())
	assert.EqualError(t, s.LastError(), "invalid operation")
}

func TestSession_ReplacementPublishesDeleteThenInsert(t *testing.T) {
	s, dialer := newTestSession(t, nil)
	startConnected(t, s)

	require.NoError(t, s.LocalEdit("cat", "cut", 2))

	ops := dialer.last().sent(protocol.TypeOperation)
	require.Len(t, ops, 2)

	var first, second protocol.OperationPayload
	require.NoError(t, ops[0].UnmarshalPayload(&first))
	require.NoError(t, ops[1].UnmarshalPayload(&second))
	assert.Equal(t, domain.OperationDelete, first.Operation.Type)
	assert.Equal(t, domain.OperationInsert, second.Operation.Type)
	assert.Equal(t, "u", second.Operation.Content)
}

func TestSession_LocalEditWhileDisconnected(t *testing.T) {
	s, _ := newTestSession(t, nil)

	err := s.LocalEdit("", "a", 1)

	assert.ErrorIs(t, err, channel.ErrNotConnected)
}

func TestSession_TypingGoesIdle(t *testing.T) {
	s, dialer := newTestSession(t, nil)
	startConnected(t, s)

	require.NoError(t, s.LocalEdit("", "a", 1))
	require.NoError(t, s.LocalEdit("a", "ab", 2))

	require.Eventually(t, func() bool {
		return len(dialer.last().sent(protocol.TypeTyping)) == 2
	}, time.Second, 5*time.Millisecond)

	typing := dialer.last().sent(protocol.TypeTyping)
	var on, off protocol.TypingPayload
	require.NoError(t, typing[0].UnmarshalPayload(&on))
	require.NoError(t, typing[1].UnmarshalPayload(&off))
	assert.True(t, on.IsTyping)
	assert.False(t, off.IsTyping)
}

func TestSession_TransportErrorResetsAndFallsBack(t *testing.T) {
	fetcher := &fakeFetcher{note: &domain.NoteResponse{ID: "shared", Content: "from rest", Sequence: 9}}
	s, dialer := newTestSession(t, fetcher)
	startConnected(t, s)

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "live", Sequence: 2, Initial: true})
	s.HandleEvent(protocol.CursorEvent{Cursor: domain.CollaboratorCursor{UserID: "u2", Position: 1}})

	dialer.last().failed <- errors.New("connection reset")

	require.Eventually(t, func() bool { return s.Document().Content() == "from rest" }, time.Second, 2*time.Millisecond)
	assert.Empty(t, s.Presence().Cursors())
	assert.EqualError(t, s.LastError(), "connection reset")
	assert.Equal(t, channel.Disconnected, s.State())
}

func TestSession_StopClearsState(t *testing.T) {
	s, _ := newTestSession(t, nil)
	require.NoError(t, s.Start(context.Background()))

	s.HandleEvent(protocol.SyncEvent{NoteID: "shared", Content: "x", Sequence: 1, Initial: true})
	s.Stop()
	s.Stop()

	assert.Equal(t, "", s.Document().Content())
	assert.False(t, s.Document().Synced())
	assert.Equal(t, channel.Disconnected, s.State())
}

func TestSession_WindowRestore(t *testing.T) {
	fetcher := &fakeFetcher{window: &domain.WindowPosition{UserID: "me", X: 10, Y: 5, Width: 30, Height: 10}}
	s, _ := newTestSession(t, fetcher)
	startConnected(t, s)

	assert.Equal(t, 10, s.Layout().Position().X)

	s.HandleEvent(protocol.WindowEvent{Position: domain.WindowPosition{UserID: "someone", X: 50, Width: 30, Height: 10}})
	assert.Equal(t, 10, s.Layout().Position().X)

	s.HandleEvent(protocol.WindowEvent{Position: domain.WindowPosition{UserID: "me", X: 90, Width: 30, Height: 10}})
	assert.Equal(t, 70, s.Layout().Position().X)
}

func TestSession_RosterFetchedOnConnect(t *testing.T) {
	fetcher := &fakeFetcher{members: []domain.Member{
		{UserID: "me", Username: "Me"},
		{UserID: "u2", Username: "Bo"},
	}}
	s, _ := newTestSession(t, fetcher)
	startConnected(t, s)

	require.Eventually(t, func() bool { return len(s.Presence().Idle()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, "Bo", s.Presence().Idle()[0].Username)

	s.HandleEvent(protocol.CursorEvent{Cursor: domain.CollaboratorCursor{UserID: "u2", Username: "Bo", Position: 2}})
	assert.Empty(t, s.Presence().Idle(), "a member with a cursor is no longer idle")
}

func TestSession_WindowPositionSavedOverRESTWhileDisconnected(t *testing.T) {
	fetcher := &fakeFetcher{}
	s, dialer := newTestSession(t, fetcher)

	s.Layout().UpdateWindowPosition(context.Background(), 3, 4, 20, 10)

	require.Eventually(t, func() bool { return len(fetcher.savedPositions()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, domain.UpdateWindowPositionRequest{X: 3, Y: 4, Width: 20, Height: 10}, fetcher.savedPositions()[0])

	startConnected(t, s)
	s.Layout().UpdateWindowPosition(context.Background(), 5, 6, 20, 10)

	assert.Len(t, dialer.last().sent(protocol.TypeWindowPosition), 1)
	assert.Len(t, fetcher.savedPositions(), 1, "connected sessions publish over the channel")
}
