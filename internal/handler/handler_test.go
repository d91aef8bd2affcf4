package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notepad-sync/internal/client/api"
	"notepad-sync/internal/client/layout"
	"notepad-sync/internal/client/session"
	"notepad-sync/internal/domain"
	"notepad-sync/internal/presence"
	"notepad-sync/internal/protocol"
	"notepad-sync/internal/repository"
	"notepad-sync/internal/service"
	"notepad-sync/internal/websocket"
	"notepad-sync/pkg/jwt"
)

const testSecret = "test-secret"

type memoryNoteRepo struct {
	mu    sync.Mutex
	notes map[string]domain.Note
}

func (r *memoryNoteRepo) FindByID(ctx context.Context, id string) (*domain.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	if !ok {
		return nil, repository.ErrNoteNotFound
	}
	return &n, nil
}

func (r *memoryNoteRepo) Save(ctx context.Context, note *domain.Note) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes[note.ID] = *note
	return nil
}

type memoryOpRepo struct {
	mu  sync.Mutex
	ops []domain.AppliedOperation
}

func (r *memoryOpRepo) Append(ctx context.Context, applied *domain.AppliedOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, *applied)
	return nil
}

func (r *memoryOpRepo) ListSince(ctx context.Context, noteID string, afterSequence int64, limit int) ([]domain.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Operation
	for _, a := range r.ops {
		if a.NoteID == noteID && a.Operation.SequenceNumber > afterSequence {
			out = append(out, a.Operation)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type memoryWindowRepo struct {
	mu        sync.Mutex
	positions map[string]domain.WindowPosition
}

func (r *memoryWindowRepo) FindByUserID(ctx context.Context, userID string) (*domain.WindowPosition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[userID]
	if !ok {
		return nil, repository.ErrWindowPositionNotFound
	}
	return &p, nil
}

func (r *memoryWindowRepo) Save(ctx context.Context, pos *domain.WindowPosition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions[pos.UserID] = *pos
	return nil
}

type testServer struct {
	*httptest.Server
	notes   *memoryNoteRepo
	windows *memoryWindowRepo
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newLimitedTestServer(t, 0)
}

func newLimitedTestServer(t *testing.T, maxConnPerUser int) *testServer {
	t.Helper()

	notes := &memoryNoteRepo{notes: make(map[string]domain.Note)}
	windows := &memoryWindowRepo{positions: make(map[string]domain.WindowPosition)}
	hub := websocket.NewManager(maxConnPerUser, 1<<20, time.Second, time.Minute, 54*time.Second)

	noteService := service.NewNoteService(notes, &memoryOpRepo{}, windows, hub, nil)
	presenceService := service.NewPresenceService(presence.NewMemoryRegistry(), hub, time.Minute)
	windowService := service.NewWindowService(windows)

	router := NewRouter(RouterConfig{
		JWTSecret:      testSecret,
		DefaultNoteID:  domain.DefaultNoteID,
		AllowedOrigins: "*",
		AllowedMethods: "GET,PUT,OPTIONS",
		AllowedHeaders: "Authorization,Content-Type",
	}, hub, noteService, presenceService, windowService)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testServer{Server: srv, notes: notes, windows: windows}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

func token(t *testing.T, userID, username string) string {
	t.Helper()
	tok, err := jwt.GenerateUserToken(userID, username, time.Hour, testSecret)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, method, path, tok string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func newSession(t *testing.T, srv *testServer, userID, username string) *session.Session {
	t.Helper()

	tok := token(t, userID, username)
	s := session.New(session.Config{
		ServerURL:  srv.wsURL(),
		NoteID:     domain.DefaultNoteID,
		Token:      tok,
		Identity:   domain.Identity{UserID: userID, Username: username},
		Viewport:   layout.Viewport{Width: 100, Height: 40},
		TypingIdle: 500 * time.Millisecond,
	}, api.NewClient(srv.URL), nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s
}

func waitSynced(t *testing.T, s *session.Session) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Document().Synced()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCollaborativeEditing(t *testing.T) {
	srv := newTestServer(t)

	ana := newSession(t, srv, "u1", "Ana")
	bo := newSession(t, srv, "u2", "Bo")
	waitSynced(t, ana)
	waitSynced(t, bo)

	require.NoError(t, ana.LocalEdit("", "Hi", 2))

	for _, s := range []*session.Session{ana, bo} {
		s := s
		require.Eventually(t, func() bool {
			return s.Document().Content() == "Hi"
		}, 2*time.Second, 10*time.Millisecond)
	}
	assert.Equal(t, int64(1), bo.Document().Sequence())

	require.Eventually(t, func() bool {
		for _, c := range bo.Presence().Cursors() {
			if c.UserID == "u1" && c.Position == 2 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return bo.Presence().IsTyping("u1")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, bo.LocalEdit("Hi", "Hi!", 3))
	require.Eventually(t, func() bool {
		return ana.Document().Content() == "Hi!"
	}, 2*time.Second, 10*time.Millisecond)

	stored, err := srv.notes.FindByID(context.Background(), domain.DefaultNoteID)
	require.NoError(t, err)
	assert.Equal(t, "Hi!", stored.Content)
}

func TestLateJoinerGetsSnapshot(t *testing.T) {
	srv := newTestServer(t)
	srv.notes.notes[domain.DefaultNoteID] = domain.Note{ID: domain.DefaultNoteID, Content: "already here", Sequence: 7}

	late := newSession(t, srv, "u3", "Cy")
	waitSynced(t, late)

	assert.Equal(t, "already here", late.Document().Content())
	assert.Equal(t, int64(7), late.Document().Sequence())
}

func TestWindowPositionRestoredAcrossSessions(t *testing.T) {
	srv := newTestServer(t)

	first := newSession(t, srv, "u1", "Ana")
	waitSynced(t, first)
	first.Layout().UpdateWindowPosition(context.Background(), 12, 3, 40, 10)

	require.Eventually(t, func() bool {
		_, err := srv.windows.FindByUserID(context.Background(), "u1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	second := newSession(t, srv, "u1", "Ana")
	require.Eventually(t, func() bool {
		pos := second.Layout().Position()
		return pos.X == 12 && pos.Y == 3 && pos.Width == 40 && pos.Height == 10
	}, 2*time.Second, 10*time.Millisecond)
}

func readUntil(t *testing.T, conn *ws.Conn, want protocol.MessageType) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg protocol.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg.Type == want {
			return msg
		}
	}
}

func TestWebSocketCommands(t *testing.T) {
	srv := newTestServer(t)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, "u1", "Ana"))
	conn, _, err := ws.DefaultDialer.Dial(srv.wsURL(), header)
	require.NoError(t, err)
	defer conn.Close()

	send := func(msgType protocol.MessageType, payload interface{}) {
		data, err := protocol.Encode(msgType, "", payload)
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(ws.TextMessage, data))
	}

	send(protocol.TypePing, nil)
	readUntil(t, conn, protocol.EventPong)

	send(protocol.TypeOperation, protocol.OperationPayload{})
	errMsg := readUntil(t, conn, protocol.EventError)
	assert.Equal(t, protocol.UserErrors, errMsg.Destination)

	send(protocol.TypeOperation, protocol.OperationPayload{NoteID: "n1", Operation: domain.Operation{Type: "BOLD"}})
	errMsg = readUntil(t, conn, protocol.EventError)
	var payload protocol.ErrorPayload
	require.NoError(t, errMsg.UnmarshalPayload(&payload))
	assert.Contains(t, payload.Error, "invalid operation")

	send(protocol.TypeSubscribe, protocol.SubscribePayload{Destinations: protocol.NoteDestinations("n1")})
	send(protocol.TypeJoin, protocol.JoinPayload{NoteID: "n1"})
	initial := readUntil(t, conn, protocol.EventInitialContent)
	assert.Equal(t, protocol.UserInitialContent, initial.Destination)

	send(protocol.TypeOperation, protocol.OperationPayload{NoteID: "n1", Operation: domain.Operation{Type: domain.OperationInsert, Content: "ok"}})
	op := readUntil(t, conn, protocol.EventOperation)
	var opPayload protocol.OperationPayload
	require.NoError(t, op.UnmarshalPayload(&opPayload))
	assert.Equal(t, int64(1), opPayload.Operation.SequenceNumber)
	assert.Equal(t, "u1", opPayload.Operation.UserID)
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	srv := newTestServer(t)

	_, resp, err := ws.DefaultDialer.Dial(srv.wsURL()+"?token=garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = ws.DefaultDialer.Dial(srv.wsURL(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketConnectionLimitClosesExtraConnection(t *testing.T) {
	srv := newLimitedTestServer(t, 1)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token(t, "u1", "Ana"))
	first, _, err := ws.DefaultDialer.Dial(srv.wsURL(), header)
	require.NoError(t, err)
	defer first.Close()

	ping, err := protocol.Encode(protocol.TypePing, "", nil)
	require.NoError(t, err)
	require.NoError(t, first.WriteMessage(ws.TextMessage, ping))
	readUntil(t, first, protocol.EventPong)

	second, _, err := ws.DefaultDialer.Dial(srv.wsURL(), header)
	require.NoError(t, err)
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = second.ReadMessage()
	assert.True(t, ws.IsCloseError(err, ws.ClosePolicyViolation), "got %v", err)

	require.NoError(t, first.WriteMessage(ws.TextMessage, ping))
	readUntil(t, first, protocol.EventPong)
}

func TestRESTEndpoints(t *testing.T) {
	srv := newTestServer(t)
	srv.notes.notes["n1"] = domain.Note{ID: "n1", Content: "hello", Sequence: 3}
	tok := token(t, "u1", "Ana")

	resp, _ := srv.do(t, http.MethodGet, "/api/v1/notes/n1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := srv.do(t, http.MethodGet, "/api/v1/notes/n1", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var note struct {
		Data domain.NoteResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &note))
	assert.Equal(t, "hello", note.Data.Content)
	assert.Equal(t, int64(3), note.Data.Sequence)

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/window-position", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPut, "/api/v1/window-position", tok, domain.UpdateWindowPositionRequest{X: -3, Width: 10, Height: 10})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = srv.do(t, http.MethodPut, "/api/v1/window-position", tok, domain.UpdateWindowPositionRequest{X: 5, Y: 6, Width: 30, Height: 20})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/window-position", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pos struct {
		Data domain.WindowPosition `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &pos))
	assert.Equal(t, 30, pos.Data.Width)
	assert.Equal(t, "u1", pos.Data.UserID)

	resp, _ = srv.do(t, http.MethodGet, "/api/v1/notes/n1/operations?since=-1", tok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/notes/n1/presence", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"success":true`)

	resp, body = srv.do(t, http.MethodGet, "/api/v1/users/me", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		Data meResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &me))
	assert.Equal(t, "Ana", me.Data.Username)
	assert.Equal(t, 0, me.Data.Connections)

	resp, body = srv.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}

func TestRESTFallbackClient(t *testing.T) {
	srv := newTestServer(t)
	srv.notes.notes["n1"] = domain.Note{ID: "n1", Content: "from rest", Sequence: 2}

	client := api.NewClient(srv.URL)
	note, err := client.GetNote(context.Background(), token(t, "u1", "Ana"), "n1")
	require.NoError(t, err)
	assert.Equal(t, "from rest", note.Content)

	_, err = client.GetWindowPosition(context.Background(), token(t, "u1", "Ana"))
	assert.ErrorIs(t, err, api.ErrNotFound)
}
