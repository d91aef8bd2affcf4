package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/middleware"
	"notepad-sync/internal/protocol"
	"notepad-sync/internal/service"
	"notepad-sync/internal/websocket"
	"notepad-sync/pkg/jwt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
)

// requestTimeout bounds the storage work done for one inbound command.
const requestTimeout = 10 * time.Second

type WebSocketHandler struct {
	manager   *websocket.Manager
	jwtSecret string
	upgrader  ws.Upgrader
}

func NewWebSocketHandler(manager *websocket.Manager, jwtSecret string, readBufferSize, writeBufferSize int) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		jwtSecret: jwtSecret,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBufferSize,
			WriteBufferSize: writeBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if token == "" {
		log.Printf("[WebSocket] Missing authorization token")
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	claims, err := jwt.ValidateToken(token, h.jwtSecret)
	if err != nil {
		log.Printf("[WebSocket] Token validation failed: %v", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	middleware.RecordUser(r, claims.UserID)

	username := claims.Username
	if username == "" {
		username = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WebSocket] Failed to upgrade connection: %v", err)
		return
	}

	client := websocket.NewClient(uuid.New().String(), claims.UserID, username, conn, h.manager)
	log.Printf("[WebSocket] Connection upgraded for user %s as client %s", claims.UserID, client.ID)

	if !h.manager.Admit(client) {
		conn.WriteControl(ws.CloseMessage,
			ws.FormatCloseMessage(ws.ClosePolicyViolation, "too many connections"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// WebSocketMessageHandler dispatches client commands to the services. It runs on the hub
// goroutine, so commands from all clients are handled one at a time.
type WebSocketMessageHandler struct {
	manager  *websocket.Manager
	notes    *service.NoteService
	presence *service.PresenceService
	windows  *service.WindowService
	validate *validator.Validate
}

func NewWebSocketMessageHandler(
	manager *websocket.Manager,
	notes *service.NoteService,
	presence *service.PresenceService,
	windows *service.WindowService,
) *WebSocketMessageHandler {
	return &WebSocketMessageHandler{
		manager:  manager,
		notes:    notes,
		presence: presence,
		windows:  windows,
		validate: validator.New(),
	}
}

func identityOf(client *websocket.Client) domain.Identity {
	return domain.Identity{UserID: client.UserID, Username: client.Username}
}

func (h *WebSocketMessageHandler) HandleWebSocketMessage(client *websocket.Client, msg *protocol.Message) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case protocol.TypeSubscribe:
		err = h.handleSubscribe(client, msg)
	case protocol.TypeJoin:
		err = h.handleJoin(ctx, client, msg)
	case protocol.TypeOperation:
		err = h.handleOperation(ctx, client, msg)
	case protocol.TypeCursor:
		err = h.handleCursor(ctx, client, msg)
	case protocol.TypeTyping:
		err = h.handleTyping(ctx, client, msg)
	case protocol.TypeWindowPosition:
		err = h.handleWindowPosition(ctx, client, msg)
	case protocol.TypePing:
		err = h.handlePing(client)
	default:
		log.Printf("[WebSocket] unknown message type %q from %s", msg.Type, client.ID)
		return nil
	}

	if err != nil && isClientError(err) {
		h.sendError(client, err)
		return nil
	}
	return err
}

func (h *WebSocketMessageHandler) HandleDisconnect(client *websocket.Client) {
	noteID := client.NoteID()
	if noteID == "" {
		return
	}
	if h.manager.NoteConnections(client.UserID, noteID) > 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := h.presence.Leave(ctx, identityOf(client), noteID); err != nil {
		log.Printf("[WebSocket] failed to end presence of %s on %s: %v", client.UserID, noteID, err)
	}
}

var errInvalidPayload = errors.New("invalid payload")

func isClientError(err error) bool {
	return errors.Is(err, errInvalidPayload) ||
		errors.Is(err, service.ErrInvalidOperation) ||
		errors.Is(err, service.ErrInvalidGeometry)
}

// decode unmarshals and validates a command payload.
func (h *WebSocketMessageHandler) decode(msg *protocol.Message, v interface{}) error {
	if err := msg.UnmarshalPayload(v); err != nil {
		return errors.Join(errInvalidPayload, err)
	}
	if err := h.validate.Struct(v); err != nil {
		return errors.Join(errInvalidPayload, err)
	}
	return nil
}

func (h *WebSocketMessageHandler) handleSubscribe(client *websocket.Client, msg *protocol.Message) error {
	var payload protocol.SubscribePayload
	if err := h.decode(msg, &payload); err != nil {
		return err
	}
	client.Subscribe(payload.Destinations...)
	return nil
}

func (h *WebSocketMessageHandler) handleJoin(ctx context.Context, client *websocket.Client, msg *protocol.Message) error {
	var payload protocol.JoinPayload
	if err := h.decode(msg, &payload); err != nil {
		return err
	}

	previous := client.NoteID()
	client.SetNoteID(payload.NoteID)
	if previous != "" && previous != payload.NoteID && h.manager.NoteConnections(client.UserID, previous) == 0 {
		if err := h.presence.Leave(ctx, identityOf(client), previous); err != nil {
			log.Printf("[WebSocket] failed to leave %s: %v", previous, err)
		}
	}

	if err := h.notes.Join(ctx, identityOf(client), client.ID, payload.NoteID); err != nil {
		return err
	}
	return h.presence.Join(ctx, identityOf(client), payload.NoteID)
}

func (h *WebSocketMessageHandler) handleOperation(ctx context.Context, client *websocket.Client, msg *protocol.Message) error {
	var payload protocol.OperationPayload
	if err := h.decode(msg, &payload); err != nil {
		return err
	}

	_, err := h.notes.Apply(ctx, identityOf(client), payload.NoteID, payload.Operation)
	return err
}

func (h *WebSocketMessageHandler) handleCursor(ctx context.Context, client *websocket.Client, msg *protocol.Message) error {
	var payload protocol.CursorPayload
	if err := h.decode(msg, &payload); err != nil {
		return err
	}
	return h.presence.Cursor(ctx, identityOf(client), payload.NoteID, payload.Position)
}

func (h *WebSocketMessageHandler) handleTyping(ctx context.Context, client *websocket.Client, msg *protocol.Message) error {
	var payload protocol.TypingPayload
	if err := h.decode(msg, &payload); err != nil {
		return err
	}
	return h.presence.Typing(ctx, identityOf(client), payload.NoteID, payload.IsTyping)
}

// handleWindowPosition stores the geometry and forwards it to the user's other sessions.
func (h *WebSocketMessageHandler) handleWindowPosition(ctx context.Context, client *websocket.Client, msg *protocol.Message) error {
	var payload protocol.WindowPositionPayload
	if err := h.decode(msg, &payload); err != nil {
		return err
	}

	pos, err := h.windows.Save(ctx, client.UserID, &domain.UpdateWindowPositionRequest{
		X:      payload.X,
		Y:      payload.Y,
		Width:  payload.Width,
		Height: payload.Height,
	})
	if err != nil {
		return err
	}

	out, err := protocol.NewMessage(protocol.EventWindowPosition, pos)
	if err != nil {
		return err
	}
	return h.manager.SendToUser(client.UserID, protocol.UserWindowPosition, out, client.ID)
}

func (h *WebSocketMessageHandler) handlePing(client *websocket.Client) error {
	pong, err := protocol.NewMessage(protocol.EventPong, nil)
	if err != nil {
		return err
	}
	return h.manager.SendToClient(client.ID, "", pong)
}

func (h *WebSocketMessageHandler) sendError(client *websocket.Client, cause error) {
	msg, err := protocol.NewMessage(protocol.EventError, protocol.ErrorPayload{Error: cause.Error()})
	if err != nil {
		return
	}
	if err := h.manager.SendToClient(client.ID, protocol.UserErrors, msg); err != nil {
		log.Printf("[WebSocket] failed to report error to %s: %v", client.ID, err)
	}
}
