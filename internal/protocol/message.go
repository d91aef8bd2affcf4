package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"notepad-sync/internal/domain"
)

type MessageType string

// Commands sent by clients.
const (
	TypeSubscribe      MessageType = "subscribe"
	TypeJoin           MessageType = "join"
	TypeOperation      MessageType = "operation"
	TypeCursor         MessageType = "cursor"
	TypeTyping         MessageType = "typing"
	TypeWindowPosition MessageType = "window_position"
	TypePing           MessageType = "ping"
)

// Events sent by the server.
const (
	EventOperation        MessageType = "OPERATION"
	EventCursorPosition   MessageType = "CURSOR_POSITION"
	EventTypingStatus     MessageType = "TYPING_STATUS"
	EventContentSync      MessageType = "CONTENT_SYNC"
	EventInitialContent   MessageType = "INITIAL_CONTENT"
	EventWindowPosition   MessageType = "WINDOW_POSITION"
	EventCollaboratorLeft MessageType = "COLLABORATOR_LEFT"
	EventPong             MessageType = "pong"
	EventError            MessageType = "error"
)

var (
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedMessage   = errors.New("malformed message")
)

type Message struct {
	Type        MessageType     `json:"type"`
	Destination string          `json:"destination,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type SubscribePayload struct {
	Destinations []string `json:"destinations" validate:"required,min=1,dive,required"`
}

type JoinPayload struct {
	NoteID string `json:"note_id" validate:"required"`
}

type OperationPayload struct {
	NoteID    string           `json:"note_id" validate:"required"`
	Operation domain.Operation `json:"operation"`
}

type CursorPayload struct {
	NoteID   string `json:"note_id" validate:"required"`
	Position int    `json:"position" validate:"gte=0"`
}

type TypingPayload struct {
	NoteID   string `json:"note_id" validate:"required"`
	IsTyping bool   `json:"is_typing"`
}

type WindowPositionPayload struct {
	X      int `json:"x_position" validate:"gte=0"`
	Y      int `json:"y_position" validate:"gte=0"`
	Width  int `json:"width" validate:"required,gt=0"`
	Height int `json:"height" validate:"required,gt=0"`
}

type CursorEventPayload struct {
	NoteID string                    `json:"note_id"`
	Cursor domain.CollaboratorCursor `json:"cursor"`
}

type TypingEventPayload struct {
	NoteID    string                 `json:"note_id"`
	Indicator domain.TypingIndicator `json:"indicator"`
}

type ContentPayload struct {
	NoteID   string `json:"note_id"`
	Content  string `json:"content"`
	Sequence int64  `json:"sequence"`
}

type CollaboratorLeftPayload struct {
	NoteID   string `json:"note_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

// To sets the destination the message is addressed to and returns the message.
func (m *Message) To(destination string) *Message {
	m.Destination = destination
	return m
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

func Encode(msgType MessageType, destination string, payload interface{}) ([]byte, error) {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s message: %w", msgType, err)
	}
	return json.Marshal(msg.To(destination))
}
