package protocol

import (
	"encoding/json"
	"fmt"

	"notepad-sync/internal/domain"
)

// Event is one inbound server message. The set of implementations is closed; callers
// switch on the concrete type.
type Event interface {
	EventType() MessageType
}

type OperationEvent struct {
	NoteID    string
	Operation domain.Operation
}

type CursorEvent struct {
	NoteID string
	Cursor domain.CollaboratorCursor
}

type TypingEvent struct {
	NoteID    string
	Indicator domain.TypingIndicator
}

// SyncEvent carries an authoritative snapshot. Initial is set when it was the unicast
// answer to this session's join rather than a broadcast resync.
type SyncEvent struct {
	NoteID   string
	Content  string
	Sequence int64
	Initial  bool
}

type WindowEvent struct {
	Position domain.WindowPosition
}

type CollaboratorLeftEvent struct {
	NoteID   string
	UserID   string
	Username string
}

type PongEvent struct{}

type ErrorEvent struct {
	Message string
}

func (OperationEvent) EventType() MessageType { return EventOperation }
func (CursorEvent) EventType() MessageType    { return EventCursorPosition }
func (TypingEvent) EventType() MessageType    { return EventTypingStatus }
func (e SyncEvent) EventType() MessageType {
	if e.Initial {
		return EventInitialContent
	}
	return EventContentSync
}
func (WindowEvent) EventType() MessageType           { return EventWindowPosition }
func (CollaboratorLeftEvent) EventType() MessageType { return EventCollaboratorLeft }
func (PongEvent) EventType() MessageType             { return EventPong }
func (ErrorEvent) EventType() MessageType            { return EventError }

// DecodeEvent parses one server message. Unknown discriminators return
// ErrUnknownMessageType, unparseable input returns ErrMalformedMessage.
func DecodeEvent(data []byte) (Event, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.Type {
	case EventOperation:
		var p OperationPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return OperationEvent{NoteID: p.NoteID, Operation: p.Operation}, nil

	case EventCursorPosition:
		var p CursorEventPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return CursorEvent{NoteID: p.NoteID, Cursor: p.Cursor}, nil

	case EventTypingStatus:
		var p TypingEventPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return TypingEvent{NoteID: p.NoteID, Indicator: p.Indicator}, nil

	case EventContentSync, EventInitialContent:
		var p ContentPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return SyncEvent{
			NoteID:   p.NoteID,
			Content:  p.Content,
			Sequence: p.Sequence,
			Initial:  msg.Type == EventInitialContent,
		}, nil

	case EventWindowPosition:
		var p domain.WindowPosition
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return WindowEvent{Position: p}, nil

	case EventCollaboratorLeft:
		var p CollaboratorLeftPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return CollaboratorLeftEvent{NoteID: p.NoteID, UserID: p.UserID, Username: p.Username}, nil

	case EventPong:
		return PongEvent{}, nil

	case EventError:
		var p ErrorPayload
		if err := decodePayload(&msg, &p); err != nil {
			return nil, err
		}
		return ErrorEvent{Message: p.Error}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
}

func decodePayload(msg *Message, v interface{}) error {
	if err := msg.UnmarshalPayload(v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedMessage, msg.Type, err)
	}
	return nil
}
