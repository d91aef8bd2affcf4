package service

import (
	"context"
	"errors"

	"notepad-sync/internal/domain"
	"notepad-sync/internal/protocol"
)

var (
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidGeometry  = errors.New("invalid window geometry")
)

// Broadcaster is the hub as seen by the services.
type Broadcaster interface {
	Broadcast(destination string, message *protocol.Message) error
	SendToClient(clientID, destination string, message *protocol.Message) error
}

// OperationPublisher receives every applied operation after it is sequenced.
type OperationPublisher interface {
	PublishApplied(ctx context.Context, applied *domain.AppliedOperation) error
}
