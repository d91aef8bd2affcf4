package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"notepad-sync/internal/protocol"
)

type admission struct {
	client   *Client
	accepted chan bool
}

type ClientMessage struct {
	Client  *Client
	Message []byte
}

// Manager is the hub: it owns every live connection and fans messages out by
// destination. Inbound messages are handled one at a time on the Run goroutine.
type Manager struct {
	clients        map[string]*Client
	userIndex      map[string]map[string]bool
	clientsMutex   sync.RWMutex
	register       chan admission
	Unregister     chan *Client
	HandleMessage  chan *ClientMessage
	maxConnPerUser int
	maxMessageSize int64
	writeWait      time.Duration
	pongWait       time.Duration
	pingPeriod     time.Duration
	messageHandler MessageHandler
}

type MessageHandler interface {
	HandleWebSocketMessage(client *Client, msg *protocol.Message) error
	// HandleDisconnect runs after the client has been removed from the hub.
	HandleDisconnect(client *Client)
}

func NewManager(maxConnPerUser int, maxMessageSize int64, writeWait, pongWait, pingPeriod time.Duration) *Manager {
	return &Manager{
		clients:        make(map[string]*Client),
		userIndex:      make(map[string]map[string]bool),
		register:       make(chan admission),
		Unregister:     make(chan *Client),
		HandleMessage:  make(chan *ClientMessage),
		maxConnPerUser: maxConnPerUser,
		maxMessageSize: maxMessageSize,
		writeWait:      writeWait,
		pongWait:       pongWait,
		pingPeriod:     pingPeriod,
	}
}

func (m *Manager) SetMessageHandler(handler MessageHandler) {
	m.messageHandler = handler
}

func (m *Manager) Run(ctx context.Context) {
	for {
		select {
		case a := <-m.register:
			a.accepted <- m.registerClient(a.client)

		case client := <-m.Unregister:
			if m.unregisterClient(client) && m.messageHandler != nil {
				m.messageHandler.HandleDisconnect(client)
			}

		case clientMsg := <-m.HandleMessage:
			m.processMessage(clientMsg)

		case <-ctx.Done():
			return
		}
	}
}

// Admit registers client with the hub and reports whether it was accepted. A rejected
// client is unknown to the hub, so its pumps must not be started.
func (m *Manager) Admit(client *Client) bool {
	a := admission{client: client, accepted: make(chan bool, 1)}
	m.register <- a
	return <-a.accepted
}

func (m *Manager) registerClient(client *Client) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if m.maxConnPerUser > 0 && len(m.userIndex[client.UserID]) >= m.maxConnPerUser {
		log.Printf("[WebSocket] max connections reached for user %s", client.UserID)
		return false
	}

	if m.userIndex[client.UserID] == nil {
		m.userIndex[client.UserID] = make(map[string]bool)
	}
	m.clients[client.ID] = client
	m.userIndex[client.UserID][client.ID] = true

	log.Printf("[WebSocket] client registered: %s (user: %s)", client.ID, client.UserID)
	return true
}

func (m *Manager) unregisterClient(client *Client) bool {
	m.clientsMutex.Lock()
	defer m.clientsMutex.Unlock()

	if _, ok := m.clients[client.ID]; !ok {
		return false
	}

	delete(m.clients, client.ID)
	delete(m.userIndex[client.UserID], client.ID)

	if len(m.userIndex[client.UserID]) == 0 {
		delete(m.userIndex, client.UserID)
	}

	close(client.Send)
	log.Printf("[WebSocket] client unregistered: %s", client.ID)
	return true
}

func (m *Manager) processMessage(clientMsg *ClientMessage) {
	m.clientsMutex.RLock()
	_, known := m.clients[clientMsg.Client.ID]
	m.clientsMutex.RUnlock()
	if !known {
		log.Printf("[WebSocket] dropping message from unregistered client %s", clientMsg.Client.ID)
		return
	}

	var msg protocol.Message
	if err := json.Unmarshal(clientMsg.Message, &msg); err != nil {
		log.Printf("[WebSocket] error unmarshaling message from %s: %v", clientMsg.Client.ID, err)
		return
	}

	if m.messageHandler != nil {
		if err := m.messageHandler.HandleWebSocketMessage(clientMsg.Client, &msg); err != nil {
			log.Printf("[WebSocket] error handling %s message: %v", msg.Type, err)
		}
	}
}

// Broadcast delivers message to every client subscribed to destination, the sender
// included.
func (m *Manager) Broadcast(destination string, message *protocol.Message) error {
	messageBytes, err := json.Marshal(message.To(destination))
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for _, client := range m.clients {
		if client.IsSubscribed(destination) {
			m.deliver(client, messageBytes)
		}
	}

	return nil
}

// SendToClient delivers a unicast message to one connection.
func (m *Manager) SendToClient(clientID, destination string, message *protocol.Message) error {
	messageBytes, err := json.Marshal(message.To(destination))
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	client, exists := m.clients[clientID]
	if !exists {
		return nil
	}

	m.deliver(client, messageBytes)
	return nil
}

// SendToUser delivers message to every connection of userID subscribed to destination,
// skipping the connection named by except.
func (m *Manager) SendToUser(userID, destination string, message *protocol.Message, except string) error {
	messageBytes, err := json.Marshal(message.To(destination))
	if err != nil {
		return err
	}

	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	for clientID := range m.userIndex[userID] {
		client := m.clients[clientID]
		if clientID == except || !client.IsSubscribed(destination) {
			continue
		}
		m.deliver(client, messageBytes)
	}
	return nil
}

// deliver never blocks the hub; a client that cannot keep up is disconnected and its
// read pump unregisters it. Caller holds clientsMutex.
func (m *Manager) deliver(client *Client, messageBytes []byte) {
	select {
	case client.Send <- messageBytes:
	default:
		log.Printf("[WebSocket] client %s send buffer full, closing connection", client.ID)
		if client.Conn != nil {
			client.Conn.Close()
		}
	}
}

// NoteConnections counts live connections of userID that joined noteID.
func (m *Manager) NoteConnections(userID, noteID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	count := 0
	for clientID := range m.userIndex[userID] {
		if m.clients[clientID].NoteID() == noteID {
			count++
		}
	}
	return count
}

func (m *Manager) GetUserConnections(userID string) int {
	m.clientsMutex.RLock()
	defer m.clientsMutex.RUnlock()

	if clients, exists := m.userIndex[userID]; exists {
		return len(clients)
	}
	return 0
}
