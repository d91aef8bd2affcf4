package websocket

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Client struct {
	ID       string
	UserID   string
	Username string
	Conn     *websocket.Conn
	Manager  *Manager
	Send     chan []byte

	mu            sync.RWMutex
	noteID        string
	subscriptions map[string]bool
}

func NewClient(id, userID, username string, conn *websocket.Conn, manager *Manager) *Client {
	return &Client{
		ID:            id,
		UserID:        userID,
		Username:      username,
		Conn:          conn,
		Manager:       manager,
		Send:          make(chan []byte, 256),
		subscriptions: make(map[string]bool),
	}
}

// NoteID is the note this connection joined, empty before the first join.
func (c *Client) NoteID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.noteID
}

func (c *Client) SetNoteID(noteID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.noteID = noteID
}

func (c *Client) Subscribe(destinations ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range destinations {
		c.subscriptions[d] = true
	}
}

func (c *Client) IsSubscribed(destination string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[destination]
}

func (c *Client) ReadPump() {
	defer func() {
		c.Manager.Unregister <- c
		c.Conn.Close()
	}()

	if c.Manager.maxMessageSize > 0 {
		c.Conn.SetReadLimit(c.Manager.maxMessageSize)
	}
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WebSocket] read error for client %s: %v", c.ID, err)
			}
			break
		}

		c.Manager.HandleMessage <- &ClientMessage{
			Client:  c,
			Message: message,
		}
	}
}

// WritePump writes one message per frame; clients decode each frame as a single envelope.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.Manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
