package channel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of a websocket connection the manager needs. *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens one authenticated connection.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket and sends the token as a bearer header
// on the upgrade request.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// deadlineConn is the optional part of Conn used to notice a server that went silent.
// *websocket.Conn satisfies it.
type deadlineConn interface {
	SetReadDeadline(t time.Time) error
}

// pingConn lets the manager answer server pings itself so each ping also extends the
// read deadline.
type pingConn interface {
	SetPingHandler(h func(appData string) error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
}

const pongWriteWait = 10 * time.Second

// armLiveness sets the first read deadline on conn and returns the func that pushes it
// out again. Without a window, or on a conn without deadlines, the returned func is a
// no-op.
func armLiveness(conn Conn, window time.Duration) func() {
	dc, ok := conn.(deadlineConn)
	if window <= 0 || !ok {
		return func() {}
	}
	extend := func() { dc.SetReadDeadline(time.Now().Add(window)) }

	if pc, ok := conn.(pingConn); ok {
		pc.SetPingHandler(func(appData string) error {
			extend()
			err := pc.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(pongWriteWait))
			if errors.Is(err, websocket.ErrCloseSent) || isTimeout(err) {
				return nil
			}
			return err
		})
	}

	extend()
	return extend
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
