package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebsocketDialer opens the voice channel as a websocket.
type WebsocketDialer struct {
	URL string
	// Secret returns the bearer credential for the channel, typically an
	// ephemeral session secret. It may be nil.
	Secret func(ctx context.Context) (string, error)
	// Header is sent with the handshake in addition to the credential.
	Header http.Header
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context) (Channel, error) {
	h := d.Header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if d.Secret != nil {
		secret, err := d.Secret(ctx)
		if err != nil {
			return nil, fmt.Errorf("session secret: %w", err)
		}
		h.Set("Authorization", "Bearer "+secret)
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	conn, resp, err := dialer.DialContext(ctx, d.URL, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return NewWebsocketChannel(conn), nil
}

// WebsocketChannel adapts a websocket connection to Channel. Writes are
// serialized since the connection supports one concurrent writer.
type WebsocketChannel struct {
	conn *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
}

// NewWebsocketChannel wraps conn.
func NewWebsocketChannel(conn *websocket.Conn) *WebsocketChannel {
	return &WebsocketChannel{conn: conn}
}

// ReadMessage implements Channel.
func (c *WebsocketChannel) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil, io.EOF
	}
	return data, err
}

// WriteMessage implements Channel.
func (c *WebsocketChannel) WriteMessage(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection. It is idempotent.
func (c *WebsocketChannel) Close() error {
	var err error
	c.once.Do(func() {
		// Best effort: the peer may already be gone.
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
