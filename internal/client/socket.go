// Package client implements the CLI-side session client: a signaling socket
// to the relay plus the glue that drives the peer coordinator from relayed
// negotiation messages.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// Socket is the client end of the signaling connection. Writes are serialized
// with a mutex; reads belong to a single loop owned by the caller.
type Socket struct {
	conn *websocket.Conn
	mu   sync.Mutex
	once sync.Once
}

// Dial connects to the relay's signaling endpoint, passing the bearer token as
// a query parameter.
func Dial(ctx context.Context, serverURL, token string) (*Socket, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/api/ws"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial signaling server: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}
	return &Socket{conn: conn}, nil
}

func (s *Socket) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Read blocks for the next raw frame. Only one goroutine may call it.
func (s *Socket) Read() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *Socket) Close() {
	s.once.Do(func() {
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = s.conn.Close()
	})
}
