package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Dial opens a client websocket to a world server. Buffer sizes match
// the accept side; the caller owns the handshake and deadlines.
func Dial(ctx context.Context, url string) (*websocket.Conn, error) {
	d := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}
	conn, _, err := d.DialContext(ctx, url, nil)
	return conn, err
}
