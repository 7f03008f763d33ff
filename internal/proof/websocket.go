package proof

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// WebsocketTransport is a Transport over one websocket connection. A read
// pump feeds Messages and a write pump serializes sends and keepalives.
type WebsocketTransport struct {
	conn     *websocket.Conn
	send     chan []byte
	incoming chan []byte
	done     chan struct{}
	once     sync.Once
}

// DialWebsocket connects to the oracle at url.
func DialWebsocket(ctx context.Context, url string, handshakeTimeout time.Duration) (*WebsocketTransport, error) {
	dialer := *websocket.DefaultDialer
	if handshakeTimeout > 0 {
		dialer.HandshakeTimeout = handshakeTimeout
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", url, err)
	}
	return NewWebsocketTransport(conn), nil
}

// NewWebsocketTransport starts the pumps on an established connection.
func NewWebsocketTransport(conn *websocket.Conn) *WebsocketTransport {
	t := &WebsocketTransport{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		incoming: make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

// Send queues payload for the write pump.
func (t *WebsocketTransport) Send(ctx context.Context, payload []byte) error {
	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}
	select {
	case t.send <- payload:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns inbound text frames. It is closed when the connection ends.
func (t *WebsocketTransport) Messages() <-chan []byte {
	return t.incoming
}

// Close stops both pumps and closes the connection.
func (t *WebsocketTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}

func (t *WebsocketTransport) readPump() {
	defer func() {
		close(t.incoming)
		t.Close()
		t.conn.Close()
	}()

	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := t.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case t.incoming <- msg:
		case <-t.done:
			return
		}
	}
}

func (t *WebsocketTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.conn.Close()
	}()

	for {
		select {
		case msg := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.Close()
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				t.Close()
				return
			}
		case <-t.done:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
