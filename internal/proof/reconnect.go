package proof

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultMinRedial = 500 * time.Millisecond
	defaultMaxRedial = 30 * time.Second
)

// Resetter is implemented by transports that can lose and regain their
// connection. A value on Resets means requests sent before it will never
// be answered.
type Resetter interface {
	Resets() <-chan struct{}
}

// ReconnectingTransport keeps a websocket to the oracle open, redialing with
// exponential backoff whenever the connection drops. Messages stays open
// across reconnects and is closed only by Close.
type ReconnectingTransport struct {
	dial   func(ctx context.Context) (*WebsocketTransport, error)
	logger Logger

	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.RWMutex
	current *WebsocketTransport

	incoming chan []byte
	resets   chan struct{}
	ctx      context.Context
	cancel   context.CancelFunc
}

// RedialOption configures a ReconnectingTransport.
type RedialOption func(*ReconnectingTransport)

// WithRedialBackoff bounds the wait between redial attempts.
func WithRedialBackoff(first, limit time.Duration) RedialOption {
	return func(t *ReconnectingTransport) {
		if first > 0 {
			t.minBackoff = first
		}
		if limit >= t.minBackoff {
			t.maxBackoff = limit
		}
	}
}

// DialReconnecting connects to the oracle at url. The first dial must
// succeed; later drops are redialed until Close.
func DialReconnecting(ctx context.Context, url string, handshakeTimeout time.Duration, logger Logger, opts ...RedialOption) (*ReconnectingTransport, error) {
	dial := func(ctx context.Context) (*WebsocketTransport, error) {
		return DialWebsocket(ctx, url, handshakeTimeout)
	}
	first, err := dial(ctx)
	if err != nil {
		return nil, err
	}
	return newReconnectingTransport(first, dial, logger, opts...), nil
}

func newReconnectingTransport(first *WebsocketTransport, dial func(context.Context) (*WebsocketTransport, error), logger Logger, opts ...RedialOption) *ReconnectingTransport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &ReconnectingTransport{
		dial:       dial,
		logger:     logger,
		minBackoff: defaultMinRedial,
		maxBackoff: defaultMaxRedial,
		current:    first,
		incoming:   make(chan []byte, sendBuffer),
		resets:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.run(first)
	return t
}

// Send writes payload on the live connection. While redialing it fails
// with ErrDisconnected.
func (t *ReconnectingTransport) Send(ctx context.Context, payload []byte) error {
	if t.ctx.Err() != nil {
		return ErrTransportClosed
	}
	t.mu.RLock()
	cur := t.current
	t.mu.RUnlock()
	if cur == nil {
		return ErrDisconnected
	}
	err := cur.Send(ctx, payload)
	if errors.Is(err, ErrTransportClosed) && t.ctx.Err() == nil {
		return ErrDisconnected
	}
	return err
}

// Messages returns inbound frames from every connection in turn.
func (t *ReconnectingTransport) Messages() <-chan []byte {
	return t.incoming
}

// Resets signals each dropped connection.
func (t *ReconnectingTransport) Resets() <-chan struct{} {
	return t.resets
}

// Connected reports whether a connection is currently up.
func (t *ReconnectingTransport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current != nil
}

// Close stops redialing and closes the live connection.
func (t *ReconnectingTransport) Close() error {
	t.cancel()
	t.mu.Lock()
	cur := t.current
	t.current = nil
	t.mu.Unlock()
	if cur != nil {
		return cur.Close()
	}
	return nil
}

func (t *ReconnectingTransport) run(conn *WebsocketTransport) {
	defer close(t.incoming)
	for conn != nil {
		t.forward(conn)
		_ = conn.Close()
		if t.ctx.Err() != nil {
			return
		}

		t.mu.Lock()
		t.current = nil
		t.mu.Unlock()
		select {
		case t.resets <- struct{}{}:
		default:
		}
		t.logger.Warn("proof oracle connection lost, redialing")

		conn = t.redial()
		if conn == nil {
			return
		}
		t.mu.Lock()
		if t.ctx.Err() != nil {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.current = conn
		t.mu.Unlock()
		t.logger.Warn("proof oracle connection restored")
	}
}

func (t *ReconnectingTransport) forward(conn *WebsocketTransport) {
	msgs := conn.Messages()
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case t.incoming <- msg:
			case <-t.ctx.Done():
				return
			}
		}
	}
}

// redial retries until a dial succeeds or the transport is closed.
func (t *ReconnectingTransport) redial() *WebsocketTransport {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.minBackoff
	policy.MaxInterval = t.maxBackoff
	policy.MaxElapsedTime = 0

	var conn *WebsocketTransport
	err := backoff.RetryNotify(func() error {
		c, err := t.dial(t.ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, backoff.WithContext(policy, t.ctx), func(err error, next time.Duration) {
		t.logger.Warn("proof oracle redial failed", "error", err, "retry_in", next)
	})
	if err != nil {
		return nil
	}
	return conn
}
