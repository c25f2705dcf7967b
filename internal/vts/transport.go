package vts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a connected, ordered, reliable duplex text channel.
type Transport interface {
	Send(ctx context.Context, text string) error
	Receive(ctx context.Context) (string, error)
	Close() error
}

// ErrConnectionBroken is returned once a read was interrupted by context
// cancellation; the underlying connection cannot be read again.
var ErrConnectionBroken = errors.New("vts: connection broken by an interrupted read")

// WebSocketTransport implements Transport over a gorilla/websocket connection.
//
// Thread-safety: one writer and one reader may run concurrently; Close is
// safe from any goroutine.
type WebSocketTransport struct {
	conn    *websocket.Conn
	timeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	broken    atomic.Bool
}

// Dial opens a WebSocket connection to address. timeout bounds the handshake
// and every subsequent write (0 disables the per-write bound). Reads carry no
// deadline: a slow acknowledgement is waited for, and only ctx or Close
// interrupts a pending read.
func Dial(ctx context.Context, address string, timeout time.Duration) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	if timeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, address, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("vts: dial %s: %w (http %d)", address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("vts: dial %s: %w", address, err)
	}
	return &WebSocketTransport{conn: conn, timeout: timeout}, nil
}

// deadline returns the earlier of ctx's deadline and now+timeout.
func (t *WebSocketTransport) deadline(ctx context.Context) time.Time {
	var d time.Time
	if t.timeout > 0 {
		d = time.Now().Add(t.timeout)
	}
	if ctxDeadline, ok := ctx.Deadline(); ok && (d.IsZero() || ctxDeadline.Before(d)) {
		d = ctxDeadline
	}
	return d
}

// Send writes one text message.
func (t *WebSocketTransport) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(t.deadline(ctx)); err != nil {
		return fmt.Errorf("vts: set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("vts: write: %w", err)
	}
	return nil
}

// Receive blocks for the next message, until ctx is done or the transport is
// closed. Binary frames are returned as text.
//
// Interrupting a read leaves the connection unusable, so after a cancelled
// Receive every later call fails with ErrConnectionBroken.
func (t *WebSocketTransport) Receive(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if t.broken.Load() {
		return "", ErrConnectionBroken
	}

	stop := context.AfterFunc(ctx, func() {
		t.broken.Store(true)
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("vts: read: %w", ctxErr)
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return "", fmt.Errorf("vts: connection closed by engine: %w", err)
		}
		return "", fmt.Errorf("vts: read: %w", err)
	}
	return string(data), nil
}

// Close sends a close frame and releases the connection. Idempotent.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		// Best effort: the peer may already be gone.
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}
