// Package transport is the duplex text-frame client: it owns the single
// websocket connection to the hub and bridges its asynchronous reads back
// to a caller-registered callback.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Sentinel errors, checked with errors.Is at call sites.
var (
	ErrNotConnected  = errors.New("transport: not connected")
	ErrConnectFailed = errors.New("transport: connect failed")
	ErrWriteFailed   = errors.New("transport: write failed")
	ErrAlreadyOpen   = errors.New("transport: already connected")
)

const dialTimeout = 5 * time.Second

// OnMessage is invoked once per received text frame, in arrival order, on a
// transport-owned goroutine. It must not panic; any unwind is recovered and
// logged.
type OnMessage func(frame []byte)

// Transport is a single duplex connection to the hub. The zero value is not
// usable; construct with New.
type Transport struct {
	cbMu      sync.Mutex
	onMessage OnMessage

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	done    chan struct{}

	writeMu sync.Mutex
}

// New returns an idle Transport with no connection.
func New() *Transport {
	return &Transport{}
}

// SetOnMessage registers the inbound frame callback. Must be called before
// Connect: frames that arrive while no callback is registered are dropped.
func (t *Transport) SetOnMessage(cb OnMessage) {
	t.cbMu.Lock()
	t.onMessage = cb
	t.cbMu.Unlock()
}

// Connect dials url synchronously and, on success, starts the reader
// goroutine that feeds the registered OnMessage callback.
func (t *Transport) Connect(ctx context.Context, url string) error {
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		return ErrAlreadyOpen
	}
	t.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.closing = false
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(conn, t.done)
	slog.Info("transport connected", "url", url)
	return nil
}

// Send transmits a single text frame. Fails with ErrNotConnected or
// ErrWriteFailed.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	t.writeMu.Lock()
	err := conn.WriteMessage(websocket.TextMessage, frame)
	t.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// Disconnect initiates close and waits for the reader goroutine to
// terminate. Idempotent: calling it when not connected is a no-op.
func (t *Transport) Disconnect() error {
	t.mu.Lock()
	conn := t.conn
	done := t.done
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.conn = nil
	t.mu.Unlock()

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = conn.Close()

	if done != nil {
		<-done
	}
	return nil
}

func (t *Transport) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		msgType, frame, err := conn.ReadMessage()
		if err != nil {
			t.mu.Lock()
			closing := t.closing
			t.mu.Unlock()
			if !closing {
				slog.Warn("transport read closed", "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		t.dispatch(frame)
	}
}

func (t *Transport) dispatch(frame []byte) {
	t.cbMu.Lock()
	cb := t.onMessage
	t.cbMu.Unlock()
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("transport callback panicked", "recovered", r)
		}
	}()
	cb(frame)
}
