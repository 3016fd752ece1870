package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if conn.WriteMessage(mt, msg) != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnectSendReceiveRoundTrip(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := New()
	var mu sync.Mutex
	var got []byte
	received := make(chan struct{}, 1)
	tr.SetOnMessage(func(frame []byte) {
		mu.Lock()
		got = append([]byte(nil), frame...)
		mu.Unlock()
		received <- struct{}{}
	})

	if err := tr.Connect(context.Background(), wsURL(srv.URL)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestSendWithoutConnectReturnsNotConnected(t *testing.T) {
	tr := New()
	if err := tr.Send([]byte("x")); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	tr := New()
	if err := tr.Connect(context.Background(), wsURL(srv.URL)); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
}

func TestConnectFailsAgainstUnreachableAddr(t *testing.T) {
	tr := New()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := tr.Connect(ctx, "ws://127.0.0.1:1"); err == nil {
		t.Fatal("expected Connect to fail against an unreachable address")
	}
}
