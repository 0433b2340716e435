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
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(messageType, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestWebSocketSocketRoundTrip(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	sock := NewWebSocketSocket(WebSocketOptions{Endpoint: wsURL(server)})

	received := make(chan []byte, 1)
	sock.SetOnMessage(func(p []byte) { received <- p })
	sock.SetOnClose(func(error) {})

	ctx := context.Background()
	if err := sock.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sock.Close()

	payload := []byte(`{"hello":"world"}`)
	if err := sock.Send(ctx, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("got %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed message")
	}
}

func TestWebSocketSocketLargePayloadChunking(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	sock := NewWebSocketSocket(WebSocketOptions{Endpoint: wsURL(server)})

	received := make(chan []byte, 1)
	sock.SetOnMessage(func(p []byte) { received <- p })
	sock.SetOnClose(func(error) {})

	ctx := context.Background()
	if err := sock.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sock.Close()

	payload := make([]byte, 200*1024)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	if err := sock.Send(ctx, payload); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(payload) {
			t.Fatalf("got %d bytes, want %d", len(got), len(payload))
		}
		if string(got) != string(payload) {
			t.Fatal("reassembled payload mismatch")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reassembled message")
	}
}

func TestWebSocketSocketConcurrentSends(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	sock := NewWebSocketSocket(WebSocketOptions{Endpoint: wsURL(server)})
	sock.SetOnMessage(func([]byte) {})
	sock.SetOnClose(func(error) {})

	ctx := context.Background()
	if err := sock.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sock.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- sock.Send(ctx, []byte(`{"n":1}`))
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent send failed: %v", err)
		}
	}
}

func TestWebSocketSocketCloseIsIdempotent(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	sock := NewWebSocketSocket(WebSocketOptions{Endpoint: wsURL(server)})
	sock.SetOnMessage(func([]byte) {})
	sock.SetOnClose(func(error) {})

	if err := sock.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestWebSocketSocketInstanceIDStable(t *testing.T) {
	sock := NewWebSocketSocket(WebSocketOptions{Endpoint: "ws://unused"})
	id1 := sock.InstanceID()
	id2 := sock.InstanceID()
	if id1 == "" || id1 != id2 {
		t.Fatalf("expected a stable non-empty instance id, got %q and %q", id1, id2)
	}
}

func TestWebSocketSocketConnectFailure(t *testing.T) {
	sock := NewWebSocketSocket(WebSocketOptions{
		Endpoint:       "ws://127.0.0.1:1/nonexistent",
		ConnectTimeout: 200 * time.Millisecond,
	})
	if err := sock.Connect(context.Background()); err == nil {
		t.Fatal("expected connect error for unreachable endpoint")
	}
}

func TestWebSocketDialerMintsFreshSockets(t *testing.T) {
	d := WebSocketDialer{Opts: WebSocketOptions{Endpoint: "ws://unused"}}
	s1 := d.Dial("fixed-id")
	s2 := d.Dial("")
	if s1.InstanceID() != "fixed-id" {
		t.Fatalf("expected dialer to honor supplied instance id, got %q", s1.InstanceID())
	}
	if s2.InstanceID() == "" {
		t.Fatal("expected dialer to mint a random id when none supplied")
	}
}
