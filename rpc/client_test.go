package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/chronicals/sdk/jsonrpc"
	"github.com/chronicals/sdk/transport"
)

// fakeSocket pairs with another fakeSocket to exercise Client without a
// real network connection, analogous to an in-memory pipe transport.
type fakeSocket struct {
	peer      *fakeSocket
	onMessage func([]byte)
	onClose   func(error)
	closed    bool
}

func newFakeSocketPair() (*fakeSocket, *fakeSocket) {
	a := &fakeSocket{}
	b := &fakeSocket{}
	a.peer = b
	b.peer = a
	return a, b
}

func (s *fakeSocket) Connect(ctx context.Context) error          { return nil }
func (s *fakeSocket) Ping(ctx context.Context) error             { return nil }
func (s *fakeSocket) InstanceID() string                         { return "fake" }
func (s *fakeSocket) SetOnMessage(f func([]byte))                { s.onMessage = f }
func (s *fakeSocket) SetOnClose(f func(error))                   { s.onClose = f }
func (s *fakeSocket) Close() error                               { s.closed = true; return nil }
func (s *fakeSocket) Send(ctx context.Context, payload []byte) error {
	if s.peer != nil && s.peer.onMessage != nil {
		cp := append([]byte(nil), payload...)
		go s.peer.onMessage(cp)
	}
	return nil
}

var _ transport.Socket = (*fakeSocket)(nil)

type echoParams struct {
	Text string `json:"text"`
}

type echoResult struct {
	Text string `json:"text"`
}

func schemaFor[T any](t *testing.T) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.For[T](nil)
	if err != nil {
		t.Fatalf("building schema: %v", err)
	}
	return s
}

func TestClientCallRoundTrip(t *testing.T) {
	hostSocket, peerSocket := newFakeSocketPair()

	host := NewClient()
	if err := host.HostMethods.Register(Method{
		Name:        "echo",
		InputSchema: schemaFor[echoParams](t),
		Handler: func(ctx context.Context, params RawMessage) (any, error) {
			var p echoParams
			if err := jsonrpc.Unmarshal(params, &p); err != nil {
				return nil, err
			}
			return echoResult{Text: p.Text}, nil
		},
	}); err != nil {
		t.Fatalf("registering method: %v", err)
	}
	host.Rebind(hostSocket)

	peer := NewClient()
	if err := peer.PeerMethods.Register(Method{
		Name:         "echo",
		InputSchema:  schemaFor[echoParams](t),
		OutputSchema: schemaFor[echoResult](t),
	}); err != nil {
		t.Fatalf("registering peer method: %v", err)
	}
	peer.Rebind(peerSocket)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var result echoResult
	if err := peer.Call(ctx, "echo", echoParams{Text: "hi"}, &result); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.Text != "hi" {
		t.Fatalf("got %q, want %q", result.Text, "hi")
	}
}

func TestClientCallUnknownMethod(t *testing.T) {
	hostSocket, peerSocket := newFakeSocketPair()

	host := NewClient()
	host.Rebind(hostSocket)

	peer := NewClient()
	peer.Rebind(peerSocket)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := peer.Call(ctx, "nope", map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}
	if !Is(err, KindMethodUnknown) {
		t.Fatalf("expected KindMethodUnknown, got %v", err)
	}
}

func TestClientCallSchemaInvalidParams(t *testing.T) {
	hostSocket, peerSocket := newFakeSocketPair()

	host := NewClient()
	if err := host.HostMethods.Register(Method{
		Name:        "echo",
		InputSchema: schemaFor[echoParams](t),
		Handler: func(ctx context.Context, params RawMessage) (any, error) {
			return echoResult{}, nil
		},
	}); err != nil {
		t.Fatalf("registering method: %v", err)
	}
	host.Rebind(hostSocket)

	peer := NewClient()
	peer.Rebind(peerSocket)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := peer.Call(ctx, "echo", map[string]int{"text": 5}, nil)
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !Is(err, KindSchemaInvalid) {
		t.Fatalf("expected KindSchemaInvalid, got %v", err)
	}
}

func TestClientNotifyDoesNotBlock(t *testing.T) {
	hostSocket, peerSocket := newFakeSocketPair()

	received := make(chan echoParams, 1)
	host := NewClient()
	if err := host.HostMethods.Register(Method{
		Name:        "ping",
		InputSchema: schemaFor[echoParams](t),
		IsNotify:    true,
		Handler: func(ctx context.Context, params RawMessage) (any, error) {
			var p echoParams
			_ = jsonrpc.Unmarshal(params, &p)
			received <- p
			return nil, nil
		},
	}); err != nil {
		t.Fatalf("registering method: %v", err)
	}
	host.Rebind(hostSocket)

	peer := NewClient()
	peer.Rebind(peerSocket)

	if err := peer.Notify(context.Background(), "ping", echoParams{Text: "hello"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	select {
	case p := <-received:
		if p.Text != "hello" {
			t.Fatalf("got %q, want %q", p.Text, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not delivered")
	}
}

func TestClientCallTimeout(t *testing.T) {
	// No peer bound; socket always succeeds Send but nothing ever replies.
	sock, _ := newFakeSocketPair()
	sock.peer = nil

	client := NewClient()
	client.Rebind(sock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Call(ctx, "whatever", map[string]string{}, nil)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !Is(err, KindTimeout) {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
}
