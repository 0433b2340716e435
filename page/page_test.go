package page

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chronicals/sdk/jsonrpc"
	"github.com/chronicals/sdk/pending"
	"github.com/chronicals/sdk/rpc"
)

// countingSocket counts Sends and, for calls carrying an ID, answers with a
// SUCCESS ack after delay — simulating a round trip slow enough for other
// updates to land while the send is in flight.
type countingSocket struct {
	sends     int32
	delay     time.Duration
	onMessage func([]byte)
}

func (s *countingSocket) Connect(ctx context.Context) error { return nil }
func (s *countingSocket) Ping(ctx context.Context) error    { return nil }
func (s *countingSocket) InstanceID() string                { return "counting" }
func (s *countingSocket) SetOnMessage(f func([]byte))       { s.onMessage = f }
func (s *countingSocket) SetOnClose(f func(error))          {}
func (s *countingSocket) Close() error                      { return nil }
func (s *countingSocket) Send(ctx context.Context, payload []byte) error {
	atomic.AddInt32(&s.sends, 1)

	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil || s.onMessage == nil {
		return nil
	}
	req, ok := msg.(*jsonrpc.Request)
	if !ok || !req.ID.IsValid() {
		return nil
	}
	onMessage := s.onMessage
	go func() {
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		data, err := jsonrpc.EncodeMessage(&jsonrpc.Response{ID: req.ID, Result: jsonrpc.RawMessage(`{"type":"SUCCESS"}`)})
		if err != nil {
			return
		}
		onMessage(data)
	}()
	return nil
}

func newTestManager(delay time.Duration) (*Manager, *countingSocket) {
	client := rpc.NewClient()
	sock := &countingSocket{delay: delay}
	client.Rebind(sock)
	store := pending.NewStore()
	return NewManager(client, store.Layouts, store.Loading, 200*time.Millisecond), sock
}

func TestEventualConstructors(t *testing.T) {
	ctx := context.Background()

	imm := Immediate("hello")
	v, err := imm.Resolve(ctx)
	if err != nil || v != "hello" {
		t.Fatalf("Immediate.Resolve() = %q, %v", v, err)
	}

	lazy := Lazy(func() string { return "computed" })
	v, err = lazy.Resolve(ctx)
	if err != nil || v != "computed" {
		t.Fatalf("Lazy.Resolve() = %q, %v", v, err)
	}

	async := Async(func(ctx context.Context) (string, error) { return "async-value", nil })
	v, err = async.Resolve(ctx)
	if err != nil || v != "async-value" {
		t.Fatalf("Async.Resolve() = %q, %v", v, err)
	}
}

// TestPageSetLayoutCoalescesRapidUpdates mirrors the scenario of three (here
// five) rapid-fire updates landing while the first send is still in flight:
// the first update's send starts immediately, the rest land in the window
// while it's outstanding and coalesce into exactly one follow-up send
// carrying the last layout written — two sends total, not five, and not one.
func TestPageSetLayoutCoalescesRapidUpdates(t *testing.T) {
	mgr, sock := newTestManager(30 * time.Millisecond)
	p := mgr.Open("page-1", "txn-1", "dashboard")

	for i := 0; i < 5; i++ {
		p.SetLayout(&Layout{Title: Immediate("v")})
	}

	time.Sleep(200 * time.Millisecond)

	if got := atomic.LoadInt32(&sock.sends); got != 2 {
		t.Fatalf("expected exactly two sends (first update, then the coalesced rest), got %d", got)
	}
}

func TestPageSetLayoutWhileInFlightSendsOneMore(t *testing.T) {
	mgr, sock := newTestManager(30 * time.Millisecond)
	p := mgr.Open("page-2", "txn-1", "dashboard")

	p.SetLayout(&Layout{Title: Immediate("first")})
	time.Sleep(5 * time.Millisecond) // let the first send start

	p.SetLayout(&Layout{Title: Immediate("second")})
	time.Sleep(100 * time.Millisecond)

	got := atomic.LoadInt32(&sock.sends)
	if got != 2 {
		t.Fatalf("expected exactly 2 sends (original + follow-up), got %d", got)
	}
}

func TestPageSetLoadingSendsImmediately(t *testing.T) {
	mgr, sock := newTestManager(0)
	p := mgr.Open("page-3", "txn-1", "dashboard")

	if err := p.SetLoading(context.Background(), true); err != nil {
		t.Fatalf("SetLoading: %v", err)
	}
	if got := atomic.LoadInt32(&sock.sends); got != 1 {
		t.Fatalf("expected immediate send, got %d", got)
	}
}

func TestManagerCloseRemovesPage(t *testing.T) {
	mgr, _ := newTestManager(0)
	mgr.Open("page-4", "txn-1", "dashboard")

	if _, ok := mgr.Lookup("page-4"); !ok {
		t.Fatal("expected page to be open")
	}
	if err := mgr.Close(context.Background(), "page-4"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := mgr.Lookup("page-4"); ok {
		t.Fatal("expected page to be removed after Close")
	}
}
