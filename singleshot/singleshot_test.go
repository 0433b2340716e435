package singleshot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/chronicals/sdk/host"
	"github.com/chronicals/sdk/ioclient"
	"github.com/chronicals/sdk/jsonrpc"
	"github.com/chronicals/sdk/route"
	"github.com/chronicals/sdk/rpc"
	"github.com/chronicals/sdk/transport"
)

func anySchema() *jsonschema.Schema { return &jsonschema.Schema{} }

// fakeSocket mirrors the in-memory pair used by package host's own tests:
// one connection attempt over a channel-free direct callback hookup.
type fakeSocket struct {
	instanceID string
	peer       *fakeSocket
	onMessage  func([]byte)
	onClose    func(error)
	closeOnce  sync.Once
}

func newFakeSocketPair(instanceID string) (*fakeSocket, *fakeSocket) {
	a := &fakeSocket{instanceID: instanceID}
	b := &fakeSocket{}
	a.peer, b.peer = b, a
	return a, b
}

func (s *fakeSocket) Connect(ctx context.Context) error { return nil }
func (s *fakeSocket) Ping(ctx context.Context) error    { return nil }
func (s *fakeSocket) InstanceID() string                { return s.instanceID }
func (s *fakeSocket) SetOnMessage(f func([]byte))       { s.onMessage = f }
func (s *fakeSocket) SetOnClose(f func(error))          { s.onClose = f }
func (s *fakeSocket) Send(ctx context.Context, payload []byte) error {
	if s.peer != nil && s.peer.onMessage != nil {
		cp := append([]byte(nil), payload...)
		go s.peer.onMessage(cp)
	}
	return nil
}
func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() {
		if s.onClose != nil {
			go s.onClose(errors.New("fake socket closed"))
		}
	})
	return nil
}

var _ transport.Socket = (*fakeSocket)(nil)

// fakeOrchestrator wires one peer rpc.Client per Dial call, simulating the
// orchestrator side of the wire: it always answers INITIALIZE_HOST, and
// optionally starts a transaction against the declared action once the
// handshake completes, so serveTransaction has something to wait on.
type fakeOrchestrator struct {
	startTransaction *startTransactionSpec
}

type startTransactionSpec struct {
	transactionID string
	actionSlug    string
	requestID     string
}

func (o *fakeOrchestrator) Dial(instanceID string) transport.Socket {
	if instanceID == "" {
		instanceID = "fixed-instance"
	}
	hostSocket, peerSocket := newFakeSocketPair(instanceID)
	peer := rpc.NewClient()

	peer.HostMethods.Register(rpc.Method{
		Name:        "INITIALIZE_HOST",
		InputSchema: anySchema(),
		Handler: func(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
			if o.startTransaction != nil {
				spec := *o.startTransaction
				go func() {
					time.Sleep(5 * time.Millisecond)
					peer.Notify(context.Background(), "START_TRANSACTION", map[string]any{
						"transactionId": spec.transactionID,
						"action":        map[string]string{"slug": spec.actionSlug},
						"requestId":     spec.requestID,
					})
				}()
			}
			return host.InitializeHostResult{Type: "success", Environment: "development"}, nil
		},
	})
	for _, name := range []string{"MARK_TRANSACTION_COMPLETE", "SEND_LOG", "SEND_REDIRECT", "SEND_LOADING_CALL", "SEND_PAGE", "BEGIN_HOST_SHUTDOWN"} {
		peer.HostMethods.Register(rpc.Method{
			Name:        name,
			InputSchema: anySchema(),
			IsNotify:    true,
			Handler:     func(ctx context.Context, raw jsonrpc.RawMessage) (any, error) { return nil, nil },
		})
	}
	peer.HostMethods.Register(rpc.Method{
		Name:        "SEND_IO_CALL",
		InputSchema: anySchema(),
		Handler: func(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
			return ioclient.SendIOCallAck{Type: "SUCCESS"}, nil
		},
	})

	peer.Rebind(peerSocket)
	return hostSocket
}

func TestHandlerGetReturns200(t *testing.T) {
	h := &Handler{Factory: func(cfg SessionConfig) *host.Session { return nil }}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d, want 200", rr.Code)
	}
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	h := &Handler{Factory: func(cfg SessionConfig) *host.Session { return nil }}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("got %d, want 405", rr.Code)
	}
}

func TestHandlerMalformedBody(t *testing.T) {
	h := &Handler{Factory: func(cfg SessionConfig) *host.Session { return nil }}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("not json"))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestHandlerEmptyBody(t *testing.T) {
	h := &Handler{Factory: func(cfg SessionConfig) *host.Session { return nil }}
	rr := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]string{})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d, want 400", rr.Code)
	}
}

func TestHandlerDeclareHost(t *testing.T) {
	orch := &fakeOrchestrator{}
	tree := route.NewTree()
	h := &Handler{
		Factory: func(cfg SessionConfig) *host.Session {
			return host.New(orch, tree, host.Options{
				InstanceID:         cfg.InstanceID,
				RequestID:          cfg.RequestID,
				CompletionCallback: cfg.OnComplete,
				PingInterval:       time.Hour,
			})
		},
		RequestTimeout: 2 * time.Second,
	}

	body, _ := json.Marshal(map[string]string{"httpHostId": "lambda-instance-1"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d body %q, want 200", rr.Code, rr.Body.String())
	}
}

func TestHandlerServeTransactionCompletes(t *testing.T) {
	tree := route.NewTree()
	tree.Add(&route.Route{
		Slug: "doThing",
		Kind: route.KindAction,
		ActionHandler: func(ctx context.Context, io *ioclient.IOClient, hctx *route.Context, params any) (any, error) {
			return map[string]string{"ok": "true"}, nil
		},
	})

	orch := &fakeOrchestrator{startTransaction: &startTransactionSpec{
		transactionID: "t1",
		actionSlug:    "doThing",
		requestID:     "req-1",
	}}

	h := &Handler{
		Factory: func(cfg SessionConfig) *host.Session {
			return host.New(orch, tree, host.Options{
				RequestID:                cfg.RequestID,
				CompletionCallback:       cfg.OnComplete,
				CompleteHTTPRequestDelay: 5 * time.Millisecond,
				PingInterval:             time.Hour,
			})
		},
		RequestTimeout: 2 * time.Second,
	}

	body, _ := json.Marshal(map[string]string{"requestId": "req-1"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("got %d body %q, want 200", rr.Code, rr.Body.String())
	}
}

func TestHandlerServeTransactionTimesOut(t *testing.T) {
	tree := route.NewTree()
	orch := &fakeOrchestrator{} // never starts a transaction

	h := &Handler{
		Factory: func(cfg SessionConfig) *host.Session {
			return host.New(orch, tree, host.Options{
				RequestID:          cfg.RequestID,
				CompletionCallback: cfg.OnComplete,
				PingInterval:       time.Hour,
			})
		},
		RequestTimeout: 50 * time.Millisecond,
	}

	body, _ := json.Marshal(map[string]string{"requestId": "req-never"})
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("got %d, want 500", rr.Code)
	}
}
