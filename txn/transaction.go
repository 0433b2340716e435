// Package txn implements the Transaction Manager: the per-invocation
// lifecycle for START_TRANSACTION, the handler execution context handed
// to action routes, response routing for IO_RESPONSE, and the
// at-most-once MARK_TRANSACTION_COMPLETE completion.
package txn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/chronicals/sdk/ioclient"
	"github.com/chronicals/sdk/jsonrpc"
	"github.com/chronicals/sdk/pending"
	"github.com/chronicals/sdk/route"
	"github.com/chronicals/sdk/rpc"
)

// anySchema accepts any JSON value; the widget/param schema is out of
// scope for this module (render payloads are treated as opaque strings).
func anySchema() *jsonschema.Schema { return &jsonschema.Schema{} }

// OnErrorHook is invoked before a handler failure is enveloped, mirroring
// the orchestrator-visible onError(error, route, params, environment,
// user) callback.
type OnErrorHook func(err error, actionSlug string, params any, environment string, user any)

// Options configures a Manager.
type Options struct {
	OnError OnErrorHook
	// CompletionCallback, if set, is invoked once a transaction started
	// with a non-empty RequestID settles — the single-shot adapter's
	// RequestCompletionCallback.
	CompletionCallback func(requestID string)
	// CompleteHTTPRequestDelay is the grace period after
	// MARK_TRANSACTION_COMPLETE is sent before CompletionCallback fires,
	// giving the orchestrator's ack round trip time to land. Defaults to
	// 250ms if zero.
	CompleteHTTPRequestDelay time.Duration
	// SendTimeout is the per-attempt deadline the transaction's outer
	// sends (MARK_TRANSACTION_COMPLETE, SEND_LOG, SEND_LOADING_CALL,
	// SEND_REDIRECT, and the IOClient it hands to action handlers) widen
	// on each retry.
	SendTimeout time.Duration
}

// entry is the live bookkeeping for one in-flight transaction.
type entry struct {
	id                         string
	slug                       string
	displayResolvesImmediately bool
	requestID                  string
	cancel                     context.CancelFunc
	done                       chan struct{}
	logIndex                   int64
}

// Manager owns every in-flight transaction for the duration of a host
// session: at most one handler invocation per transactionId, response
// routing by transactionId, and the close/cleanup that follows
// completion or cancellation.
type Manager struct {
	client         *rpc.Client
	tree           *route.Tree
	pendingIO      *pending.Map
	pendingLoading *pending.Map
	router         *ioclient.Router
	opts           Options

	mu           sync.Mutex
	transactions map[string]*entry
	draining     bool
}

// NewManager constructs a Manager bound to client for RPC, tree for
// action lookup, and the pending maps/router shared with the rest of the
// host.
func NewManager(client *rpc.Client, tree *route.Tree, pendingIO, pendingLoading *pending.Map, router *ioclient.Router, opts Options) *Manager {
	return &Manager{
		client:         client,
		tree:           tree,
		pendingIO:      pendingIO,
		pendingLoading: pendingLoading,
		router:         router,
		opts:           opts,
		transactions:   make(map[string]*entry),
	}
}

// RegisterMethods wires START_TRANSACTION, IO_RESPONSE, and
// CLOSE_TRANSACTION as methods the peer may invoke on this host.
func (m *Manager) RegisterMethods() error {
	if err := m.client.HostMethods.Register(rpc.Method{
		Name:        "START_TRANSACTION",
		InputSchema: anySchema(),
		IsNotify:    true,
		Handler:     m.handleStartTransaction,
	}); err != nil {
		return err
	}
	if err := m.client.HostMethods.Register(rpc.Method{
		Name:        "IO_RESPONSE",
		InputSchema: anySchema(),
		IsNotify:    true,
		Handler:     m.handleIOResponse,
	}); err != nil {
		return err
	}
	if err := m.client.HostMethods.Register(rpc.Method{
		Name:        "CLOSE_TRANSACTION",
		InputSchema: anySchema(),
		IsNotify:    true,
		Handler:     m.handleCloseTransaction,
	}); err != nil {
		return err
	}
	return nil
}

// SetDraining refuses new START_TRANSACTION calls once the shutdown
// coordinator begins draining (spec §4.6's Draining state).
func (m *Manager) SetDraining(draining bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draining = draining
}

// Count reports the number of in-flight transactions, used by the
// shutdown coordinator to detect drain completion.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *Manager) handleStartTransaction(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
	var p StartTransactionParams
	if err := jsonrpc.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return nil, nil
	}
	if _, exists := m.transactions[p.TransactionID]; exists {
		m.mu.Unlock()
		return nil, nil
	}
	rt, ok := m.tree.Lookup(p.Action.Slug)
	if !ok || rt.Kind != route.KindAction || rt.ActionHandler == nil {
		m.mu.Unlock()
		return nil, nil
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	e := &entry{
		id:                         p.TransactionID,
		slug:                       p.Action.Slug,
		displayResolvesImmediately: p.DisplayResolvesImmediately,
		requestID:                  p.RequestID,
		cancel:                     cancel,
		done:                       make(chan struct{}),
	}
	m.transactions[p.TransactionID] = e
	m.mu.Unlock()

	io := ioclient.New(p.TransactionID, m.client, m.pendingIO, m.pendingLoading, m.router, m.opts.SendTimeout)
	hctx := m.buildContext(e, p)

	go m.run(taskCtx, e, rt, io, hctx, p)
	return nil, nil
}

func (m *Manager) buildContext(e *entry, p StartTransactionParams) *route.Context {
	return &route.Context{
		TransactionID: p.TransactionID,
		ActionSlug:    p.Action.Slug,
		User:          p.User,
		Environment:   p.Environment,
		Params:        p.Params,
		ParamsMeta:    p.ParamsMeta,
		Log: func(args ...any) {
			m.sendLog(e.id, e.nextLogIndex(), args)
		},
		SetLoading: func(state any) {
			m.sendLoading(e.id, state)
		},
		Redirect: func(props any) {
			m.sendRedirect(e.id, props)
		},
		Notify: func(config any) {
			// No in-process collaborator consumes this; a deliberate
			// no-op extension point (see DESIGN.md).
		},
	}
}

// nextLogIndex returns the next per-transaction monotonic log index,
// starting at 0.
func (e *entry) nextLogIndex() int {
	return int(atomic.AddInt64(&e.logIndex, 1)) - 1
}

func (m *Manager) run(ctx context.Context, e *entry, rt *route.Route, io *ioclient.IOClient, hctx *route.Context, p StartTransactionParams) {
	defer close(e.done)

	result, err := rt.ActionHandler(ctx, io, hctx, p.Params)

	if err != nil && rpc.Is(err, rpc.KindCanceled) {
		// The transaction was already torn down by a racing
		// CLOSE_TRANSACTION; no completion is sent.
		m.forget(e.id)
		return
	}

	var resultJSON string
	var status string
	if err != nil {
		if m.opts.OnError != nil {
			m.opts.OnError(err, p.Action.Slug, p.Params, p.Environment, p.User)
		}
		resultJSON, err = marshalFailure(err)
		status = "FAILURE"
	} else {
		resultJSON, err = marshalSuccess(result)
		status = "SUCCESS"
	}
	if err != nil {
		resultJSON = `{"status":"FAILURE","data":{"error":"Error","message":"failed to encode result"}}`
		status = "FAILURE"
	}

	var completeAck rpc.AckResult
	if err := m.client.SendWithRetry(context.Background(), "MARK_TRANSACTION_COMPLETE", MarkTransactionCompleteParams{
		TransactionID: e.id,
		ResultStatus:  status,
		Result:        resultJSON,
	}, &completeAck, m.opts.SendTimeout); err != nil && m.opts.OnError != nil {
		m.opts.OnError(err, p.Action.Slug, p.Params, p.Environment, p.User)
	}

	if e.requestID != "" && m.opts.CompletionCallback != nil {
		delay := m.opts.CompleteHTTPRequestDelay
		if delay <= 0 {
			delay = 250 * time.Millisecond
		}
		go func(requestID string) {
			time.Sleep(delay)
			m.opts.CompletionCallback(requestID)
		}(e.requestID)
	}

	if !e.displayResolvesImmediately {
		m.closeTransaction(e.id)
	}
}

func (m *Manager) handleIOResponse(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
	var p IOResponseParams
	if err := jsonrpc.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	transactionID, payload, err := ioclient.ParseIOResponse(p.Value)
	if err != nil {
		return nil, nil
	}
	m.router.Resolve(transactionID, payload)
	return nil, nil
}

func (m *Manager) handleCloseTransaction(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
	var p CloseTransactionParams
	if err := jsonrpc.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	m.router.CloseTransaction(p.TransactionID)
	m.closeTransaction(p.TransactionID)
	return nil, nil
}

// closeTransaction tears down transactionID's bookkeeping: pending io
// calls and loading state, the live entry, and cancels its handler
// context so any blocking I/O it's doing unwinds.
func (m *Manager) closeTransaction(transactionID string) {
	m.mu.Lock()
	e, ok := m.transactions[transactionID]
	delete(m.transactions, transactionID)
	m.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	m.pendingIO.DeletePrefix(transactionID + "-io-")
	m.pendingLoading.Delete(transactionID)
	m.router.Forget(transactionID)
}

func (m *Manager) forget(transactionID string) {
	m.mu.Lock()
	delete(m.transactions, transactionID)
	m.mu.Unlock()
	m.pendingIO.DeletePrefix(transactionID + "-io-")
	m.pendingLoading.Delete(transactionID)
	m.router.Forget(transactionID)
}

func (m *Manager) sendLog(transactionID string, index int, args []any) {
	data := formatLogArgs(args)
	var ack rpc.AckResult
	_ = m.client.SendWithRetry(context.Background(), "SEND_LOG", SendLogParams{
		TransactionID: transactionID,
		Data:          data,
		Index:         index,
		Timestamp:     time.Now().UnixMilli(),
	}, &ack, m.opts.SendTimeout)
}

func (m *Manager) sendLoading(transactionID string, state any) {
	params := buildLoadingParams(transactionID, state)
	m.pendingLoading.Put(transactionID, &pending.Entry{
		ID:            transactionID,
		Method:        "SEND_LOADING_CALL",
		Params:        params,
		AttemptNumber: 1,
	})
	var ack rpc.AckResult
	if err := m.client.SendWithRetry(context.Background(), "SEND_LOADING_CALL", params, &ack, m.opts.SendTimeout); err == nil {
		m.pendingLoading.Delete(transactionID)
	}
}

func buildLoadingParams(transactionID string, state any) map[string]any {
	out := map[string]any{"transactionId": transactionID}
	if m, ok := state.(map[string]any); ok {
		for k, v := range m {
			out[k] = v
		}
	} else if state != nil {
		out["state"] = state
	}
	return out
}

func (m *Manager) sendRedirect(transactionID string, props any) {
	var ack rpc.AckResult
	_ = m.client.SendWithRetry(context.Background(), "SEND_REDIRECT", SendRedirectParams{TransactionID: transactionID, Props: props}, &ack, m.opts.SendTimeout)
}
