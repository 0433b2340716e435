package ioclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chronicals/sdk/rpc"
)

// ioResponseEnvelope is the JSON payload carried inside IO_RESPONSE's
// string value field: a transactionId to route on, plus whatever fields
// make up the user's actual answer.
type ioResponseEnvelope struct {
	TransactionID string `json:"transactionId"`
}

// ParseIOResponse decodes the value string from an IO_RESPONSE call,
// returning the transactionId to route on and the full decoded payload
// (still containing transactionId; callers treat it as opaque).
func ParseIOResponse(value string) (transactionID string, payload any, err error) {
	var env ioResponseEnvelope
	if err := json.Unmarshal([]byte(value), &env); err != nil {
		return "", nil, fmt.Errorf("ioclient: decoding IO_RESPONSE value: %w", err)
	}
	if env.TransactionID == "" {
		return "", nil, fmt.Errorf("ioclient: IO_RESPONSE value missing transactionId")
	}
	var payloadValue any
	if err := json.Unmarshal([]byte(value), &payloadValue); err != nil {
		return "", nil, fmt.Errorf("ioclient: decoding IO_RESPONSE payload: %w", err)
	}
	return env.TransactionID, payloadValue, nil
}

type routerEvent struct {
	value any
	err   error
}

// Router is the per-process map keyed by transactionId that correlates an
// outstanding Render call with the IO_RESPONSE that eventually answers
// it. Only one Render may be outstanding per transaction at a time (I/O
// within a transaction is strictly sequential; see package page for the
// analogous per-page discipline).
type Router struct {
	mu      sync.Mutex
	pending map[string]chan routerEvent
	closed  map[string]bool
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{
		pending: make(map[string]chan routerEvent),
		closed:  make(map[string]bool),
	}
}

// register installs the waiting channel for transactionID. It fails with
// TRANSACTION_CLOSED if the transaction has already been closed.
func (r *Router) register(transactionID string) (chan routerEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed[transactionID] {
		return nil, rpc.NewError(rpc.KindTransactionClosed, fmt.Errorf("ioclient: transaction %q is closed", transactionID))
	}
	ch := make(chan routerEvent, 1)
	r.pending[transactionID] = ch
	return ch, nil
}

func (r *Router) unregister(transactionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, transactionID)
}

// Resolve delivers value to the Render call currently waiting on
// transactionID, if any. A response with no matching waiter is dropped
// (the orchestrator sent an answer nobody asked for, or it arrived after
// the handler moved on).
func (r *Router) Resolve(transactionID string, value any) {
	r.mu.Lock()
	ch, ok := r.pending[transactionID]
	if ok {
		delete(r.pending, transactionID)
	}
	r.mu.Unlock()
	if ok {
		ch <- routerEvent{value: value}
	}
}

// Cancel rejects any Render call currently waiting on transactionID with
// CANCELED, matching a CLOSE_TRANSACTION that arrived mid-prompt.
func (r *Router) Cancel(transactionID string) {
	r.mu.Lock()
	ch, ok := r.pending[transactionID]
	if ok {
		delete(r.pending, transactionID)
	}
	r.mu.Unlock()
	if ok {
		ch <- routerEvent{err: rpc.NewError(rpc.KindCanceled, context.Canceled)}
	}
}

// CloseTransaction marks transactionID closed: any currently waiting
// Render is canceled, and all future Render calls against it fail
// TRANSACTION_CLOSED until Forget is called.
func (r *Router) CloseTransaction(transactionID string) {
	r.Cancel(transactionID)
	r.mu.Lock()
	r.closed[transactionID] = true
	r.mu.Unlock()
}

// Forget drops all bookkeeping for transactionID, freeing the closed
// marker once the transaction is fully torn down and can never be
// referenced again.
func (r *Router) Forget(transactionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.closed, transactionID)
	delete(r.pending, transactionID)
}

// PendingCount reports the number of Render calls currently awaiting an
// IO_RESPONSE, used by the shutdown coordinator to detect drain
// completion.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
