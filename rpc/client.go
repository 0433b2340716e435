// Package rpc implements the duplex JSON-RPC layer: a schema-validated
// method dictionary in each direction, correlation of outbound calls to
// their responses, and dispatch of inbound calls/notifications to
// registered handlers. It is transport-agnostic; callers supply a
// transport.Socket and may Rebind a replacement after a reconnect.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronicals/sdk/jsonrpc"
	"github.com/chronicals/sdk/transport"
)

// AckResult is the generic {type: "SUCCESS"|"ERROR"} shape every
// host-to-peer send method (SEND_IO_CALL, SEND_PAGE, SEND_LOADING_CALL,
// SEND_LOG, SEND_REDIRECT, MARK_TRANSACTION_COMPLETE, BEGIN_HOST_SHUTDOWN)
// answers with.
type AckResult struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// RetryPolicy configures Client.SendWithRetry's backoff: RetryInterval is
// the linear-backoff unit (attemptNumber*RetryInterval between attempts)
// and MaxAttempts bounds how many attempts are made before giving up with
// KindMaxRetries. The zero value makes SendWithRetry behave like a single
// Call.
type RetryPolicy struct {
	RetryInterval time.Duration
	MaxAttempts   int
}

// pendingCall is the state kept for one in-flight outbound call awaiting a
// response.
type pendingCall struct {
	resultCh chan *jsonrpc.Response
}

// Client is a duplex RPC endpoint bound to a single transport.Socket at a
// time. HostMethods holds what the peer may call on us; PeerMethods holds
// what we may call on the peer, used to validate outbound params and
// inbound results.
type Client struct {
	HostMethods *Dictionary
	PeerMethods *Dictionary

	// Retry configures the backoff SendWithRetry uses. Left at its zero
	// value, SendWithRetry makes exactly one attempt.
	Retry RetryPolicy

	mu     sync.RWMutex
	socket transport.Socket

	seq int64

	pendingMu sync.Mutex
	pending   map[string]*pendingCall

	// OnDispatchPanic is called, if set, when a call's handler panics. A
	// handler panic is always recovered inside its dispatch goroutine: a
	// call gets a FATAL error reply, and a notification's panic is dropped
	// without invoking this hook.
	OnDispatchPanic func(method string, recovered any)
}

// NewClient constructs a Client with empty method dictionaries. Register
// methods on HostMethods/PeerMethods before calling Rebind.
func NewClient() *Client {
	return &Client{
		HostMethods: NewDictionary(),
		PeerMethods: NewDictionary(),
		pending:     make(map[string]*pendingCall),
	}
}

// Rebind swaps in a new socket, wiring its message callback to this
// client's dispatch loop. It is safe to call after a reconnect; any calls
// still pending on the old socket remain pending (the caller — package
// host's resend engine — is responsible for deciding whether to replay
// them against the new socket).
func (c *Client) Rebind(socket transport.Socket) {
	socket.SetOnMessage(c.handleMessage)

	c.mu.Lock()
	c.socket = socket
	c.mu.Unlock()
}

func (c *Client) currentSocket() (transport.Socket, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.socket == nil {
		return nil, NewError(KindNotConnected, fmt.Errorf("rpc: no socket bound"))
	}
	return c.socket, nil
}

func (c *Client) nextID() string {
	n := atomic.AddInt64(&c.seq, 1)
	return fmt.Sprintf("c%d", n)
}

// Notify sends a one-way message; no response is expected or awaited.
// params is validated against PeerMethods' schema for method if registered
// there, enforcing input-schema-before-send discipline.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	payload, err := c.validateOutbound(method, params)
	if err != nil {
		return err
	}
	socket, err := c.currentSocket()
	if err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(&jsonrpc.Request{Method: method, Params: payload})
	if err != nil {
		return fmt.Errorf("rpc: encoding notify: %w", err)
	}
	if err := socket.Send(ctx, data); err != nil {
		return NewError(KindNotConnected, err)
	}
	return nil
}

// Call sends method with params and blocks for a response, decoding it
// into result (ignored if nil). This is the schema-validated round trip:
// params are checked against PeerMethods' input schema before sending, and
// the response is checked against its output schema before being decoded
// into result.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	payload, err := c.validateOutbound(method, params)
	if err != nil {
		return err
	}

	id := c.nextID()
	pc := &pendingCall{resultCh: make(chan *jsonrpc.Response, 1)}

	c.pendingMu.Lock()
	c.pending[id] = pc
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	socket, err := c.currentSocket()
	if err != nil {
		return err
	}
	data, err := jsonrpc.EncodeMessage(&jsonrpc.Request{ID: jsonrpc.StringID(id), Method: method, Params: payload})
	if err != nil {
		return fmt.Errorf("rpc: encoding call: %w", err)
	}
	if err := socket.Send(ctx, data); err != nil {
		return NewError(KindNotConnected, err)
	}

	select {
	case resp := <-pc.resultCh:
		if resp.Error != nil {
			return NewError(errorKindFromData(resp.Error.Data), resp.Error)
		}
		return c.validateInbound(method, resp.Result, result)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return NewError(KindTimeout, ctx.Err())
		}
		return NewError(KindCanceled, ctx.Err())
	}
}

// SendWithRetry is the outer retrying send: each attempt gets
// baseTimeout*attemptNumber to complete (the timeoutFactor widening spec's
// send(method, inputs, {timeoutFactor}) names), a TIMEOUT failure is
// retried per Retry up to MaxAttempts with RetryInterval*attemptNumber
// backoff between attempts, and exhausting attempts surfaces as
// KindMaxRetries. Any other failure returns immediately. baseTimeout <= 0
// leaves ctx's own deadline (if any) in force for every attempt.
func (c *Client) SendWithRetry(ctx context.Context, method string, params, result any, baseTimeout time.Duration) error {
	maxAttempts := c.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	for attempt := 1; ; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if baseTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, baseTimeout*time.Duration(attempt))
		}
		err := c.Call(callCtx, method, params, result)
		if cancel != nil {
			cancel()
		}
		if err == nil || !Is(err, KindTimeout) {
			return err
		}
		if attempt >= maxAttempts {
			return NewError(KindMaxRetries, err)
		}
		if werr := sleepCtx(ctx, c.Retry.RetryInterval*time.Duration(attempt)); werr != nil {
			return NewError(KindCanceled, werr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) validateOutbound(method string, params any) (jsonrpc.RawMessage, error) {
	raw, err := jsonrpc.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshaling params for %q: %w", method, err)
	}
	if rm, ok := c.PeerMethods.lookup(method); ok {
		validated, err := validateAgainst(rm.inputResolved, raw)
		if err != nil {
			return nil, NewError(KindSchemaInvalid, fmt.Errorf("method %q: %w", method, err))
		}
		return validated, nil
	}
	return raw, nil
}

func (c *Client) validateInbound(method string, raw jsonrpc.RawMessage, result any) error {
	rm, ok := c.PeerMethods.lookup(method)
	if !ok || rm.outputResolved == nil {
		if result == nil || len(raw) == 0 {
			return nil
		}
		if err := jsonrpc.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("rpc: decoding result for %q: %w", method, err)
		}
		return nil
	}
	validated, err := validateAgainst(rm.outputResolved, raw)
	if err != nil {
		return NewError(KindSchemaInvalid, fmt.Errorf("method %q result: %w", method, err))
	}
	if result != nil {
		if err := jsonrpc.Unmarshal(validated, result); err != nil {
			return fmt.Errorf("rpc: decoding validated result for %q: %w", method, err)
		}
	}
	return nil
}

// handleMessage is the Socket.SetOnMessage callback: it decodes one
// payload and either delivers it to a pending Call or dispatches it to a
// registered HostMethods handler.
func (c *Client) handleMessage(payload []byte) {
	msg, err := jsonrpc.DecodeMessage(payload)
	if err != nil {
		return
	}
	switch m := msg.(type) {
	case *jsonrpc.Response:
		c.pendingMu.Lock()
		pc, ok := c.pending[m.ID.String()]
		c.pendingMu.Unlock()
		if ok {
			pc.resultCh <- m
		}
	case *jsonrpc.Request:
		go c.dispatch(m)
	}
}

func (c *Client) dispatch(req *jsonrpc.Request) {
	defer func() {
		if r := recover(); r != nil && req.IsCall() {
			c.replyError(req, NewError(KindFatal, fmt.Errorf("panic in handler: %v", r)))
			if c.OnDispatchPanic != nil {
				c.OnDispatchPanic(req.Method, r)
			}
		}
	}()

	rm, ok := c.HostMethods.lookup(req.Method)
	if !ok {
		if req.IsCall() {
			c.replyError(req, NewError(KindMethodUnknown, fmt.Errorf("unknown method %q", req.Method)))
		}
		return
	}

	validated, err := validateAgainst(rm.inputResolved, req.Params)
	if err != nil {
		if req.IsCall() {
			c.replyError(req, NewError(KindSchemaInvalid, err))
		}
		return
	}

	result, err := rm.spec.Handler(context.Background(), validated)
	if !req.IsCall() {
		return
	}
	if err != nil {
		c.replyError(req, err)
		return
	}

	var outValidated jsonrpc.RawMessage
	if result != nil {
		raw, err := jsonrpc.Marshal(result)
		if err != nil {
			c.replyError(req, NewError(KindFatal, err))
			return
		}
		outValidated, err = validateAgainst(rm.outputResolved, raw)
		if err != nil {
			c.replyError(req, NewError(KindSchemaInvalid, err))
			return
		}
	}

	socket, sockErr := c.currentSocket()
	if sockErr != nil {
		return
	}
	data, err := jsonrpc.EncodeMessage(&jsonrpc.Response{ID: req.ID, Result: outValidated})
	if err != nil {
		return
	}
	_ = socket.Send(context.Background(), data)
}

// errorKindFromData recovers the ErrorKind a peer's replyError attached to
// the response's Data field, defaulting to KindFatal when absent or from a
// peer implementation that doesn't tag errors this way.
func errorKindFromData(data any) ErrorKind {
	m, ok := data.(map[string]any)
	if !ok {
		return KindFatal
	}
	kind, ok := m["kind"].(string)
	if !ok {
		return KindFatal
	}
	return ErrorKind(kind)
}

func (c *Client) replyError(req *jsonrpc.Request, err error) {
	socket, sockErr := c.currentSocket()
	if sockErr != nil {
		return
	}
	kind := KindFatal
	if rpcErr, ok := err.(*Error); ok {
		kind = rpcErr.Kind
	}
	data, encErr := jsonrpc.EncodeMessage(&jsonrpc.Response{
		ID: req.ID,
		Error: &jsonrpc.Error{
			Code:    jsonrpc.CodeInternalError,
			Message: err.Error(),
			Data:    map[string]string{"kind": string(kind)},
		},
	})
	if encErr != nil {
		return
	}
	_ = socket.Send(context.Background(), data)
}
