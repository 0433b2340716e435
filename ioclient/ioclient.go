// Package ioclient provides the per-transaction handle an action or page
// handler uses to exchange render instructions with the connected user.
// The actual widget/render schema is out of scope for this module (see
// spec Non-goals); IOClient treats every instruction and response as an
// opaque, already-serialized payload.
package ioclient

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chronicals/sdk/pending"
	"github.com/chronicals/sdk/rpc"
)

// IOCall is one outbound render instruction, identified within its
// transaction.
type IOCall struct {
	ID            string
	TransactionID string
	Instruction   any
}

// SendIOCallParams is the wire shape of the SEND_IO_CALL method.
type SendIOCallParams struct {
	CallID        string `json:"callId"`
	TransactionID string `json:"transactionId"`
	Instruction   any    `json:"instruction"`
}

// SendIOCallAck is the wire shape of the peer's immediate reply to
// SEND_IO_CALL: delivery confirmation, not the user's eventual answer.
// The answer itself arrives later as a separate IO_RESPONSE call, routed
// by transactionId through a Router.
type SendIOCallAck struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
}

// IOClient is handed to action and page handlers so they can render
// instructions to, and await responses from, the connected user within one
// transaction.
type IOClient struct {
	transactionID  string
	client         *rpc.Client
	pendingIO      *pending.Map
	pendingLoading *pending.Map
	router         *Router
	sendTimeout    time.Duration

	seq int64
}

// New constructs an IOClient scoped to transactionID, backed by client for
// the RPC round trip, pendingIO/pendingLoading for resend bookkeeping
// across reconnects, and router for correlating the eventual IO_RESPONSE
// with this Render call. sendTimeout is the per-attempt deadline
// SEND_IO_CALL's retrying send widens on each retry.
func New(transactionID string, client *rpc.Client, pendingIO, pendingLoading *pending.Map, router *Router, sendTimeout time.Duration) *IOClient {
	return &IOClient{
		transactionID:  transactionID,
		client:         client,
		pendingIO:      pendingIO,
		pendingLoading: pendingLoading,
		router:         router,
		sendTimeout:    sendTimeout,
	}
}

func (c *IOClient) nextCallID() string {
	n := atomic.AddInt64(&c.seq, 1)
	return fmt.Sprintf("%s-io-%d", c.transactionID, n)
}

// Render sends instruction to the connected user and blocks for their
// response. The call is recorded in the pending IO map before sending, and
// removed once the orchestrator acknowledges delivery, so a reconnect before
// that ack can replay it via the resend engine (package host) instead of
// losing it. A delivery
// failure reported by the orchestrator surfaces as RENDER_ERROR; a
// CLOSE_TRANSACTION that arrives while this call is outstanding surfaces
// as CANCELED.
func (c *IOClient) Render(ctx context.Context, instruction any) (any, error) {
	waiter, err := c.router.register(c.transactionID)
	if err != nil {
		return nil, err
	}

	callID := c.nextCallID()
	params := SendIOCallParams{CallID: callID, TransactionID: c.transactionID, Instruction: instruction}

	c.pendingIO.Put(callID, &pending.Entry{
		ID:            callID,
		Method:        "SEND_IO_CALL",
		Params:        params,
		AttemptNumber: 1,
	})

	var ack SendIOCallAck
	if err := c.client.SendWithRetry(ctx, "SEND_IO_CALL", params, &ack, c.sendTimeout); err != nil {
		c.router.unregister(c.transactionID)
		c.pendingIO.Delete(callID)
		return nil, err
	}
	if ack.Type == "ERROR" {
		c.router.unregister(c.transactionID)
		c.pendingIO.Delete(callID)
		return nil, rpc.NewError(rpc.KindRenderError, fmt.Errorf("ioclient: %s", ack.Message))
	}
	c.pendingIO.Delete(callID)
	c.pendingLoading.Delete(c.transactionID)

	select {
	case ev := <-waiter:
		if ev.err != nil {
			return nil, ev.err
		}
		return ev.value, nil
	case <-ctx.Done():
		c.router.unregister(c.transactionID)
		return nil, rpc.NewError(rpc.KindCanceled, ctx.Err())
	}
}
