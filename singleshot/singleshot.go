// Package singleshot implements the serverless HTTP/Lambda-style adapter:
// one inbound HTTP request buys exactly one connect, one piece of work,
// and one close. It never holds a socket open across requests the way
// package host's persistent Session does.
package singleshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/chronicals/sdk/host"
)

// SessionConfig carries the per-request knobs a Factory folds into the
// Session it builds: which instance/request this particular invocation is
// answering, and where to deliver the transaction-complete signal.
type SessionConfig struct {
	// InstanceID, if set, is used for the dial instead of a freshly
	// minted one. The {httpHostId} path sets this to the id the
	// orchestrator asked to be declared.
	InstanceID string
	// RequestID, if set, is carried on the initial INITIALIZE_HOST call
	// so the orchestrator can route the one transaction it cares about
	// onto this connection. The {requestId} path sets this.
	RequestID string
	// OnComplete, if set, is wired as the Session's transaction
	// completion hook (host.Options.CompletionCallback).
	OnComplete func(requestID string)
}

// Factory builds a fresh, not-yet-run Session scoped to one HTTP request.
// A Handler never reuses a Session across requests.
type Factory func(cfg SessionConfig) *host.Session

// Handler implements the single-shot HTTP surface described by the host
// protocol: POST / with {"requestId": "..."} serves exactly one
// transaction over a freshly dialed connection and closes; POST / with
// {"httpHostId": "..."} performs a declare-only connect/close. GET /
// reports liveness for health checks.
type Handler struct {
	Factory Factory

	// RequestTimeout bounds how long a {requestId} POST will wait for its
	// transaction to settle, and how long a {httpHostId} POST will wait
	// for the declare handshake. Defaults to 30s if zero.
	RequestTimeout time.Duration
}

type requestBody struct {
	RequestID  string `json:"requestId,omitempty"`
	HTTPHostID string `json:"httpHostId,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		w.WriteHeader(http.StatusOK)
	case http.MethodPost:
		h.serveOne(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) serveOne(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	switch {
	case body.RequestID != "":
		h.serveTransaction(w, r, body.RequestID)
	case body.HTTPHostID != "":
		h.declareHost(w, r, body.HTTPHostID)
	default:
		http.Error(w, "body must set requestId or httpHostId", http.StatusBadRequest)
	}
}

func (h *Handler) timeout() time.Duration {
	if h.RequestTimeout > 0 {
		return h.RequestTimeout
	}
	return 30 * time.Second
}

// serveTransaction dials a fresh connection, declares with requestId set,
// and waits for the one transaction the orchestrator routes onto it to
// settle (signaled through the Session's CompletionCallback), then closes.
func (h *Handler) serveTransaction(w http.ResponseWriter, r *http.Request, requestID string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	completed := make(chan struct{}, 1)
	sess := h.Factory(SessionConfig{
		RequestID: requestID,
		OnComplete: func(rid string) {
			if rid != requestID {
				return
			}
			select {
			case completed <- struct{}{}:
			default:
			}
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	select {
	case <-completed:
		_ = sess.ImmediatelyClose()
		w.WriteHeader(http.StatusOK)
	case err := <-runErr:
		if err != nil {
			_ = sess.ImmediatelyClose()
			http.Error(w, fmt.Sprintf("session error: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	case <-ctx.Done():
		_ = sess.ImmediatelyClose()
		http.Error(w, "timed out waiting for transaction to complete", http.StatusInternalServerError)
	}
}

// declareHost connects once under instanceId httpHostID, re-declares the
// route table, and closes without serving anything.
func (h *Handler) declareHost(w http.ResponseWriter, r *http.Request, httpHostID string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout())
	defer cancel()

	sess := h.Factory(SessionConfig{InstanceID: httpHostID})
	if err := sess.DeclareOnce(ctx); err != nil {
		http.Error(w, fmt.Sprintf("declare failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
