// Package host implements the Host Session: the reconnecting WebSocket
// lifecycle state machine, the resend engine that replays unacknowledged
// outbound artifacts after a reconnect, the ping loop, route-change
// re-initialization, and the shutdown coordinator. It is the component
// that wires together rpc.Client, route.Tree, txn.Manager, and
// page.Manager into one running host.
package host

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"golang.org/x/time/rate"

	"github.com/chronicals/sdk/internal/clog"
	"github.com/chronicals/sdk/ioclient"
	"github.com/chronicals/sdk/jsonrpc"
	"github.com/chronicals/sdk/page"
	"github.com/chronicals/sdk/pending"
	"github.com/chronicals/sdk/route"
	"github.com/chronicals/sdk/rpc"
	"github.com/chronicals/sdk/transport"
	"github.com/chronicals/sdk/txn"
)

func anySchema() *jsonschema.Schema { return &jsonschema.Schema{} }

// Session is one host's connection to the orchestrator: one state
// machine, one rpc.Client rebindable across reconnects, and the
// Transaction/Page Managers that dispatch inbound calls.
type Session struct {
	opts   Options
	dialer transport.Dialer
	tree   *route.Tree
	logger *clog.Logger

	client  *rpc.Client
	store   *pending.Store
	router  *ioclient.Router
	txnMgr  *txn.Manager
	pageMgr *page.Manager

	mu           sync.Mutex
	state        State
	instanceID   string
	socket       transport.Socket
	draining     bool
	organization any
	environment  string
	lastPingOK   time.Time

	pingNoise rate.Sometimes

	closeOnce sync.Once
	closedCh  chan struct{}
}

// New constructs a Session bound to dialer for transport connections and
// tree for the declared route set. Handlers registered on tree before the
// first successful connect are declared on INITIALIZE_HOST; routes added
// afterward trigger a debounced re-declare.
func New(dialer transport.Dialer, tree *route.Tree, opts Options) *Session {
	opts = opts.withDefaults()

	store := pending.NewStore()
	router := ioclient.NewRouter()
	client := rpc.NewClient()
	client.Retry = rpc.RetryPolicy{
		RetryInterval: opts.RetryInterval,
		MaxAttempts:   opts.MaxResendAttempts,
	}

	s := &Session{
		opts:     opts,
		dialer:   dialer,
		tree:     tree,
		logger:   clog.New(clog.ParseLevel(opts.LogLevel), nil),
		client:   client,
		store:    store,
		router:   router,
		pageMgr:  page.NewManager(client, store.Layouts, store.Loading, opts.SendTimeout),
		closedCh: make(chan struct{}),
		pingNoise: rate.Sometimes{
			Interval: time.Minute,
		},
	}
	s.txnMgr = txn.NewManager(client, tree, store.IO, store.Loading, router, txn.Options{
		OnError: func(err error, actionSlug string, params any, environment string, user any) {
			if opts.OnError != nil {
				opts.OnError(err, actionSlug, params, environment, user)
			}
		},
		CompletionCallback:       opts.CompletionCallback,
		CompleteHTTPRequestDelay: opts.CompleteHTTPRequestDelay,
		SendTimeout:              opts.SendTimeout,
	})
	return s
}

// State reports the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run dials the orchestrator, performs the initial handshake, and then
// blocks — serving inbound calls, reconnecting transparently on socket
// loss — until the context is canceled or the Session is closed via
// SafelyClose/ImmediatelyClose.
func (s *Session) Run(ctx context.Context) error {
	if err := s.registerMethods(); err != nil {
		return fmt.Errorf("host: registering methods: %w", err)
	}

	s.setState(StateConnecting)
	sock := s.dialer.Dial(s.opts.InstanceID)
	s.mu.Lock()
	s.instanceID = sock.InstanceID()
	s.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	err := sock.Connect(connectCtx)
	cancel()
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("host: initial connect failed: %w", err)
	}
	s.bindSocket(sock)

	s.setState(StateInitializing)
	if err := s.initializeHost(ctx, true); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("host: initial handshake failed: %w", err)
	}

	s.setState(StateServing)
	s.lastPingOK = time.Now()

	go s.pingLoop()
	go s.routeChangeLoop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closedCh:
		return nil
	}
}

// DeclareOnce performs exactly the initial connect-and-declare handshake —
// no serving loop, no ping loop, no reconnect — and then closes. This is
// the singleshot adapter's {httpHostId} path: the orchestrator only wants
// the route table re-declared, not a connection held open to serve a
// transaction.
func (s *Session) DeclareOnce(ctx context.Context) error {
	if err := s.registerMethods(); err != nil {
		return fmt.Errorf("host: registering methods: %w", err)
	}

	s.setState(StateConnecting)
	sock := s.dialer.Dial(s.opts.InstanceID)
	s.mu.Lock()
	s.instanceID = sock.InstanceID()
	s.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, s.opts.ConnectTimeout)
	err := sock.Connect(connectCtx)
	cancel()
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("host: declare connect failed: %w", err)
	}
	s.bindSocket(sock)

	s.setState(StateInitializing)
	if err := s.initializeHost(ctx, true); err != nil {
		s.setState(StateFailed)
		_ = s.ImmediatelyClose()
		return fmt.Errorf("host: declare handshake failed: %w", err)
	}

	return s.ImmediatelyClose()
}

func (s *Session) bindSocket(sock transport.Socket) {
	sock.SetOnClose(s.handleSocketClosed)
	s.client.Rebind(sock)
	s.mu.Lock()
	s.socket = sock
	s.mu.Unlock()
}

func (s *Session) currentSocket() transport.Socket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socket
}

// registerMethods wires every peer-to-host call this Session answers:
// page open/close directly, and transaction lifecycle via txnMgr.
func (s *Session) registerMethods() error {
	if err := s.client.HostMethods.Register(rpc.Method{
		Name:        "OPEN_PAGE",
		InputSchema: anySchema(),
		Handler:     s.handleOpenPage,
	}); err != nil {
		return err
	}
	if err := s.client.HostMethods.Register(rpc.Method{
		Name:        "CLOSE_PAGE",
		InputSchema: anySchema(),
		IsNotify:    true,
		Handler:     s.handleClosePage,
	}); err != nil {
		return err
	}
	return s.txnMgr.RegisterMethods()
}

func (s *Session) handleOpenPage(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
	var p OpenPageParams
	if err := jsonrpc.Unmarshal(raw, &p); err != nil {
		return OpenPageResult{Type: "ERROR", Message: "malformed OPEN_PAGE params"}, nil
	}

	s.mu.Lock()
	draining := s.draining
	s.mu.Unlock()
	if draining {
		return OpenPageResult{Type: "ERROR", Message: "host is shutting down"}, nil
	}

	rt, ok := s.tree.Lookup(p.Page.Slug)
	if !ok || rt.Kind != route.KindPage || rt.PageHandler == nil {
		return OpenPageResult{Type: "ERROR", Message: fmt.Sprintf("unknown page %q", p.Page.Slug)}, nil
	}

	io := ioclient.New(p.PageKey, s.client, s.store.IO, s.store.Loading, s.router, s.opts.SendTimeout)
	pg := s.pageMgr.Open(p.PageKey, p.PageKey, p.Page.Slug)
	hctx := &route.Context{
		TransactionID: p.PageKey,
		ActionSlug:    p.Page.Slug,
		User:          p.User,
		Environment:   p.Environment,
		Params:        p.Params,
		ParamsMeta:    p.ParamsMeta,
		Log:           func(args ...any) {},
		SetLoading: func(state any) {
			loading, _ := state.(bool)
			_ = pg.SetLoading(context.Background(), loading)
		},
		Redirect: func(props any) {},
		Notify:   func(config any) {},
	}

	go func() {
		layout, err := rt.PageHandler(context.Background(), io, hctx, p.Params)
		if err != nil {
			pg.SetLayout(&page.Layout{Errors: []string{err.Error()}})
			return
		}
		pg.SetLayout(layout)
	}()

	return OpenPageResult{Type: "SUCCESS", PageKey: p.PageKey}, nil
}

func (s *Session) handleClosePage(ctx context.Context, raw jsonrpc.RawMessage) (any, error) {
	var p ClosePageParams
	if err := jsonrpc.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	s.router.CloseTransaction(p.PageKey)
	_ = s.pageMgr.Close(context.Background(), p.PageKey)
	s.router.Forget(p.PageKey)
	return nil, nil
}

// initializeHost sends INITIALIZE_HOST, declaring the currently
// registered routes, and records the organization/environment the
// orchestrator assigns. When initial is true, an all-slugs-invalid
// response is a fatal error; on a route-change re-declare it is merely
// logged.
func (s *Session) initializeHost(ctx context.Context, initial bool) error {
	actions, pages := s.tree.Declare()
	params := InitializeHostParams{
		Actions:    actions,
		Groups:     pages,
		SDKName:    s.opts.SDKName,
		SDKVersion: s.opts.SDKVersion,
		RequestID:  s.opts.RequestID,
		Timestamp:  time.Now().UnixMilli(),
	}

	var result InitializeHostResult
	if err := s.client.SendWithRetry(ctx, "INITIALIZE_HOST", params, &result, s.opts.ConnectTimeout); err != nil {
		return err
	}
	if result.Type == "error" {
		return fmt.Errorf("host: INITIALIZE_HOST rejected: %s", result.Message)
	}
	if len(result.InvalidSlugs) > 0 {
		s.logger.Warn("orchestrator rejected invalid slugs: %v", result.InvalidSlugs)
		total := len(actions) + len(pages)
		if initial && total > 0 && len(result.InvalidSlugs) == total {
			return fmt.Errorf("host: all declared slugs were invalid")
		}
	}
	for _, w := range result.Warnings {
		s.logger.Warn("%s", w)
	}
	if result.SDKAlert != "" {
		s.logger.Warn("sdk alert: %s", result.SDKAlert)
	}

	s.mu.Lock()
	s.organization = result.Organization
	s.environment = result.Environment
	s.mu.Unlock()
	return nil
}

// handleSocketClosed is the transport.Socket.SetOnClose callback. A close
// while Draining or Closed is expected (we asked for it); any other close
// triggers the reconnect loop.
func (s *Session) handleSocketClosed(err error) {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st == StateDraining || st == StateClosed {
		return
	}
	s.setState(StateReconnecting)
	go s.reconnectLoop()
}

// reconnectLoop repeatedly dials a fresh socket carrying the same
// instanceId until one connects and re-handshakes successfully, then
// triggers the resend engine. Backoff between attempts is
// retryInterval*attemptNumber, computed via a rate.Limiter reservation
// rather than a bare time.Sleep loop.
func (s *Session) reconnectLoop() {
	attempt := 1
	for {
		if s.getState() == StateClosed {
			return
		}

		sock := s.dialer.Dial(s.instanceIDSnapshot())
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ConnectTimeout)
		err := sock.Connect(ctx)
		cancel()
		if err == nil {
			s.bindSocket(sock)
			if err := s.initializeHost(context.Background(), false); err == nil {
				s.setState(StateServing)
				s.mu.Lock()
				s.lastPingOK = time.Now()
				s.mu.Unlock()
				s.resendAll()
				return
			}
		}

		if werr := waitBackoff(context.Background(), s.opts.RetryInterval*time.Duration(attempt)); werr != nil {
			return
		}
		attempt++
	}
}

func (s *Session) instanceIDSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instanceID
}

// waitBackoff blocks for interval, computed through a rate.Limiter
// reservation rather than a bare time.Sleep so the reconnect loop's
// pacing is expressed with the same primitive as the ping loop's noise
// gate.
func waitBackoff(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	lim := rate.NewLimiter(rate.Every(interval), 1)
	lim.Allow() // consume the initial burst so the reservation below delays
	r := lim.Reserve()
	defer r.Cancel()
	select {
	case <-time.After(r.Delay()):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pingLoop sends a liveness ping every PingInterval while Serving. A ping
// failure is logged at most once per minute (rate.Sometimes); if no ping
// has succeeded for longer than CloseUnresponsiveConnectionTimeout, the
// socket is forced closed to trigger a reconnect.
func (s *Session) pingLoop() {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closedCh:
			return
		case <-ticker.C:
			if s.getState() != StateServing {
				continue
			}
			sock := s.currentSocket()
			if sock == nil {
				continue
			}
			pctx, cancel := context.WithTimeout(context.Background(), s.opts.PingTimeout)
			err := sock.Ping(pctx)
			cancel()
			if err != nil {
				s.pingNoise.Do(func() {
					s.logger.Warn("ping failed: %v", err)
				})
				s.mu.Lock()
				stale := time.Since(s.lastPingOK) > s.opts.CloseUnresponsiveConnectionTimeout
				s.mu.Unlock()
				if stale {
					s.logger.Warn("no successful ping in %s, forcing reconnect", s.opts.CloseUnresponsiveConnectionTimeout)
					_ = sock.Close()
				}
				continue
			}
			s.mu.Lock()
			s.lastPingOK = time.Now()
			s.mu.Unlock()
		}
	}
}

// routeChangeLoop re-declares routes to the orchestrator whenever the
// route tree changes, debounced by ReinitializeBatchTimeout.
func (s *Session) routeChangeLoop() {
	ch := s.tree.Subscribe(s.opts.ReinitializeBatchTimeout)
	for {
		select {
		case <-s.closedCh:
			return
		case <-ch:
			if s.getState() != StateServing {
				continue
			}
			if err := s.initializeHost(context.Background(), false); err != nil {
				s.logger.Warn("re-initialize after route change failed: %v", err)
			}
		}
	}
}

// resendAll replays every entry across the three pending maps after a
// reconnect, each independently (no cross-map ordering).
func (s *Session) resendAll() {
	for _, m := range []*pending.Map{s.store.IO, s.store.Layouts, s.store.Loading} {
		for _, e := range m.Snapshot() {
			go s.resendEntry(m, e)
		}
	}
}

// resendEntry retries one pending artifact's send up to MaxResendAttempts
// rounds, linear backoff retryInterval*attemptNumber between rounds.
// CANCELED/TRANSACTION_CLOSED drop the entry immediately; any other
// terminal ack (SUCCESS or ERROR) also clears it, since a peer-visible
// ERROR means the orchestrator saw and rejected the call, not that it was
// lost in transit.
func (s *Session) resendEntry(m *pending.Map, e *pending.Entry) {
	attempt := e.AttemptNumber
	if attempt < 1 {
		attempt = 1
	}
	for attempt <= s.opts.MaxResendAttempts {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.SendTimeout)
		var ack rpc.AckResult
		err := s.client.Call(ctx, e.Method, e.Params, &ack)
		cancel()

		if err == nil {
			m.Delete(e.ID)
			return
		}
		if rpc.Is(err, rpc.KindCanceled) || rpc.Is(err, rpc.KindTransactionClosed) {
			m.Delete(e.ID)
			return
		}

		attempt++
		e.AttemptNumber = attempt
		m.Put(e.ID, e)
		time.Sleep(s.opts.RetryInterval * time.Duration(attempt))
	}
	m.Delete(e.ID)
}

// SafelyClose begins a graceful shutdown: refuse new transactions and
// pages, tell the orchestrator, and wait for every in-flight transaction
// and pending IO response to drain before closing, bounded by
// DrainTimeout.
func (s *Session) SafelyClose(ctx context.Context) error {
	s.setState(StateDraining)
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	s.txnMgr.SetDraining(true)

	var shutdownResult BeginHostShutdownResult
	if err := s.client.SendWithRetry(ctx, "BEGIN_HOST_SHUTDOWN", BeginHostShutdownParams{}, &shutdownResult, s.opts.SendTimeout); err != nil {
		s.logger.Warn("BEGIN_HOST_SHUTDOWN failed: %v", err)
	}

	deadline := time.Now().Add(s.opts.DrainTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.txnMgr.Count() == 0 && s.router.PendingCount() == 0 {
			time.Sleep(s.opts.CompleteShutdownDelay)
			break
		}
		select {
		case <-ctx.Done():
			return s.ImmediatelyClose()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return s.ImmediatelyClose()
			}
		}
	}
	return s.ImmediatelyClose()
}

// ImmediatelyClose tears down synchronously: closes the socket, forgets
// every pending artifact, and transitions to Closed. Safe to call more
// than once.
func (s *Session) ImmediatelyClose() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		sock := s.currentSocket()
		if sock != nil {
			_ = sock.Close()
		}
		s.store.IO.DeletePrefix("")
		s.store.Layouts.DeletePrefix("")
		s.store.Loading.DeletePrefix("")
		close(s.closedCh)
	})
	return nil
}
