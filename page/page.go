// Package page implements the Page Manager: open page sessions, coalesce
// rapid layout updates into a single SEND_PAGE call, and deliver loading
// state and close notifications. Layout and loading sends are recorded in
// the pending maps shared with the rest of the host, so they can be resent
// after a reconnect; close notifications are not recorded.
package page

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronicals/sdk/pending"
	"github.com/chronicals/sdk/rpc"
)

// Layout is the renderable content of a page. Children and MenuItems are
// opaque payloads (no widget schema; see ioclient's doc comment for why).
type Layout struct {
	Title       Eventual[string]
	Description Eventual[string]
	Children    any
	MenuItems   any
	Errors      []string
}

// SendPageParams is the wire shape of the SEND_PAGE method.
type SendPageParams struct {
	PageID        string   `json:"pageId"`
	TransactionID string   `json:"transactionId"`
	Title         string   `json:"title,omitempty"`
	Description   string   `json:"description,omitempty"`
	Children      any      `json:"children,omitempty"`
	MenuItems     any      `json:"menuItems,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// SendPageLoadingParams is the wire shape of the SEND_PAGE_LOADING method.
type SendPageLoadingParams struct {
	PageID  string `json:"pageId"`
	Loading bool   `json:"loading"`
}

// ClosePageParams is the wire shape of the CLOSE_PAGE method.
type ClosePageParams struct {
	PageID string `json:"pageId"`
}

// Manager owns every open Page for the duration of a host session.
type Manager struct {
	client         *rpc.Client
	pendingLayouts *pending.Map
	pendingLoading *pending.Map
	sendTimeout    time.Duration

	mu    sync.Mutex
	pages map[string]*Page
}

// NewManager constructs a Manager bound to client for RPC sends, backed by
// the given pending maps for resend bookkeeping. sendTimeout is the
// per-attempt deadline SEND_PAGE's retrying send widens on each retry.
func NewManager(client *rpc.Client, pendingLayouts, pendingLoading *pending.Map, sendTimeout time.Duration) *Manager {
	return &Manager{
		client:         client,
		pendingLayouts: pendingLayouts,
		pendingLoading: pendingLoading,
		sendTimeout:    sendTimeout,
		pages:          make(map[string]*Page),
	}
}

// Open registers a new page session and returns its handle. id must be
// unique among currently open pages.
func (m *Manager) Open(id, transactionID, slug string) *Page {
	p := &Page{
		id:            id,
		transactionID: transactionID,
		slug:          slug,
		mgr:           m,
	}
	m.mu.Lock()
	m.pages[id] = p
	m.mu.Unlock()
	return p
}

// Lookup returns the open page with the given ID, if any.
func (m *Manager) Lookup(id string) (*Page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pages[id]
	return p, ok
}

// Close removes id from the set of open pages and notifies the peer.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.pages[id]
	delete(m.pages, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("page: unknown page %q", id)
	}
	return m.client.Notify(ctx, "CLOSE_PAGE", ClosePageParams{PageID: id})
}

// Page is one open page session's coalescing state machine: schedule()
// either starts sending the current layout right away or, if a send is
// already in flight, marks the session dirty so sendPage sends once more
// with whatever layout is current when the in-flight send completes.
type Page struct {
	id            string
	transactionID string
	slug          string
	mgr           *Manager

	mu          sync.Mutex
	layout      *Layout
	inFlight    bool
	pendingSend bool

	seq int64
}

// ID returns the page's identifier.
func (p *Page) ID() string { return p.id }

// SetLayout updates the page's pending layout and schedules a send. If no
// send is currently in flight, the update is sent right away (a zero-delay
// dispatch, not a debounce); if one is in flight, this update is coalesced
// with whatever others arrive before that send completes.
func (p *Page) SetLayout(layout *Layout) {
	p.mu.Lock()
	p.layout = layout
	p.mu.Unlock()
	p.schedule()
}

// schedule starts sending the page's current layout immediately if no send
// is in flight. If one is, it marks pendingSend so sendPage picks up
// whatever layout is current and sends once more after the in-flight send
// completes — never more than one send in flight and never more than one
// queued behind it.
func (p *Page) schedule() {
	p.mu.Lock()
	if p.inFlight {
		p.pendingSend = true
		p.mu.Unlock()
		return
	}
	p.inFlight = true
	layout := p.layout
	p.mu.Unlock()

	go p.sendPage(layout)
}

// sendPage performs the actual SEND_PAGE round trip for layout. On
// completion, if another update arrived while the send was in flight, it
// immediately sends again with the layout now current.
func (p *Page) sendPage(layout *Layout) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	callID := fmt.Sprintf("%s-layout-%d", p.id, atomic.AddInt64(&p.seq, 1))
	params := p.buildParams(ctx, layout)

	p.mgr.pendingLayouts.Put(callID, &pending.Entry{
		ID:            callID,
		Method:        "SEND_PAGE",
		Params:        params,
		AttemptNumber: 1,
	})
	var ack rpc.AckResult
	err := p.mgr.client.SendWithRetry(ctx, "SEND_PAGE", params, &ack, p.mgr.sendTimeout)
	if err == nil {
		p.mgr.pendingLayouts.Delete(callID)
	}

	p.mu.Lock()
	again := p.pendingSend
	p.pendingSend = false
	var next *Layout
	if again {
		next = p.layout
	} else {
		p.inFlight = false
	}
	p.mu.Unlock()

	if again {
		go p.sendPage(next)
	}
}

func (p *Page) buildParams(ctx context.Context, layout *Layout) SendPageParams {
	params := SendPageParams{PageID: p.id, TransactionID: p.transactionID}
	if layout == nil {
		return params
	}
	if title, err := layout.Title.Resolve(ctx); err == nil {
		params.Title = title
	}
	if desc, err := layout.Description.Resolve(ctx); err == nil {
		params.Description = desc
	}
	params.Children = layout.Children
	params.MenuItems = layout.MenuItems
	params.Errors = layout.Errors
	return params
}

// SetLoading sends a loading-state notification directly (no coalescing:
// loading transitions are few and must each be observed individually,
// unlike high-frequency layout updates).
func (p *Page) SetLoading(ctx context.Context, loading bool) error {
	callID := fmt.Sprintf("%s-loading-%d", p.id, atomic.AddInt64(&p.seq, 1))
	params := SendPageLoadingParams{PageID: p.id, Loading: loading}

	p.mgr.pendingLoading.Put(callID, &pending.Entry{
		ID:            callID,
		Method:        "SEND_PAGE_LOADING",
		Params:        params,
		AttemptNumber: 1,
	})
	err := p.mgr.client.Notify(ctx, "SEND_PAGE_LOADING", params)
	if err == nil {
		p.mgr.pendingLoading.Delete(callID)
	}
	return err
}
