// Package route holds the registered tree of actions and pages a host
// exposes: the Route data model, slug validation, and the
// ActionDefinition/PageDefinition projections the protocol sends to the
// orchestrator on every (re-)initialize.
package route

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/chronicals/sdk/ioclient"
	"github.com/chronicals/sdk/page"
)

// Kind distinguishes an action route from a page route.
type Kind int

const (
	KindAction Kind = iota
	KindPage
)

// AccessPolicy controls who may invoke a route; it is opaque to this
// package and forwarded to the orchestrator as-is.
type AccessPolicy string

// Flags are the boolean modifiers a Route may carry.
type Flags struct {
	Unlisted       bool
	Backgroundable bool
	WarnOnClose    bool
}

// Context carries the per-invocation state and side-channel operations
// made available to a running handler: identity, the params it was
// invoked with, and callbacks wired by the transaction or page that owns
// this invocation (log, loading state, redirect, toast notification).
// The callbacks are closures supplied by the caller; this package only
// describes their shape.
type Context struct {
	TransactionID string
	ActionSlug    string
	User          any
	Organization  any
	Environment   string
	Params        any
	ParamsMeta    any

	Log        func(args ...any)
	SetLoading func(state any)
	Redirect   func(props any)
	Notify     func(config any)
}

// ActionHandler executes an action invocation given already-validated
// params, returning a result or an error. io is the handler's channel for
// streaming render instructions to the connected user.
type ActionHandler func(ctx context.Context, io *ioclient.IOClient, hctx *Context, params any) (any, error)

// PageHandler renders a page session, given already-validated params, and
// returns the Layout to render. Eventual title/description fields are
// resolved by the Page Manager independently of the rest of the layout.
type PageHandler func(ctx context.Context, io *ioclient.IOClient, hctx *Context, params any) (*page.Layout, error)

// Route is one entry in the registered tree: either a leaf action or a
// page, which may itself contain child routes.
type Route struct {
	Slug         string
	Kind         Kind
	Description  string
	AccessPolicy AccessPolicy
	Flags        Flags

	ActionHandler ActionHandler
	PageHandler   PageHandler

	Children map[string]*Route
	OnChange func()
}

// ActionDefinition is the wire-facing projection of an action Route, sent
// to the orchestrator on (re-)initialize.
type ActionDefinition struct {
	Slug         string       `json:"slug"`
	Description  string       `json:"description,omitempty"`
	AccessPolicy AccessPolicy `json:"accessPolicy,omitempty"`
	Unlisted     bool         `json:"unlisted,omitempty"`
}

// PageDefinition is the wire-facing projection of a page Route.
type PageDefinition struct {
	Slug           string           `json:"slug"`
	Description    string           `json:"description,omitempty"`
	AccessPolicy   AccessPolicy     `json:"accessPolicy,omitempty"`
	Unlisted       bool             `json:"unlisted,omitempty"`
	Backgroundable bool             `json:"backgroundable,omitempty"`
	WarnOnClose    bool             `json:"warnOnClose,omitempty"`
	Children       []PageDefinition `json:"children,omitempty"`
}

// slugPattern is the slug validation regex named by the protocol's
// configuration surface: letters, digits, underscore, dot, hyphen.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateSlug reports whether s is a legal route slug.
func ValidateSlug(s string) bool {
	return s != "" && slugPattern.MatchString(s)
}

// Tree is the mutable, registered set of routes a host exposes. The whole
// tree is guarded by a single RWMutex since add/remove/re-declare all
// touch the tree as a unit, unlike the finer-grained per-artifact maps in
// package pending.
type Tree struct {
	mu     sync.RWMutex
	routes map[string]*Route

	changeMu sync.Mutex
	changeCh chan struct{}
}

// NewTree returns an empty route tree.
func NewTree() *Tree {
	return &Tree{routes: make(map[string]*Route)}
}

// Add registers r, replacing any existing route with the same slug. It
// signals Subscribe's channel, debounced, so the host can re-declare
// without re-sending on every single registration during startup.
func (t *Tree) Add(r *Route) {
	t.mu.Lock()
	t.routes[r.Slug] = r
	t.mu.Unlock()
	t.signalChange()
}

// Remove unregisters the route at slug, if present.
func (t *Tree) Remove(slug string) {
	t.mu.Lock()
	_, existed := t.routes[slug]
	delete(t.routes, slug)
	t.mu.Unlock()
	if existed {
		t.signalChange()
	}
}

// Lookup returns the route at slug, if registered.
func (t *Tree) Lookup(slug string) (*Route, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.routes[slug]
	return r, ok
}

// signalChange is the "weak back-reference" design: routes (and their
// owners) never hold a handle back to the host coordinator. They only
// ever cause a channel send here, which Subscribe's goroutine debounces.
func (t *Tree) signalChange() {
	t.changeMu.Lock()
	ch := t.changeCh
	t.changeMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Subscribe returns a channel that receives a signal no more often than
// once per debounce window after the tree changes (add/remove). Only one
// subscriber is supported at a time — the host session is the sole
// consumer of route-tree change notifications.
func (t *Tree) Subscribe(debounce time.Duration) <-chan struct{} {
	raw := make(chan struct{}, 1)
	t.changeMu.Lock()
	t.changeCh = raw
	t.changeMu.Unlock()

	out := make(chan struct{}, 1)
	go func() {
		var timer *time.Timer
		var timerCh <-chan time.Time
		for {
			select {
			case _, ok := <-raw:
				if !ok {
					return
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
				timerCh = timer.C
			case <-timerCh:
				select {
				case out <- struct{}{}:
				default:
				}
				timerCh = nil
			}
		}
	}()
	return out
}

// Declare walks the tree once and returns the action and page projections
// sent to the orchestrator on (re-)initialize.
func (t *Tree) Declare() ([]ActionDefinition, []PageDefinition) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var actions []ActionDefinition
	var pages []PageDefinition
	for _, r := range t.routes {
		switch r.Kind {
		case KindAction:
			actions = append(actions, ActionDefinition{
				Slug:         r.Slug,
				Description:  r.Description,
				AccessPolicy: r.AccessPolicy,
				Unlisted:     r.Flags.Unlisted,
			})
		case KindPage:
			pages = append(pages, PageDefinition{
				Slug:           r.Slug,
				Description:    r.Description,
				AccessPolicy:   r.AccessPolicy,
				Unlisted:       r.Flags.Unlisted,
				Backgroundable: r.Flags.Backgroundable,
				WarnOnClose:    r.Flags.WarnOnClose,
				Children:       declareChildren(r.Children),
			})
		}
	}
	return actions, pages
}

func declareChildren(children map[string]*Route) []PageDefinition {
	if len(children) == 0 {
		return nil
	}
	out := make([]PageDefinition, 0, len(children))
	for _, r := range children {
		out = append(out, PageDefinition{
			Slug:           r.Slug,
			Description:    r.Description,
			AccessPolicy:   r.AccessPolicy,
			Unlisted:       r.Flags.Unlisted,
			Backgroundable: r.Flags.Backgroundable,
			WarnOnClose:    r.Flags.WarnOnClose,
			Children:       declareChildren(r.Children),
		})
	}
	return out
}
