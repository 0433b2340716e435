package host

import "time"

// State is one position in the host Session's lifecycle state machine.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateInitializing
	StateServing
	StateReconnecting
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateInitializing:
		return "initializing"
	case StateServing:
		return "serving"
	case StateReconnecting:
		return "reconnecting"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a Session; durations are idiomatic time.Duration
// rather than millisecond integers. Routes are not configured here: they
// come from the *route.Tree passed to New, and there is no routes or
// routes-directory field. Zero-valued fields are
// replaced by withDefaults with the values noted below.
type Options struct {
	APIKey   string
	Endpoint string
	LogLevel string

	// InstanceID, if set, is used for the very first dial instead of
	// letting the Dialer mint a fresh one. The singleshot adapter's
	// declare-only path sets this to the httpHostId it was asked to
	// declare.
	InstanceID string

	// RequestID, if set, is carried on the initial INITIALIZE_HOST call.
	// The singleshot adapter's serve-one-transaction path sets this so
	// the orchestrator can route the one transaction it cares about onto
	// this short-lived connection.
	RequestID string

	SDKName    string
	SDKVersion string

	RetryInterval                      time.Duration
	PingInterval                       time.Duration
	PingTimeout                        time.Duration
	ConnectTimeout                     time.Duration
	SendTimeout                        time.Duration
	CloseUnresponsiveConnectionTimeout time.Duration
	ReinitializeBatchTimeout           time.Duration
	CompleteHTTPRequestDelay           time.Duration
	CompleteShutdownDelay              time.Duration
	DrainTimeout                       time.Duration

	MaxResendAttempts int

	VerboseMessageLogs bool

	// OnError mirrors the orchestrator-visible onError(error, route,
	// params, environment, user) hook.
	OnError func(err error, actionSlug string, params any, environment string, user any)

	// CompletionCallback, if set, is invoked once a transaction started
	// with a non-empty requestId settles. The package singleshot adapter
	// uses this to learn when the one transaction an HTTP request is
	// waiting on has finished.
	CompletionCallback func(requestID string)
}

func (o Options) withDefaults() Options {
	if o.RetryInterval <= 0 {
		o.RetryInterval = 2 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 5 * time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.CloseUnresponsiveConnectionTimeout <= 0 {
		o.CloseUnresponsiveConnectionTimeout = 180 * time.Second
	}
	if o.ReinitializeBatchTimeout <= 0 {
		o.ReinitializeBatchTimeout = 200 * time.Millisecond
	}
	if o.CompleteHTTPRequestDelay <= 0 {
		o.CompleteHTTPRequestDelay = 250 * time.Millisecond
	}
	if o.CompleteShutdownDelay <= 0 {
		o.CompleteShutdownDelay = 500 * time.Millisecond
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 30 * time.Second
	}
	if o.MaxResendAttempts <= 0 {
		o.MaxResendAttempts = 5
	}
	if o.SDKName == "" {
		o.SDKName = "chronicals-host-go"
	}
	if o.SDKVersion == "" {
		o.SDKVersion = "0.1.0"
	}
	return o
}
