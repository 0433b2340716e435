package transport

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chronicals/sdk/internal/chunk"
)

// WebSocketOptions configures a WebSocketSocket.
type WebSocketOptions struct {
	// Endpoint is the orchestrator WebSocket URL, e.g.
	// "wss://orchestrator.example.com/host".
	Endpoint string

	// Header carries additional handshake headers, typically the
	// x-api-key credential.
	Header http.Header

	// Dialer is the gorilla dialer to use. DefaultDialer is used if nil.
	Dialer *websocket.Dialer

	// ConnectTimeout bounds the initial handshake. Zero means no timeout
	// beyond the caller's context.
	ConnectTimeout time.Duration

	// SendTimeout bounds each outbound frame write. Zero means no
	// additional timeout beyond the caller's context.
	SendTimeout time.Duration

	// PingTimeout bounds each Ping round trip.
	PingTimeout time.Duration
}

// WebSocketSocket is the production Socket implementation, built on
// gorilla/websocket and internal/chunk for large-payload framing.
type WebSocketSocket struct {
	opts       WebSocketOptions
	instanceID string

	mu   sync.Mutex // serializes writes
	conn *websocket.Conn

	reassembler *chunk.Reassembler

	onMessage func([]byte)
	onClose   func(error)

	closeOnce sync.Once
	readDone  chan struct{}
}

// NewWebSocketSocket constructs a socket bound to opts, generating a fresh
// stable instance ID for the life of this Socket value.
func NewWebSocketSocket(opts WebSocketOptions) *WebSocketSocket {
	return &WebSocketSocket{
		opts:        opts,
		instanceID:  randomID(),
		reassembler: chunk.NewReassembler(),
		readDone:    make(chan struct{}),
	}
}

func randomID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *WebSocketSocket) InstanceID() string { return s.instanceID }

func (s *WebSocketSocket) SetOnMessage(f func([]byte)) { s.onMessage = f }
func (s *WebSocketSocket) SetOnClose(f func(error))    { s.onClose = f }

// Connect dials the configured endpoint and starts the background read
// loop that feeds SetOnMessage.
func (s *WebSocketSocket) Connect(ctx context.Context) error {
	dialer := s.opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	dialCtx := ctx
	var cancel context.CancelFunc
	if s.opts.ConnectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	conn, resp, err := dialer.DialContext(dialCtx, s.opts.Endpoint, s.opts.Header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("transport: websocket dial failed: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("transport: websocket dial failed: %w", err)
	}

	s.conn = conn
	go s.readLoop()
	return nil
}

func (s *WebSocketSocket) readLoop() {
	defer close(s.readDone)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.onClose != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.onClose(io.EOF)
				} else {
					s.onClose(fmt.Errorf("transport: websocket read error: %w", err))
				}
			}
			return
		}
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		var frame chunk.Frame
		if err := decodeFrameEnvelope(data, &frame); err != nil {
			if s.onClose != nil {
				s.onClose(fmt.Errorf("transport: malformed frame: %w", err))
			}
			return
		}

		payload, ok, err := s.reassembler.Add(frame)
		if err != nil {
			if s.onClose != nil {
				s.onClose(fmt.Errorf("transport: chunk reassembly: %w", err))
			}
			return
		}
		if ok && s.onMessage != nil {
			s.onMessage(payload)
		}
	}
}

// Send splits payload into ordered chunk frames (internal/chunk.Split) and
// writes each as a single WebSocket text message, under the write mutex so
// concurrent Send calls never interleave a frame's bytes.
func (s *WebSocketSocket) Send(ctx context.Context, payload []byte) error {
	frameID := randomID()
	frames := chunk.Split(frameID, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.SendTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.opts.SendTimeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}

	for _, f := range frames {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		data, err := encodeFrameEnvelope(f)
		if err != nil {
			return fmt.Errorf("transport: encoding frame: %w", err)
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("transport: websocket write error: %w", err)
		}
	}
	return nil
}

// Ping sends a WebSocket control ping and waits for the corresponding pong,
// bounded by ctx and PingTimeout.
func (s *WebSocketSocket) Ping(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.PingTimeout)
	if d, ok := ctx.Deadline(); ok && (s.opts.PingTimeout == 0 || d.Before(deadline)) {
		deadline = d
	}

	pongCh := make(chan struct{}, 1)
	s.conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	s.mu.Lock()
	err := s.conn.WriteControl(websocket.PingMessage, nil, deadline)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("transport: ping write failed: %w", err)
	}

	select {
	case <-pongCh:
		return nil
	case <-time.After(time.Until(deadline)):
		return fmt.Errorf("transport: ping timed out")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the underlying connection, unblocking the read loop.
func (s *WebSocketSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// WebSocketDialer is the Dialer counterpart used by package host's
// reconnect loop to mint a fresh WebSocketSocket per attempt while sharing
// dial configuration.
type WebSocketDialer struct {
	Opts WebSocketOptions
}

func (d WebSocketDialer) Dial(instanceID string) Socket {
	s := NewWebSocketSocket(d.Opts)
	if instanceID != "" {
		s.instanceID = instanceID
	}
	return s
}
