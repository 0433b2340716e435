// Package chunk splits outbound frames too large for a single WebSocket
// message into an ordered sequence of chunk frames, and reassembles an
// inbound sequence back into the original bytes. It knows nothing about
// JSON-RPC; it operates purely on byte payloads and an opaque frame ID
// supplied by the caller.
package chunk

import (
	"fmt"
	"sync"
)

// MaxFrameBytes is the largest payload sent as a single, unsplit WebSocket
// message. Payloads larger than this are split into ordered parts.
const MaxFrameBytes = 64 * 1024

// Header precedes every wire frame, chunked or not. Index counts from 0;
// Total is the number of parts the frame was split into (1 for an unsplit
// frame).
type Header struct {
	FrameID string `json:"frameId"`
	Index   int    `json:"index"`
	Total   int    `json:"total"`
}

// Frame is one wire-level unit: a header plus its slice of the payload.
type Frame struct {
	Header  Header
	Payload []byte
}

// Split divides payload into one or more Frames no larger than
// MaxFrameBytes each, sharing frameID so the peer can reassemble them.
func Split(frameID string, payload []byte) []Frame {
	if len(payload) <= MaxFrameBytes {
		return []Frame{{Header: Header{FrameID: frameID, Index: 0, Total: 1}, Payload: payload}}
	}
	total := (len(payload) + MaxFrameBytes - 1) / MaxFrameBytes
	frames := make([]Frame, 0, total)
	for i := 0; i < total; i++ {
		start := i * MaxFrameBytes
		end := start + MaxFrameBytes
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, Frame{
			Header:  Header{FrameID: frameID, Index: i, Total: total},
			Payload: payload[start:end],
		})
	}
	return frames
}

// Reassembler buffers partial frame sequences from a single connection and
// reports a full payload once every part of a frame ID has arrived. It is
// safe for concurrent use since a connection's read loop may hand off
// reassembly work while accepting the next incoming frame.
type Reassembler struct {
	mu      sync.Mutex
	pending map[string]*partial
}

type partial struct {
	total int
	parts map[int][]byte
}

// NewReassembler returns an empty Reassembler.
func NewReassembler() *Reassembler {
	return &Reassembler{pending: make(map[string]*partial)}
}

// Add feeds one received Frame into the reassembler. It returns the
// complete payload and ok=true once the frame's final part has arrived;
// otherwise it returns ok=false while more parts are awaited.
func (r *Reassembler) Add(f Frame) (payload []byte, ok bool, err error) {
	if f.Header.Total <= 0 {
		return nil, false, fmt.Errorf("chunk: invalid total %d for frame %q", f.Header.Total, f.Header.FrameID)
	}
	if f.Header.Index < 0 || f.Header.Index >= f.Header.Total {
		return nil, false, fmt.Errorf("chunk: index %d out of range [0,%d) for frame %q", f.Header.Index, f.Header.Total, f.Header.FrameID)
	}

	if f.Header.Total == 1 {
		return f.Payload, true, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.pending[f.Header.FrameID]
	if !exists {
		p = &partial{total: f.Header.Total, parts: make(map[int][]byte, f.Header.Total)}
		r.pending[f.Header.FrameID] = p
	}
	if p.total != f.Header.Total {
		return nil, false, fmt.Errorf("chunk: frame %q total changed from %d to %d", f.Header.FrameID, p.total, f.Header.Total)
	}
	p.parts[f.Header.Index] = f.Payload

	if len(p.parts) < p.total {
		return nil, false, nil
	}

	delete(r.pending, f.Header.FrameID)
	size := 0
	for _, part := range p.parts {
		size += len(part)
	}
	full := make([]byte, 0, size)
	for i := 0; i < p.total; i++ {
		full = append(full, p.parts[i]...)
	}
	return full, true, nil
}

// Discard drops any buffered parts for frameID, used when a peer reports a
// frame as abandoned (e.g. connection reset mid-transfer).
func (r *Reassembler) Discard(frameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, frameID)
}
