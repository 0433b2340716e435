package chunk

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestSplitSingleFrame(t *testing.T) {
	payload := []byte("small payload")
	frames := Split("f1", payload)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].Header.Total != 1 || frames[0].Header.Index != 0 {
		t.Fatalf("unexpected header %+v", frames[0].Header)
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestSplitAndReassemble(t *testing.T) {
	payload := make([]byte, MaxFrameBytes*3+17)
	rand.New(rand.NewSource(1)).Read(payload)

	frames := Split("big", payload)
	if len(frames) != 4 {
		t.Fatalf("got %d frames, want 4", len(frames))
	}

	r := NewReassembler()
	var got []byte
	var ok bool
	for i, f := range frames {
		var err error
		got, ok, err = r.Add(f)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if i < len(frames)-1 && ok {
			t.Fatalf("reassembled early at part %d", i)
		}
	}
	if !ok {
		t.Fatalf("did not reassemble after final part")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}
}

func TestReassembleOutOfOrder(t *testing.T) {
	payload := make([]byte, MaxFrameBytes*2+1)
	for i := range payload {
		payload[i] = byte(i)
	}
	frames := Split("ooo", payload)

	r := NewReassembler()
	order := []int{2, 0, 1}
	var got []byte
	var ok bool
	for _, idx := range order {
		var err error
		got, ok, err = r.Add(frames[idx])
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if !ok {
		t.Fatalf("expected reassembly to complete")
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("out-of-order reassembly mismatch")
	}
}

func TestReassemblerDiscard(t *testing.T) {
	payload := make([]byte, MaxFrameBytes+1)
	frames := Split("abandon", payload)

	r := NewReassembler()
	if _, ok, err := r.Add(frames[0]); err != nil || ok {
		t.Fatalf("unexpected state after first part: ok=%v err=%v", ok, err)
	}
	r.Discard("abandon")
	r.mu.Lock()
	_, exists := r.pending["abandon"]
	r.mu.Unlock()
	if exists {
		t.Fatalf("expected pending entry to be discarded")
	}
}

func TestAddInvalidTotal(t *testing.T) {
	r := NewReassembler()
	if _, _, err := r.Add(Frame{Header: Header{FrameID: "x", Index: 0, Total: 0}}); err == nil {
		t.Fatalf("expected error for total=0")
	}
}

func TestAddIndexOutOfRange(t *testing.T) {
	r := NewReassembler()
	if _, _, err := r.Add(Frame{Header: Header{FrameID: "x", Index: 5, Total: 2}}); err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}
