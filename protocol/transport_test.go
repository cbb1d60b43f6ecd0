package protocol

import (
	"sync"
	"testing"
)

func pushAll(r *Receiver, data []byte) {
	for _, b := range data {
		r.PushByte(b)
	}
}

func TestReceiverSingleFrame(t *testing.T) {
	r := NewReceiver(make([]byte, 64), nil)
	f := Frame{Opcode: OpRelative, Arg: 200}
	b := f.Bytes()

	// Partial frame waits
	pushAll(r, b[:7])
	if _, ok := r.Poll(); ok {
		t.Fatal("Poll returned a frame from 7 bytes")
	}

	pushAll(r, b[7:])
	got, ok := r.Poll()
	if !ok {
		t.Fatal("Poll did not return the completed frame")
	}
	if got != f {
		t.Errorf("expected %+v, got %+v", f, got)
	}
	if r.Buffered() != 0 {
		t.Errorf("expected empty buffer, %d bytes left", r.Buffered())
	}
}

func TestReceiverResyncAfterGarbage(t *testing.T) {
	r := NewReceiver(make([]byte, 64), &sync.Mutex{})
	f := Frame{Opcode: OpGetPosition}
	b := f.Bytes()

	// Garbage including a lone start byte
	pushAll(r, []byte{0x00, 0xDE, 0x13, 0xDE})
	pushAll(r, b[:])

	got, ok := r.Poll()
	if !ok || got != f {
		t.Fatalf("expected %+v after garbage, got %+v (ok=%v)", f, got, ok)
	}
	if s := r.Stats(); s.Skipped != 4 || s.Accepted != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}

func TestReceiverDropsCorruptFrame(t *testing.T) {
	r := NewReceiver(make([]byte, 64), nil)
	bad := Frame{Opcode: OpRelative, Arg: 200}.Bytes()
	bad[9] ^= 0xFF
	good := Frame{Opcode: OpIdle}.Bytes()

	pushAll(r, bad[:])
	pushAll(r, good[:])

	got, ok := r.Poll()
	if !ok || got.Opcode != OpIdle {
		t.Fatalf("expected the IDLE frame following the corrupt one, got %+v (ok=%v)", got, ok)
	}
	if _, ok := r.Poll(); ok {
		t.Error("corrupt frame must not be delivered")
	}
	if s := r.Stats(); s.Dropped != 1 {
		t.Errorf("expected 1 dropped frame, got %+v", s)
	}
}

func TestReceiverBackToBackFrames(t *testing.T) {
	r := NewReceiver(make([]byte, 64), nil)
	first := Frame{Opcode: OpSpeed, Arg: 400}
	second := Frame{Opcode: OpStop}
	b1, b2 := first.Bytes(), second.Bytes()
	pushAll(r, b1[:])
	pushAll(r, b2[:])

	for _, want := range []Frame{first, second} {
		got, ok := r.Poll()
		if !ok || got != want {
			t.Errorf("expected %+v, got %+v (ok=%v)", want, got, ok)
		}
	}
}

func TestReceiverOverrun(t *testing.T) {
	r := NewReceiver(make([]byte, 4), nil)
	pushAll(r, []byte{1, 2, 3, 4, 5})
	if s := r.Stats(); s.Overruns != 1 {
		t.Errorf("expected 1 overrun, got %+v", s)
	}
}

func TestReceiverFrameMode(t *testing.T) {
	r := NewReceiver(nil, nil)
	f := Frame{Opcode: OpEmergencyStop}
	b := f.Bytes()

	if !r.DeliverFrame(b[:]) {
		t.Fatal("DeliverFrame rejected first block")
	}
	if r.DeliverFrame(b[:]) {
		t.Error("DeliverFrame accepted a block before the previous was consumed")
	}

	got, ok := r.Poll()
	if !ok || got != f {
		t.Fatalf("expected %+v, got %+v (ok=%v)", f, got, ok)
	}
	if _, ok := r.Poll(); ok {
		t.Error("frame slot should be empty after Poll")
	}

	b[3] ^= 0x01
	r.DeliverFrame(b[:])
	if _, ok := r.Poll(); ok {
		t.Error("corrupt block must be dropped")
	}
	if s := r.Stats(); s.Dropped != 1 || s.Overruns != 1 {
		t.Errorf("unexpected stats %+v", s)
	}
}
