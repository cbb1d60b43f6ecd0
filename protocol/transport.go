package protocol

import (
	"sync"
	"sync/atomic"
)

// Receiver reassembles request frames from the serial link.
//
// Two delivery modes feed it. In byte mode the receive interrupt calls PushByte
// for every byte and the ring buffer absorbs them until Poll finds a frame. In
// frame mode a DMA-complete interrupt hands over a whole 12-byte block with
// DeliverFrame and a ready flag tells Poll to pick it up.
//
// Poll runs on the cooperative loop. It resynchronizes on the start marker,
// dropping one byte at a time over garbage or frames that fail validation, so a
// corrupted frame never costs more than its own bytes.
type Receiver struct {
	ring  RingBuffer
	guard sync.Locker

	slot      [FrameSize]byte
	slotReady uint32 // atomic bool

	scratch [FrameSize]byte

	accepted uint32 // atomic counters for diagnostics
	dropped  uint32
	skipped  uint32
	overruns uint32
}

// NewReceiver creates a Receiver buffering into storage.
// guard serializes the interrupt and poll sides; nil means the caller
// already runs both on one goroutine.
func NewReceiver(storage []byte, guard sync.Locker) *Receiver {
	r := &Receiver{guard: guard}
	r.ring.Init(storage)
	return r
}

func (r *Receiver) lock() {
	if r.guard != nil {
		r.guard.Lock()
	}
}

func (r *Receiver) unlock() {
	if r.guard != nil {
		r.guard.Unlock()
	}
}

// PushByte queues one received byte. Called from the receive interrupt.
// A full buffer drops the new byte and counts an overrun.
func (r *Receiver) PushByte(b byte) bool {
	r.lock()
	ok := r.ring.TryPut(b)
	r.unlock()
	if !ok {
		atomic.AddUint32(&r.overruns, 1)
	}
	return ok
}

// DeliverFrame hands over a complete block from the frame-mode receive interrupt.
// A block arriving before Poll consumed the previous one is dropped.
func (r *Receiver) DeliverFrame(b []byte) bool {
	if len(b) != FrameSize {
		atomic.AddUint32(&r.dropped, 1)
		return false
	}
	if atomic.LoadUint32(&r.slotReady) != 0 {
		atomic.AddUint32(&r.overruns, 1)
		return false
	}
	r.lock()
	copy(r.slot[:], b)
	r.unlock()
	atomic.StoreUint32(&r.slotReady, 1)
	return true
}

// Poll returns the next valid frame, if one is available
func (r *Receiver) Poll() (Frame, bool) {
	if atomic.LoadUint32(&r.slotReady) != 0 {
		r.lock()
		f, err := DecodeFrame(r.slot[:])
		r.unlock()
		atomic.StoreUint32(&r.slotReady, 0)
		if err == nil {
			atomic.AddUint32(&r.accepted, 1)
			return f, true
		}
		atomic.AddUint32(&r.dropped, 1)
	}

	for {
		f, status := r.scan()
		switch status {
		case scanFrame:
			atomic.AddUint32(&r.accepted, 1)
			return f, true
		case scanWait:
			return Frame{}, false
		}
	}
}

type scanStatus uint8

const (
	scanWait scanStatus = iota
	scanFrame
	scanAgain
)

// scan examines the head of the ring once
func (r *Receiver) scan() (Frame, scanStatus) {
	r.lock()
	defer r.unlock()

	if !r.ring.Peek(r.scratch[:2]) {
		return Frame{}, scanWait
	}
	if r.scratch[0] != StartByte0 || r.scratch[1] != StartByte1 {
		r.ring.Discard(1)
		atomic.AddUint32(&r.skipped, 1)
		return Frame{}, scanAgain
	}
	if !r.ring.Peek(r.scratch[:]) {
		return Frame{}, scanWait
	}
	f, err := DecodeFrame(r.scratch[:])
	if err != nil {
		r.ring.Discard(1)
		atomic.AddUint32(&r.dropped, 1)
		return Frame{}, scanAgain
	}
	r.ring.Discard(FrameSize)
	return f, scanFrame
}

// Reset drops any buffered bytes and a pending block
func (r *Receiver) Reset() {
	r.lock()
	r.ring.Reset()
	r.unlock()
	atomic.StoreUint32(&r.slotReady, 0)
}

// Buffered returns the number of bytes waiting in byte mode
func (r *Receiver) Buffered() int {
	r.lock()
	defer r.unlock()
	return r.ring.Size()
}

// ReceiverStats are cumulative counters for diagnostics
type ReceiverStats struct {
	Accepted uint32 // valid frames returned by Poll
	Dropped  uint32 // frames with a start marker that failed validation
	Skipped  uint32 // bytes discarded while hunting for a start marker
	Overruns uint32 // bytes or blocks lost to a full buffer
}

// Stats returns a snapshot of the counters
func (r *Receiver) Stats() ReceiverStats {
	return ReceiverStats{
		Accepted: atomic.LoadUint32(&r.accepted),
		Dropped:  atomic.LoadUint32(&r.dropped),
		Skipped:  atomic.LoadUint32(&r.skipped),
		Overruns: atomic.LoadUint32(&r.overruns),
	}
}
