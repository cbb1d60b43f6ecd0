package protocol

// RingBuffer is a fixed-capacity byte FIFO over caller-provided storage.
// It never allocates after construction.
//
// The receive path uses it single-producer/single-consumer: the interrupt side
// only calls TryPut, which never moves the read position, and the poll side owns
// Get, Peek and Discard. Put overwrites the oldest byte and is for owners that
// prefer fresh data over old.
type RingBuffer struct {
	buf  []byte
	head int // next write
	tail int // next read
	full bool
}

// NewRingBuffer creates a RingBuffer over storage
func NewRingBuffer(storage []byte) *RingBuffer {
	r := &RingBuffer{}
	r.Init(storage)
	return r
}

// Init binds the buffer to storage and empties it
func (r *RingBuffer) Init(storage []byte) {
	r.buf = storage
	r.Reset()
}

// Reset empties the buffer
func (r *RingBuffer) Reset() {
	r.head = 0
	r.tail = 0
	r.full = false
}

// Capacity returns the storage size
func (r *RingBuffer) Capacity() int {
	return len(r.buf)
}

// Size returns the number of buffered bytes
func (r *RingBuffer) Size() int {
	if r.full {
		return len(r.buf)
	}
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return len(r.buf) - r.tail + r.head
}

// IsEmpty returns true if no bytes are buffered
func (r *RingBuffer) IsEmpty() bool {
	return !r.full && r.head == r.tail
}

// IsFull returns true if Size equals Capacity
func (r *RingBuffer) IsFull() bool {
	return r.full
}

func (r *RingBuffer) advance(i int) int {
	i++
	if i == len(r.buf) {
		return 0
	}
	return i
}

// Put appends b, discarding the oldest byte when full
func (r *RingBuffer) Put(b byte) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.head] = b
	if r.full {
		r.tail = r.advance(r.tail)
	}
	r.head = r.advance(r.head)
	r.full = r.head == r.tail
}

// TryPut appends b unless the buffer is full
func (r *RingBuffer) TryPut(b byte) bool {
	if r.full || len(r.buf) == 0 {
		return false
	}
	r.buf[r.head] = b
	r.head = r.advance(r.head)
	r.full = r.head == r.tail
	return true
}

// Get removes and returns the oldest byte
func (r *RingBuffer) Get() (byte, bool) {
	if r.IsEmpty() {
		return 0, false
	}
	b := r.buf[r.tail]
	r.tail = r.advance(r.tail)
	r.full = false
	return b, true
}

// GetN removes up to len(dst) bytes into dst and returns how many were copied
func (r *RingBuffer) GetN(dst []byte) int {
	n := 0
	for n < len(dst) {
		b, ok := r.Get()
		if !ok {
			break
		}
		dst[n] = b
		n++
	}
	return n
}

// Peek copies the oldest len(dst) bytes without removing them.
// It fails when fewer than len(dst) bytes are buffered.
func (r *RingBuffer) Peek(dst []byte) bool {
	if len(dst) > r.Size() {
		return false
	}
	i := r.tail
	for n := range dst {
		dst[n] = r.buf[i]
		i = r.advance(i)
	}
	return true
}

// Discard drops up to n of the oldest bytes and returns how many were dropped
func (r *RingBuffer) Discard(n int) int {
	size := r.Size()
	if n > size {
		n = size
	}
	if n <= 0 {
		return 0
	}
	r.tail = (r.tail + n) % len(r.buf)
	r.full = false
	return n
}
