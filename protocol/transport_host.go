package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	ErrTransportClosed = errors.New("transport closed")
	ErrReplyTimeout    = errors.New("reply timeout")
	ErrReplyMismatch   = errors.New("reply opcode mismatch")
)

// HostTransport is the host side of the serial link.
// It writes request frames and matches the single reply each one produces.
// One request is outstanding at a time.
type HostTransport struct {
	port io.ReadWriteCloser

	receiver *Receiver
	replies  chan Frame

	// Serializes request/reply exchanges
	exchangeMutex sync.Mutex
	writeMutex    sync.Mutex

	// Timeout applied when the caller's context has no deadline
	Timeout time.Duration

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
	readErr   error
}

// NewHostTransport starts reading replies from port
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:     port,
		receiver: NewReceiver(make([]byte, 256), nil),
		replies:  make(chan Frame, 4),
		Timeout:  time.Second,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}

	go t.readLoop()

	return t
}

// Transact sends request and waits for its reply
func (t *HostTransport) Transact(ctx context.Context, request Frame) (Frame, error) {
	t.exchangeMutex.Lock()
	defer t.exchangeMutex.Unlock()

	// Discard replies nobody waited for, e.g. after an earlier timeout
	for drained := false; !drained; {
		select {
		case <-t.replies:
		default:
			drained = true
		}
	}

	if err := t.writeFrame(request); err != nil {
		return Frame{}, fmt.Errorf("failed to write %v: %w", request.Opcode, err)
	}

	if _, ok := ctx.Deadline(); !ok && t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}

	select {
	case reply := <-t.replies:
		if reply.Opcode != request.Opcode {
			return reply, fmt.Errorf("%w: sent %v, got %v", ErrReplyMismatch, request.Opcode, reply.Opcode)
		}
		return reply, nil

	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Frame{}, fmt.Errorf("%w: %v", ErrReplyTimeout, request.Opcode)
		}
		return Frame{}, ctx.Err()

	case <-t.doneChan:
		if t.readErr != nil {
			return Frame{}, fmt.Errorf("%w: %v", ErrTransportClosed, t.readErr)
		}
		return Frame{}, ErrTransportClosed
	}
}

// writeFrame sends one encoded frame to the serial port
func (t *HostTransport) writeFrame(f Frame) error {
	t.writeMutex.Lock()
	defer t.writeMutex.Unlock()

	msg := f.Bytes()
	n, err := t.port.Write(msg[:])
	if err != nil {
		return err
	}
	if n != len(msg) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(msg))
	}
	return nil
}

// readLoop continuously reads from the serial port and extracts reply frames
func (t *HostTransport) readLoop() {
	defer close(t.doneChan)

	buffer := make([]byte, 128)

	for {
		select {
		case <-t.stopChan:
			return
		default:
		}

		n, err := t.port.Read(buffer)
		for _, b := range buffer[:n] {
			t.receiver.PushByte(b)
		}
		for {
			reply, ok := t.receiver.Poll()
			if !ok {
				break
			}
			t.deliver(reply)
		}

		if err != nil {
			if errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				t.readErr = err
				return
			}
			// Read timeouts surface as io.EOF on native ports; other errors are retried
			if errors.Is(err, io.EOF) {
				time.Sleep(time.Millisecond)
			} else {
				time.Sleep(10 * time.Millisecond)
			}
		}
	}
}

// deliver hands a reply to the waiting exchange, replacing the oldest
// undelivered reply if nobody is reading
func (t *HostTransport) deliver(reply Frame) {
	select {
	case t.replies <- reply:
	default:
		select {
		case <-t.replies:
		default:
		}
		t.replies <- reply
	}
}

// Stats returns the reply receiver counters
func (t *HostTransport) Stats() ReceiverStats {
	return t.receiver.Stats()
}

// Close stops the transport and closes the serial port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stopChan)
		if t.port != nil {
			err = t.port.Close()
		}
		<-t.doneChan
	})
	return err
}
