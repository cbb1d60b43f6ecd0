package sim

import (
	"io"
	"sync"
)

// link is a byte pipe in each direction between the host and the simulated UART
type link struct {
	mu       sync.Mutex
	cond     *sync.Cond
	toDevice []byte
	toHost   []byte
	closed   bool
}

func newLink() *link {
	l := &link{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Port is the host end of the simulated serial line
type Port struct {
	l *link
}

// Read blocks until the device has written something or the port is closed
func (p *Port) Read(b []byte) (int, error) {
	l := p.l
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.toHost) == 0 && !l.closed {
		l.cond.Wait()
	}
	if l.closed {
		return 0, io.ErrClosedPipe
	}
	n := copy(b, l.toHost)
	l.toHost = l.toHost[n:]
	return n, nil
}

func (p *Port) Write(b []byte) (int, error) {
	l := p.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, io.ErrClosedPipe
	}
	l.toDevice = append(l.toDevice, b...)
	return len(b), nil
}

// Close wakes any blocked reader. The board keeps running.
func (p *Port) Close() error {
	l := p.l
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Broadcast()
	return nil
}

// uart is the device end, a drivers.UART
type uart struct {
	l *link
}

func (u *uart) Buffered() int {
	u.l.mu.Lock()
	defer u.l.mu.Unlock()
	return len(u.l.toDevice)
}

func (u *uart) Read(b []byte) (int, error) {
	l := u.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.toDevice) == 0 {
		return 0, nil
	}
	n := copy(b, l.toDevice)
	l.toDevice = l.toDevice[n:]
	return n, nil
}

// Write drops replies while no host is attached
func (u *uart) Write(b []byte) (int, error) {
	l := u.l
	l.mu.Lock()
	if !l.closed {
		l.toHost = append(l.toHost, b...)
	}
	l.mu.Unlock()
	l.cond.Broadcast()
	return len(b), nil
}
