// Package transporttest provides an in-memory serial port for tests.
package transporttest

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// Responder returns the bytes the device sends back after req was written.
// A nil return means the device stays silent.
type Responder func(req []byte) []byte

// Port is a scripted transport.Port. Every Write is handed to the responder
// and its answer is queued for reading.
type Port struct {
	mu        sync.Mutex
	respond   Responder
	pending   bytes.Buffer
	timeout   time.Duration
	closed    bool
	writes    [][]byte
	ReadErr   error
	WriteErr  error
	CloseErrs int
}

// NewPort returns a Port answering with respond.
func NewPort(respond Responder) *Port {
	return &Port{respond: respond}
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.WriteErr != nil {
		return 0, p.WriteErr
	}
	p.writes = append(p.writes, append([]byte(nil), b...))
	if p.respond != nil {
		if reply := p.respond(b); reply != nil {
			p.pending.Write(reply)
		}
	}
	return len(b), nil
}

func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.ReadErr != nil {
		p.mu.Unlock()
		return 0, p.ReadErr
	}
	if p.pending.Len() > 0 {
		n, _ := p.pending.Read(b)
		p.mu.Unlock()
		return n, nil
	}
	wait := p.timeout
	p.mu.Unlock()

	// Behave like a serial read that timed out: no data, no error.
	if wait > 5*time.Millisecond {
		wait = 5 * time.Millisecond
	}
	time.Sleep(wait)
	return 0, nil
}

func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Reset()
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.CloseErrs++
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Writes returns a copy of every buffer written so far.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	ret := make([][]byte, len(p.writes))
	copy(ret, p.writes)
	return ret
}

// Inject queues unsolicited bytes, as if the device sent them on its own.
func (p *Port) Inject(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending.Write(b)
}
