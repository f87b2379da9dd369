package transport

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrPipeTimeout is returned by Pipe waits that expire.
var ErrPipeTimeout = errors.New("pipe: timed out")

// Pipe is an in-memory Dialer. Each Open creates a PipeConn that the test
// drives by hand: Accept to complete the handshake, Deliver to inject
// inbound frames, Fail or CloseRemote to end it. Handler callbacks run on
// the goroutine that triggers them.
type Pipe struct {
	mu     sync.Mutex
	conns  []*PipeConn
	dialed chan *PipeConn

	// AutoAccept makes every new PipeConn open immediately.
	AutoAccept bool
}

// NewPipe creates an empty Pipe.
func NewPipe() *Pipe {
	return &Pipe{dialed: make(chan *PipeConn, 64)}
}

// Open implements Dialer.
func (p *Pipe) Open(url string, h Handler) Transport {
	c := &PipeConn{
		URL:  url,
		ID:   uuid.NewString(),
		h:    h,
		sent: make(chan []byte, 1024),
	}
	p.mu.Lock()
	p.conns = append(p.conns, c)
	auto := p.AutoAccept
	p.mu.Unlock()

	select {
	case p.dialed <- c:
	default:
	}
	if auto {
		c.Accept()
	}
	return c
}

// SetAutoAccept changes AutoAccept while transports may be opening.
func (p *Pipe) SetAutoAccept(auto bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.AutoAccept = auto
}

// Dials returns how many transports have been opened.
func (p *Pipe) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// Conns returns every transport opened so far.
func (p *Pipe) Conns() []*PipeConn {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PipeConn, len(p.conns))
	copy(out, p.conns)
	return out
}

// Next waits for the next Open.
func (p *Pipe) Next(timeout time.Duration) (*PipeConn, error) {
	select {
	case c := <-p.dialed:
		return c, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w waiting for dial", ErrPipeTimeout)
	}
}

// PipeConn is one in-memory transport.
type PipeConn struct {
	URL string
	ID  string

	h    Handler
	sent chan []byte

	mu          sync.Mutex
	open        bool
	closed      bool
	closeCode   int
	closeReason string
	sendErr     error
}

// ConnectionID implements Identifier.
func (c *PipeConn) ConnectionID() string {
	return c.ID
}

// Accept completes the handshake and fires OnOpen.
func (c *PipeConn) Accept() {
	c.mu.Lock()
	if c.open || c.closed {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()
	c.h.OnOpen()
}

// Deliver injects an inbound frame. Ignored once closed.
func (c *PipeConn) Deliver(data []byte) {
	if c.IsClosed() {
		return
	}
	c.h.OnMessage(data)
}

// Fail reports a transport error followed by an abnormal close.
func (c *PipeConn) Fail(err error) {
	if !c.markClosed(StatusAbnormalClosure, err.Error()) {
		return
	}
	c.h.OnError(err)
	c.h.OnClose(StatusAbnormalClosure, err.Error())
}

// CloseRemote simulates the node closing the connection.
func (c *PipeConn) CloseRemote(code int, reason string) {
	if !c.markClosed(code, reason) {
		return
	}
	c.h.OnClose(code, reason)
}

// FailSends makes subsequent Send calls return err.
func (c *PipeConn) FailSends(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// Send implements Transport.
func (c *PipeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case !c.open:
		return ErrNotOpen
	case c.sendErr != nil:
		return c.sendErr
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case c.sent <- frame:
	default:
		return errors.New("pipe: send buffer full")
	}
	return nil
}

// Close implements Transport. OnClose is delivered before Close returns.
func (c *PipeConn) Close(code int, reason string) error {
	if !c.markClosed(code, reason) {
		return nil
	}
	c.h.OnClose(code, reason)
	return nil
}

// NextSent waits for the next frame written by the client.
func (c *PipeConn) NextSent(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-c.sent:
		return data, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("%w waiting for frame", ErrPipeTimeout)
	}
}

// Pending returns the number of sent frames not yet read with NextSent.
func (c *PipeConn) Pending() int {
	return len(c.sent)
}

// IsClosed reports whether either side closed the transport.
func (c *PipeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseStatus returns the code and reason the transport was closed with.
func (c *PipeConn) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

func (c *PipeConn) markClosed(code int, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return true
}
