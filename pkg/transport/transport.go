package transport

import "errors"

// Close status codes used by the client.
const (
	StatusNormalClosure   = 1000
	StatusGoingAway       = 1001
	StatusAbnormalClosure = 1006
)

// Transport errors.
var (
	ErrNotOpen = errors.New("transport not open")
	ErrClosed  = errors.New("transport closed")
)

// Handler receives transport events. Calls for one Transport are never
// concurrent with each other.
type Handler interface {
	OnOpen()
	OnMessage(data []byte)
	OnError(err error)
	OnClose(code int, reason string)
}

// Transport is one connection attempt.
type Transport interface {
	// Send writes one text frame. It fails with ErrNotOpen before OnOpen.
	Send(data []byte) error

	// Close starts a close handshake, or abandons a dial in progress.
	Close(code int, reason string) error
}

// Identifier is implemented by transports that carry a trace connection id.
type Identifier interface {
	ConnectionID() string
}

// Dialer opens transports.
type Dialer interface {
	Open(url string, h Handler) Transport
}

// HandlerFuncs adapts functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Open    func()
	Message func(data []byte)
	Error   func(err error)
	Close   func(code int, reason string)
}

func (f HandlerFuncs) OnOpen() {
	if f.Open != nil {
		f.Open()
	}
}

func (f HandlerFuncs) OnMessage(data []byte) {
	if f.Message != nil {
		f.Message(data)
	}
}

func (f HandlerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f HandlerFuncs) OnClose(code int, reason string) {
	if f.Close != nil {
		f.Close(code, reason)
	}
}

var (
	_ Handler = HandlerFuncs{}
	_ Dialer  = (*WebSocketDialer)(nil)
	_ Dialer  = (*Pipe)(nil)

	_ Identifier = (*wsTransport)(nil)
	_ Identifier = (*PipeConn)(nil)
)
