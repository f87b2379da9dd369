package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/hookpay/clearnode-go/pkg/log"
)

// Defaults for WebSocketDialer.
const (
	DefaultReadLimit    = 1 << 20
	DefaultWriteTimeout = 10 * time.Second
)

// DialError reports a failed WebSocket handshake.
type DialError struct {
	URL string
	Err error
}

func (e *DialError) Error() string {
	return fmt.Sprintf("dial %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

// WebSocketDialer opens WebSocket transports with github.com/coder/websocket.
type WebSocketDialer struct {
	// DialOptions are passed to websocket.Dial. May be nil.
	DialOptions *websocket.DialOptions

	// ReadLimit caps inbound message size. Zero means DefaultReadLimit.
	ReadLimit int64

	// WriteTimeout bounds a single Send. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration

	// KeepAlive configures pings. Ignored when DisableKeepAlive is set.
	KeepAlive        KeepAliveConfig
	DisableKeepAlive bool

	// Logger receives frame and control events. May be nil.
	Logger log.Logger
}

// Open implements Dialer.
func (d *WebSocketDialer) Open(url string, h Handler) Transport {
	ctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		dialer: d,
		url:    url,
		connID: uuid.NewString(),
		logger: log.OrNoop(d.Logger),
		ctx:    ctx,
		cancel: cancel,
	}
	go t.run(h)
	return t
}

type wsTransport struct {
	dialer *WebSocketDialer
	url    string
	connID string
	logger log.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	conn        *websocket.Conn
	closing     bool
	closeCode   int
	closeReason string
	pingTimeout bool
}

// ConnectionID returns the trace id of this transport.
func (t *wsTransport) ConnectionID() string {
	return t.connID
}

func (t *wsTransport) run(h Handler) {
	defer t.cancel()

	conn, _, err := websocket.Dial(t.ctx, t.url, t.dialer.DialOptions)
	if err != nil {
		if code, reason, ok := t.requestedClose(); ok {
			h.OnClose(code, reason)
			return
		}
		dialErr := &DialError{URL: t.url, Err: err}
		t.logError("dial", dialErr)
		h.OnError(dialErr)
		h.OnClose(StatusAbnormalClosure, err.Error())
		return
	}

	t.mu.Lock()
	if t.closing {
		code, reason := t.closeCode, t.closeReason
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusCode(code), reason)
		h.OnClose(code, reason)
		return
	}
	t.conn = conn
	t.mu.Unlock()

	limit := t.dialer.ReadLimit
	if limit == 0 {
		limit = DefaultReadLimit
	}
	conn.SetReadLimit(limit)
	h.OnOpen()

	var ka *KeepAlive
	if !t.dialer.DisableKeepAlive {
		ka = NewKeepAlive(t.dialer.KeepAlive, t.ping(conn), func() {
			t.mu.Lock()
			t.pingTimeout = true
			t.mu.Unlock()
			_ = conn.CloseNow()
		})
		ka.Start(t.ctx)
	}

	readErr := t.readLoop(conn, h)
	if ka != nil {
		ka.Stop()
	}
	t.finish(readErr, h)
}

func (t *wsTransport) readLoop(conn *websocket.Conn, h Handler) error {
	for {
		_, data, err := conn.Read(t.ctx)
		if err != nil {
			return err
		}
		t.logger.Log(log.Event{
			Timestamp:    time.Now(),
			ConnectionID: t.connID,
			Direction:    log.DirectionIn,
			Layer:        log.LayerTransport,
			Category:     log.CategoryMessage,
			URL:          t.url,
			Frame:        log.NewFrameEvent(data),
		})
		h.OnMessage(data)
	}
}

func (t *wsTransport) finish(readErr error, h Handler) {
	code, reason, requested := t.requestedClose()

	t.mu.Lock()
	timedOut := t.pingTimeout
	t.mu.Unlock()

	switch {
	case requested:
	case timedOut:
		code, reason = StatusAbnormalClosure, "ping timeout"
		h.OnError(fmt.Errorf("keep-alive: %w", readErr))
	default:
		var ce websocket.CloseError
		if errors.As(readErr, &ce) {
			code, reason = int(ce.Code), ce.Reason
		} else {
			code, reason = StatusAbnormalClosure, readErr.Error()
			t.logError("read", readErr)
			h.OnError(readErr)
		}
	}

	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Direction:    log.DirectionIn,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		URL:          t.url,
		ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &code, CloseReason: reason},
	})
	h.OnClose(code, reason)
}

func (t *wsTransport) ping(conn *websocket.Conn) PingFunc {
	return func(ctx context.Context) error {
		start := time.Now()
		t.logger.Log(t.controlEvent(log.DirectionOut, log.ControlMsgPing, nil))
		if err := conn.Ping(ctx); err != nil {
			return err
		}
		rtt := time.Since(start)
		t.logger.Log(t.controlEvent(log.DirectionIn, log.ControlMsgPong, &rtt))
		return nil
	}
}

// Send implements Transport.
func (t *wsTransport) Send(data []byte) error {
	t.mu.Lock()
	conn, closing := t.conn, t.closing
	t.mu.Unlock()

	if closing {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotOpen
	}

	timeout := t.dialer.WriteTimeout
	if timeout == 0 {
		timeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		URL:          t.url,
		Frame:        log.NewFrameEvent(data),
	})
	return nil
}

// Close implements Transport. The close handshake completes in the
// background.
func (t *wsTransport) Close(code int, reason string) error {
	t.mu.Lock()
	if t.closing {
		t.mu.Unlock()
		return nil
	}
	t.closing = true
	t.closeCode = code
	t.closeReason = reason
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		t.cancel()
		return nil
	}

	c := code
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Direction:    log.DirectionOut,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		URL:          t.url,
		ControlMsg:   &log.ControlMsgEvent{Type: log.ControlMsgClose, CloseCode: &c, CloseReason: reason},
	})
	go func() {
		_ = conn.Close(websocket.StatusCode(code), reason)
		t.cancel()
	}()
	return nil
}

func (t *wsTransport) requestedClose() (int, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode, t.closeReason, t.closing
}

func (t *wsTransport) controlEvent(dir log.Direction, typ log.ControlMsgType, rtt *time.Duration) log.Event {
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		URL:          t.url,
		ControlMsg:   &log.ControlMsgEvent{Type: typ, RTT: rtt},
	}
}

func (t *wsTransport) logError(op string, err error) {
	t.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryError,
		URL:          t.url,
		Error:        &log.ErrorEventData{Layer: log.LayerTransport, Message: err.Error(), Context: op},
	})
}
