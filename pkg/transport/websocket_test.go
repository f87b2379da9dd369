package transport

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookpay/clearnode-go/pkg/log"
)

type recordingHandler struct {
	opened   chan struct{}
	messages chan []byte
	closed   chan struct{}

	mu          sync.Mutex
	errs        []error
	closeCode   int
	closeReason string
	closes      int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		opened:   make(chan struct{}, 1),
		messages: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (h *recordingHandler) OnOpen() { h.opened <- struct{}{} }
func (h *recordingHandler) OnMessage(data []byte) { h.messages <- data }

func (h *recordingHandler) OnError(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) OnClose(code int, reason string) {
	h.mu.Lock()
	h.closes++
	h.closeCode, h.closeReason = code, reason
	first := h.closes == 1
	h.mu.Unlock()
	if first {
		close(h.closed)
	}
}

func (h *recordingHandler) waitClosed(t *testing.T) (int, string) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("OnClose not called")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCode, h.closeReason
}

func (h *recordingHandler) waitOpen(t *testing.T) {
	t.Helper()
	select {
	case <-h.opened:
	case <-time.After(5 * time.Second):
		t.Fatal("OnOpen not called")
	}
}

// echoServer echoes text frames. A frame "close" makes it close with 4000.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if string(data) == "close" {
				conn.Close(4000, "server says bye")
				return
			}
			if err := conn.Write(ctx, typ, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

type captureLog struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLog) Log(e log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureLog) count(cat log.Category) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Category == cat {
			n++
		}
	}
	return n
}

func TestWebSocketEcho(t *testing.T) {
	srv := echoServer(t)
	trace := &captureLog{}
	d := &WebSocketDialer{DisableKeepAlive: true, Logger: trace}
	h := newRecordingHandler()

	tr := d.Open(wsURL(srv), h)
	h.waitOpen(t)

	require.NoError(t, tr.Send([]byte(`{"req":[1,"ping",[],0],"sig":[]}`)))
	select {
	case got := <-h.messages:
		assert.JSONEq(t, `{"req":[1,"ping",[],0],"sig":[]}`, string(got))
	case <-time.After(5 * time.Second):
		t.Fatal("no echo")
	}

	require.NoError(t, tr.Close(StatusNormalClosure, "User initiated disconnect"))
	code, reason := h.waitClosed(t)
	assert.Equal(t, StatusNormalClosure, code)
	assert.Equal(t, "User initiated disconnect", reason)
	assert.ErrorIs(t, tr.Send([]byte("late")), ErrClosed)

	assert.GreaterOrEqual(t, trace.count(log.CategoryMessage), 2)
	assert.GreaterOrEqual(t, trace.count(log.CategoryControl), 1)
}

func TestWebSocketRemoteClose(t *testing.T) {
	srv := echoServer(t)
	d := &WebSocketDialer{DisableKeepAlive: true}
	h := newRecordingHandler()

	tr := d.Open(wsURL(srv), h)
	h.waitOpen(t)
	require.NoError(t, tr.Send([]byte("close")))

	code, reason := h.waitClosed(t)
	assert.Equal(t, 4000, code)
	assert.Equal(t, "server says bye", reason)
}

func TestWebSocketDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	d := &WebSocketDialer{}
	h := newRecordingHandler()
	d.Open(wsURL(srv), h)

	code, _ := h.waitClosed(t)
	assert.Equal(t, StatusAbnormalClosure, code)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.errs, 1)
	var dialErr *DialError
	assert.True(t, errors.As(h.errs[0], &dialErr))
}

func TestWebSocketCloseWhileDialing(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	d := &WebSocketDialer{}
	h := newRecordingHandler()
	tr := d.Open(wsURL(srv), h)

	assert.ErrorIs(t, tr.Send([]byte("x")), ErrNotOpen)
	require.NoError(t, tr.Close(StatusNormalClosure, "timeout"))

	code, reason := h.waitClosed(t)
	assert.Equal(t, StatusNormalClosure, code)
	assert.Equal(t, "timeout", reason)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Empty(t, h.errs)
}

func TestWebSocketKeepAlive(t *testing.T) {
	srv := echoServer(t)
	trace := &captureLog{}
	d := &WebSocketDialer{
		KeepAlive: KeepAliveConfig{PingInterval: 20 * time.Millisecond, PongTimeout: time.Second, MaxMissedPongs: 3},
		Logger:    trace,
	}
	h := newRecordingHandler()
	tr := d.Open(wsURL(srv), h)
	h.waitOpen(t)

	// Pongs are processed by the read loop, so pings succeed while it runs.
	deadline := time.Now().Add(3 * time.Second)
	for trace.count(log.CategoryControl) < 4 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, trace.count(log.CategoryControl), 4)

	tr.Close(StatusNormalClosure, "done")
	h.waitClosed(t)
}

func TestPipe(t *testing.T) {
	p := NewPipe()
	h := newRecordingHandler()
	c := p.Open("ws://pipe", h).(*PipeConn)

	got, err := p.Next(time.Second)
	require.NoError(t, err)
	assert.Same(t, c, got)
	assert.Equal(t, 1, p.Dials())

	assert.ErrorIs(t, c.Send([]byte("early")), ErrNotOpen)
	c.Accept()
	h.waitOpen(t)

	require.NoError(t, c.Send([]byte("hello")))
	frame, err := c.NextSent(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(frame))

	c.Deliver([]byte("inbound"))
	assert.Equal(t, "inbound", string(<-h.messages))

	sendErr := errors.New("broken")
	c.FailSends(sendErr)
	assert.ErrorIs(t, c.Send([]byte("x")), sendErr)

	c.CloseRemote(1001, "going away")
	code, reason := h.waitClosed(t)
	assert.Equal(t, 1001, code)
	assert.Equal(t, "going away", reason)

	// Closing twice delivers one OnClose.
	require.NoError(t, c.Close(1000, "again"))
	h.mu.Lock()
	assert.Equal(t, 1, h.closes)
	h.mu.Unlock()

	c.Deliver([]byte("after close"))
	assert.Empty(t, h.messages)

	_, err = c.NextSent(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrPipeTimeout)
}

func TestPipeFailAndAutoAccept(t *testing.T) {
	p := NewPipe()
	p.AutoAccept = true
	h := newRecordingHandler()
	c := p.Open("ws://pipe", h).(*PipeConn)
	h.waitOpen(t)

	c.Fail(errors.New("reset by peer"))
	code, reason := h.waitClosed(t)
	assert.Equal(t, StatusAbnormalClosure, code)
	assert.Equal(t, "reset by peer", reason)
	assert.True(t, c.IsClosed())

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Len(t, h.errs, 1)
}

func TestHandlerFuncs(t *testing.T) {
	var opened bool
	var closedWith int
	h := HandlerFuncs{
		Open:  func() { opened = true },
		Close: func(code int, _ string) { closedWith = code },
	}
	h.OnOpen()
	h.OnMessage([]byte("ignored"))
	h.OnError(errors.New("ignored"))
	h.OnClose(1000, "")
	assert.True(t, opened)
	assert.Equal(t, 1000, closedWith)
}
