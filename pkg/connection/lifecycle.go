package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hookpay/clearnode-go/pkg/loop"
	"github.com/hookpay/clearnode-go/pkg/transport"
)

// Lifecycle errors.
var (
	ErrConnectionTimeout  = errors.New("connection timeout")
	ErrReconnectExhausted = errors.New("maximum reconnection attempts reached")
)

// DefaultConnectionTimeout bounds how long a transport may take to open.
const DefaultConnectionTimeout = 10 * time.Second

// TransportError wraps an error reported by the transport.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// State is the connection state seen by the client.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateAuthenticating
	StateAuthenticated
	StateClosing
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Lifecycle.
type Config struct {
	URL               string
	ConnectionTimeout time.Duration
	Reconnect         PolicyConfig

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// Lifecycle opens, monitors and reopens the transport.
type Lifecycle struct {
	dialer  transport.Dialer
	sched   loop.Scheduler
	post    func(func()) bool
	url     string
	timeout time.Duration
	policy  *Policy
	logger  *slog.Logger

	state      State
	gen        uint64
	tr         transport.Transport
	connTimer  loop.Timer
	retryTimer loop.Timer
	retrySeq   uint64

	onStateChange  func(oldState, newState State)
	onConnecting   func(attempt int)
	onOpen         func()
	onMessage      func(data []byte)
	onError        func(err error)
	onDisconnected func(code int, reason string, requested bool)
	onReconnecting func(attempt int, delay time.Duration)
	onExhausted    func(err error)
}

// NewLifecycle creates a Lifecycle. Transport events are handed to post,
// which must run them on the goroutine that owns the Lifecycle. Timers are
// created with sched and must fire on that goroutine too.
func NewLifecycle(cfg Config, dialer transport.Dialer, sched loop.Scheduler, post func(func()) bool) *Lifecycle {
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = DefaultConnectionTimeout
	}
	return &Lifecycle{
		dialer:  dialer,
		sched:   sched,
		post:    post,
		url:     cfg.URL,
		timeout: cfg.ConnectionTimeout,
		policy:  NewPolicy(cfg.Reconnect),
		logger:  cfg.Logger,
	}
}

// State returns the current state.
func (l *Lifecycle) State() State {
	return l.state
}

// SetState records a transition driven by the owner, such as entering
// StateAuthenticating.
func (l *Lifecycle) SetState(s State) {
	if s == l.state {
		return
	}
	old := l.state
	l.state = s
	if l.onStateChange != nil {
		l.onStateChange(old, s)
	}
}

// Generation identifies the current transport. It changes whenever a
// transport is opened or discarded.
func (l *Lifecycle) Generation() uint64 {
	return l.gen
}

// Policy exposes the reconnect policy.
func (l *Lifecycle) Policy() *Policy {
	return l.policy
}

// ConnectionID returns the trace id of the current transport, or "" when
// there is none or it carries no id.
func (l *Lifecycle) ConnectionID() string {
	if id, ok := l.tr.(transport.Identifier); ok {
		return id.ConnectionID()
	}
	return ""
}

// ReconnectPending reports whether a retry is scheduled.
func (l *Lifecycle) ReconnectPending() bool {
	return l.retryTimer != nil
}

// Send writes a frame to the current transport.
func (l *Lifecycle) Send(data []byte) error {
	if l.tr == nil {
		return transport.ErrNotOpen
	}
	return l.tr.Send(data)
}

// Open replaces any current transport with a new one and starts the
// connection timer. A scheduled retry is cancelled.
func (l *Lifecycle) Open() {
	l.cancelRetry()
	l.discard(transport.StatusNormalClosure, "replaced by new connection")

	l.gen++
	gen := l.gen
	l.SetState(StateConnecting)
	if l.onConnecting != nil {
		l.onConnecting(l.policy.Attempts())
	}
	l.debug("opening transport", "url", l.url, "generation", gen)

	l.connTimer = l.sched.AfterFunc(l.timeout, func() { l.handleTimeout(gen) })
	l.tr = l.dialer.Open(l.url, &eventRelay{l: l, gen: gen})
}

// Close closes the transport on request. No reconnection follows and any
// scheduled retry is cancelled.
func (l *Lifecycle) Close(code int, reason string) {
	l.cancelRetry()
	l.stopConnTimer()
	hadTransport := l.tr != nil

	if hadTransport {
		l.SetState(StateClosing)
	}
	l.discard(code, reason)
	l.gen++
	l.SetState(StateDisconnected)

	if hadTransport && l.onDisconnected != nil {
		l.onDisconnected(code, reason, true)
	}
}

// discard closes the current transport so that none of its later events
// are delivered.
func (l *Lifecycle) discard(code int, reason string) {
	l.stopConnTimer()
	tr := l.tr
	if tr == nil {
		return
	}
	l.tr = nil
	l.gen++
	if err := tr.Close(code, reason); err != nil {
		l.debug("close transport", "error", err)
	}
}

func (l *Lifecycle) handleOpen(gen uint64) {
	if gen != l.gen {
		return
	}
	l.stopConnTimer()
	l.policy.Reset()
	l.SetState(StateOpen)
	if l.onOpen != nil {
		l.onOpen()
	}
}

func (l *Lifecycle) handleMessage(gen uint64, data []byte) {
	if gen != l.gen {
		return
	}
	if l.onMessage != nil {
		l.onMessage(data)
	}
}

func (l *Lifecycle) handleError(gen uint64, err error) {
	if gen != l.gen {
		return
	}
	l.stopConnTimer()
	if l.onError != nil {
		l.onError(&TransportError{Err: err})
	}
}

func (l *Lifecycle) handleClose(gen uint64, code int, reason string) {
	if gen != l.gen {
		return
	}
	l.stopConnTimer()
	l.tr = nil
	l.gen++
	l.SetState(StateDisconnected)
	l.debug("transport closed", "code", code, "reason", reason)

	if l.onDisconnected != nil {
		l.onDisconnected(code, reason, false)
	}
	// The owner may have reopened or closed from the callback.
	if l.state != StateDisconnected || l.tr != nil {
		return
	}
	l.scheduleReconnect()
}

func (l *Lifecycle) handleTimeout(gen uint64) {
	if gen != l.gen || l.state != StateConnecting {
		return
	}
	l.connTimer = nil
	l.debug("connection timeout", "url", l.url, "timeout", l.timeout)
	if l.onError != nil {
		l.onError(ErrConnectionTimeout)
	}
	// The transport reports its close, which drives reconnection.
	if l.tr != nil && gen == l.gen {
		if err := l.tr.Close(transport.StatusNormalClosure, "connection timeout"); err != nil {
			l.debug("close transport", "error", err)
		}
	}
}

func (l *Lifecycle) scheduleReconnect() {
	attempt, delay, ok := l.policy.Next()
	if !ok {
		l.debug("reconnect exhausted", "attempts", attempt)
		if l.onExhausted != nil {
			l.onExhausted(ErrReconnectExhausted)
		}
		return
	}

	l.retrySeq++
	seq := l.retrySeq
	l.debug("reconnect scheduled", "attempt", attempt, "delay", delay)
	if l.onReconnecting != nil {
		l.onReconnecting(attempt, delay)
	}
	// The callback may already have opened a transport or closed for good.
	if l.state != StateDisconnected || l.tr != nil {
		return
	}
	l.retryTimer = l.sched.AfterFunc(delay, func() { l.retry(seq) })
}

func (l *Lifecycle) retry(seq uint64) {
	if seq != l.retrySeq || l.retryTimer == nil {
		return
	}
	l.retryTimer = nil
	l.Open()
}

func (l *Lifecycle) cancelRetry() {
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
	l.retrySeq++
}

func (l *Lifecycle) stopConnTimer() {
	if l.connTimer != nil {
		l.connTimer.Stop()
		l.connTimer = nil
	}
}

func (l *Lifecycle) debug(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}

// OnStateChange sets a callback for state changes.
func (l *Lifecycle) OnStateChange(fn func(oldState, newState State)) { l.onStateChange = fn }

// OnConnecting sets a callback run when a transport is being opened. attempt
// is zero for an explicit Open and the retry number otherwise.
func (l *Lifecycle) OnConnecting(fn func(attempt int)) { l.onConnecting = fn }

// OnOpen sets a callback for a transport that finished opening.
func (l *Lifecycle) OnOpen(fn func()) { l.onOpen = fn }

// OnMessage sets a callback for inbound frames.
func (l *Lifecycle) OnMessage(fn func(data []byte)) { l.onMessage = fn }

// OnError sets a callback for transport errors and connection timeouts.
func (l *Lifecycle) OnError(fn func(err error)) { l.onError = fn }

// OnDisconnected sets a callback for closes. requested is true for Close.
func (l *Lifecycle) OnDisconnected(fn func(code int, reason string, requested bool)) {
	l.onDisconnected = fn
}

// OnReconnecting sets a callback for scheduled retries.
func (l *Lifecycle) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	l.onReconnecting = fn
}

// OnExhausted sets a callback for the terminal reconnect failure.
func (l *Lifecycle) OnExhausted(fn func(err error)) { l.onExhausted = fn }

// eventRelay forwards transport events for one generation onto the owner's
// goroutine.
type eventRelay struct {
	l   *Lifecycle
	gen uint64
}

func (r *eventRelay) OnOpen() {
	r.l.post(func() { r.l.handleOpen(r.gen) })
}

func (r *eventRelay) OnMessage(data []byte) {
	r.l.post(func() { r.l.handleMessage(r.gen, data) })
}

func (r *eventRelay) OnError(err error) {
	r.l.post(func() { r.l.handleError(r.gen, err) })
}

func (r *eventRelay) OnClose(code int, reason string) {
	r.l.post(func() { r.l.handleClose(r.gen, code, reason) })
}
