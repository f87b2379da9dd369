package clearnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/hookpay/clearnode-go/pkg/auth"
	"github.com/hookpay/clearnode-go/pkg/connection"
	"github.com/hookpay/clearnode-go/pkg/log"
	"github.com/hookpay/clearnode-go/pkg/loop"
	"github.com/hookpay/clearnode-go/pkg/pending"
	"github.com/hookpay/clearnode-go/pkg/signer"
	"github.com/hookpay/clearnode-go/pkg/transport"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// DisconnectReason is the close reason sent by Disconnect.
const DisconnectReason = "User initiated disconnect"

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the operational logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver adds an observer. May be given more than once.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = append(c.observer, o)
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d transport.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithScheduler replaces the wall clock used for timers. Callbacks are moved
// onto the client's event loop.
func WithScheduler(s loop.Scheduler) Option {
	return func(c *Client) { c.clock = s }
}

// WithProtocolLogger records frames, messages and state changes.
func WithProtocolLogger(l log.Logger) Option {
	return func(c *Client) { c.proto = l }
}

// WithMetrics reports to the given collectors.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client is an authenticated RPC client for one ClearNode.
type Client struct {
	cfg      Config
	wallet   signer.Signer
	logger   *slog.Logger
	observer observers
	proto    log.Logger
	metrics  *Metrics
	limiter  *rate.Limiter
	dialer   transport.Dialer
	clock    loop.Scheduler

	loop  *loop.Loop
	sched loop.Scheduler
	ids   *wire.IDSource
	lc    *connection.Lifecycle
	table *pending.Table
	hs    *auth.Handshake

	// Owned by the event loop.
	waiters []chan error
	closed  bool
	connID  string

	// Readable from any goroutine.
	state      atomic.Uint32
	mu         sync.RWMutex
	credential string
	sessionKey string
}

// New creates a client that signs with wallet. It does not connect.
func New(cfg Config, wallet signer.Signer, opts ...Option) (*Client, error) {
	if wallet == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("signer is required"))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SessionKey == "" {
		session, err := signer.GenerateWallet()
		if err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		cfg.SessionKey = session.Address()
	}

	c := &Client{
		cfg:    cfg,
		wallet: wallet,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dialer == nil {
		c.dialer = &transport.WebSocketDialer{Logger: c.proto}
	}
	c.proto = log.OrNoop(c.proto)
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	c.loop = loop.New()
	if c.clock == nil {
		c.sched = c.loop
	} else {
		c.sched = postingScheduler{inner: c.clock, post: c.loop.Post}
	}
	c.ids = wire.NewIDSource(c.sched.Now())
	c.table = pending.NewTable(c.sched)
	c.hs = auth.NewHandshake(cfg.Auth, wallet, cfg.SessionKey, c.ids, c.sched.Now)
	c.hs.SetCredential(cfg.Credential)
	c.publishCredentials()

	c.lc = connection.NewLifecycle(connection.Config{
		URL:               cfg.URL,
		ConnectionTimeout: cfg.ConnectionTimeout,
		Reconnect:         cfg.Reconnect,
		Logger:            c.logger.With("component", "connection"),
	}, c.dialer, c.sched, c.loop.Post)
	c.lc.OnStateChange(c.handleStateChange)
	c.lc.OnConnecting(c.handleConnecting)
	c.lc.OnOpen(c.handleOpen)
	c.lc.OnMessage(c.handleMessage)
	c.lc.OnError(c.handleError)
	c.lc.OnDisconnected(c.handleDisconnected)
	c.lc.OnReconnecting(c.handleReconnecting)
	c.lc.OnExhausted(c.handleExhausted)

	return c, nil
}

// Address returns the wallet address the client acts for.
func (c *Client) Address() string {
	return c.wallet.Address()
}

// SessionKey returns the session key confirmed by the node, or the local
// one before the first successful handshake.
func (c *Client) SessionKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey
}

// Credential returns the reusable token issued by the node, if any.
func (c *Client) Credential() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.credential
}

// State returns the connection state.
func (c *Client) State() connection.State {
	return connection.State(c.state.Load())
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	var n int
	if err := c.loop.Do(func() { n = c.table.Len() }); err != nil {
		return 0
	}
	return n
}

// Connect opens a new connection and authenticates. Any existing transport
// is closed first, even an authenticated one, and callers still waiting on
// an earlier attempt fail with ErrConnectionClosed. It returns once the node
// has accepted the session, or with the first error of the attempt.
// Cancelling ctx stops the wait but not the attempt.
func (c *Client) Connect(ctx context.Context) error {
	done := make(chan error, 1)
	err := c.loop.Do(func() {
		if c.closed {
			done <- ErrClientClosed
			return
		}
		c.hs.Reset()
		c.settleConnect(ErrConnectionClosed)
		if n := c.table.VoidAll(ErrConnectionClosed); n > 0 {
			c.logger.Debug("voided pending requests", "count", n)
		}
		c.waiters = append(c.waiters, done)
		c.lc.Policy().Reset()
		c.lc.Open()
	})
	if err != nil {
		return ErrClientClosed
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.loop.Post(func() { c.dropWaiter(done) })
		return ctx.Err()
	}
}

// Disconnect closes the connection with a normal closure. Pending requests
// fail with ErrConnectionClosed and no reconnection follows. A scheduled
// reconnection is cancelled.
func (c *Client) Disconnect() error {
	if err := c.loop.Do(c.disconnect); err != nil {
		return ErrClientClosed
	}
	return nil
}

// Close disconnects and stops the event loop. The client cannot be reused.
func (c *Client) Close() error {
	err := c.loop.Do(func() {
		if c.closed {
			return
		}
		c.disconnect()
		c.closed = true
	})
	c.loop.Close()
	if err != nil && !errors.Is(err, loop.ErrClosed) {
		return err
	}
	return nil
}

func (c *Client) disconnect() {
	c.hs.Reset()
	if n := c.table.VoidAll(ErrConnectionClosed); n > 0 {
		c.logger.Debug("voided pending requests", "count", n)
	}
	c.settleConnect(ErrConnectionClosed)
	c.lc.Close(transport.StatusNormalClosure, DisconnectReason)
}

func (c *Client) settleConnect(err error) {
	for _, w := range c.waiters {
		w <- err
	}
	c.waiters = nil
}

func (c *Client) dropWaiter(done chan error) {
	for i, w := range c.waiters {
		if w == done {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

func (c *Client) publishCredentials() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.credential = c.hs.Credential()
	c.sessionKey = c.hs.SessionKey()
}

// Lifecycle callbacks. All run on the event loop.

func (c *Client) handleStateChange(old, s connection.State) {
	c.state.Store(uint32(s))
	c.metrics.setState(s)
	c.traceState(log.StateEntityConnection, old.String(), s.String(), "")
}

func (c *Client) handleConnecting(attempt int) {
	c.connID = ""
	c.logger.Info("connecting", "url", c.cfg.URL, "attempt", attempt)
	c.observer.OnConnecting()
}

func (c *Client) handleOpen() {
	c.connID = c.lc.ConnectionID()
	c.logger.Info("connected", "url", c.cfg.URL)
	c.observer.OnConnected()

	c.hs.Reset()
	c.lc.SetState(connection.StateAuthenticating)
	if err := c.hs.Begin(c.sendAuth); err != nil {
		c.authFailed(err)
		return
	}
	c.traceState(log.StateEntityAuth, auth.StateIdle.String(), c.hs.State().String(), "")
}

func (c *Client) handleMessage(data []byte) {
	resp, err := wire.DecodeResponse(data)
	if err != nil {
		c.logger.Warn("dropping malformed message", "error", err)
		c.emitError(err)
		return
	}
	c.traceInbound(resp)

	if resp.Method.IsHandshake() {
		before := c.hs.State()
		outcome, err := c.hs.Handle(resp, c.sendAuth)
		switch outcome {
		case auth.OutcomeAuthenticated:
			c.authenticated()
		case auth.OutcomeFailed:
			c.authFailed(err)
		case auth.OutcomeContinue:
			c.traceState(log.StateEntityAuth, before.String(), c.hs.State().String(), "")
		}
	}
	if resp.RequestID != 0 {
		c.table.Resolve(resp)
	}
	c.observer.OnMessage(resp)
}

func (c *Client) handleError(err error) {
	c.logger.Warn("connection error", "url", c.cfg.URL, "error", err)
	c.emitError(err)
	c.settleConnect(err)
}

func (c *Client) handleDisconnected(code int, reason string, requested bool) {
	c.hs.Reset()
	c.metrics.disconnected(requested)
	c.traceClose(code, reason)
	c.logger.Info("disconnected", "code", code, "reason", reason, "requested", requested)

	if !requested {
		err := fmt.Errorf("%w: code %d: %s", ErrConnectionClosed, code, reason)
		if n := c.table.VoidAll(err); n > 0 {
			c.logger.Debug("voided pending requests", "count", n)
		}
		c.settleConnect(err)
	}
	c.observer.OnDisconnected(code, reason)
}

func (c *Client) handleReconnecting(attempt int, delay time.Duration) {
	c.logger.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	c.metrics.reconnecting()
	c.traceState(log.StateEntityReconnect, "", "SCHEDULED", fmt.Sprintf("attempt %d in %s", attempt, delay))
	c.observer.OnReconnecting(attempt, delay)
}

func (c *Client) handleExhausted(err error) {
	c.logger.Error("giving up on reconnection", "attempts", c.lc.Policy().Attempts())
	c.traceState(log.StateEntityReconnect, "", "EXHAUSTED", err.Error())
	c.emitError(err)
	c.settleConnect(err)
}

func (c *Client) authenticated() {
	c.lc.SetState(connection.StateAuthenticated)
	c.metrics.authenticated(true)
	c.publishCredentials()
	c.traceState(log.StateEntityAuth, auth.StateAwaitingVerifyResult.String(), "AUTHENTICATED", "")
	c.logger.Info("authenticated", "address", c.wallet.Address(), "session_key", c.hs.SessionKey())
	c.observer.OnAuthenticated()
	c.settleConnect(nil)
}

func (c *Client) authFailed(err error) {
	if c.lc.State() == connection.StateAuthenticating {
		c.lc.SetState(connection.StateOpen)
	}
	c.metrics.authenticated(false)
	c.publishCredentials()
	c.traceState(log.StateEntityAuth, "", "FAILED", err.Error())
	c.logger.Warn("authentication failed", "error", err)
	c.emitError(err)
	c.settleConnect(err)
}

func (c *Client) sendAuth(req *wire.Request) error {
	data, err := req.Encode()
	if err != nil {
		return err
	}
	c.traceMessage(log.DirectionOut, log.MessageTypeRequest, req.ID(), req.Req.Method, req.Req.Params, len(req.Sig), nil)
	return c.lc.Send(data)
}

func (c *Client) emitError(err error) {
	c.metrics.errored()
	c.traceError(err)
	c.observer.OnError(err)
}

// postingScheduler runs timer callbacks on the event loop.
type postingScheduler struct {
	inner loop.Scheduler
	post  func(func()) bool
}

func (s postingScheduler) AfterFunc(d time.Duration, fn func()) loop.Timer {
	return s.inner.AfterFunc(d, func() { s.post(fn) })
}

func (s postingScheduler) Now() time.Time {
	return s.inner.Now()
}

var _ loop.Scheduler = postingScheduler{}
