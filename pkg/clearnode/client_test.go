package clearnode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookpay/clearnode-go/pkg/auth"
	"github.com/hookpay/clearnode-go/pkg/connection"
	"github.com/hookpay/clearnode-go/pkg/log"
	"github.com/hookpay/clearnode-go/pkg/loop"
	"github.com/hookpay/clearnode-go/pkg/pending"
	"github.com/hookpay/clearnode-go/pkg/signer"
	"github.com/hookpay/clearnode-go/pkg/transport"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testURL     = "ws://node.test/ws"
	waitTimeout = 2 * time.Second
)

type harness struct {
	t      *testing.T
	client *Client
	wallet *signer.Wallet
	pipe   *transport.Pipe
	clock  *loop.Manual
	events chan string
	errs   chan error
	msgs   chan *wire.Response
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()
	wallet, err := signer.NewWallet(testKey)
	require.NoError(t, err)

	h := &harness{
		t:      t,
		wallet: wallet,
		pipe:   transport.NewPipe(),
		clock:  loop.NewManual(time.Unix(1700000000, 0)),
		events: make(chan string, 256),
		errs:   make(chan error, 64),
		msgs:   make(chan *wire.Response, 64),
	}
	h.pipe.SetAutoAccept(true)

	obs := ObserverFuncs{
		Connecting:    func() { h.events <- "connecting" },
		Connected:     func() { h.events <- "connected" },
		Authenticated: func() { h.events <- "authenticated" },
		Disconnected: func(code int, reason string) {
			h.events <- fmt.Sprintf("disconnected %d %s", code, reason)
		},
		Reconnecting: func(attempt int, delay time.Duration) {
			h.events <- fmt.Sprintf("reconnecting %d %s", attempt, delay)
		},
		Error:   func(err error) { h.errs <- err },
		Message: func(resp *wire.Response) { h.msgs <- resp },
	}

	cfg := DefaultConfig(testURL)
	if mutate != nil {
		mutate(&cfg)
	}
	all := []Option{
		WithDialer(h.pipe),
		WithScheduler(h.clock),
		WithObserver(obs),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.client, err = New(cfg, wallet, append(all, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.client.Close() })
	return h
}

// sync waits until every task queued on the event loop has run.
func (h *harness) sync() {
	h.client.Pending()
}

func (h *harness) waitEvent(want string) {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case got := <-h.events:
			if got == want {
				return
			}
		case <-deadline:
			h.t.Fatalf("timed out waiting for event %q", want)
		}
	}
}

func (h *harness) waitError(match func(error) bool) error {
	h.t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case err := <-h.errs:
			if match(err) {
				return err
			}
		case <-deadline:
			h.t.Fatal("timed out waiting for error")
			return nil
		}
	}
}

func (h *harness) nextConn() *node {
	h.t.Helper()
	conn, err := h.pipe.Next(waitTimeout)
	require.NoError(h.t, err)
	return &node{t: h.t, conn: conn}
}

// connect runs the challenge path against a scripted node.
func (h *harness) connect() *node {
	h.t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	n := h.nextConn()
	req := n.expect(wire.MethodAuthRequest)
	n.reply(req.ID(), wire.MethodAuthChallenge, `{"challenge_message":"challenge-1"}`)
	verify := n.expect(wire.MethodAuthVerify)
	n.reply(verify.ID(), wire.MethodAuthVerify,
		`{"address":"`+h.wallet.Address()+`","session_key":"0xsession","jwt_token":"token-1","success":true}`)

	require.NoError(h.t, wait(h.t, errCh))
	return n
}

func wait[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}

// node plays the server side of one transport.
type node struct {
	t    *testing.T
	conn *transport.PipeConn
}

func (n *node) next() *wire.Request {
	n.t.Helper()
	data, err := n.conn.NextSent(waitTimeout)
	require.NoError(n.t, err)
	req, err := wire.DecodeRequest(data)
	require.NoError(n.t, err)
	return req
}

func (n *node) expect(method wire.Method) *wire.Request {
	n.t.Helper()
	req := n.next()
	require.Equal(n.t, method, req.Req.Method)
	return req
}

func (n *node) reply(id uint64, method wire.Method, params string) {
	n.conn.Deliver([]byte(fmt.Sprintf(`{"res":[%d,%q,%s,%d],"sig":["0xnode"]}`,
		id, method, params, time.Now().UnixMilli())))
}

func (n *node) fail(id uint64, message string) {
	n.conn.Deliver([]byte(fmt.Sprintf(`{"res":[%d,"error",{"error":%q},%d],"sig":[]}`,
		id, message, time.Now().UnixMilli())))
}

type result struct {
	resp *wire.Response
	err  error
}

func (h *harness) sendAsync(method wire.Method, params any) chan result {
	ch := make(chan result, 1)
	go func() {
		resp, err := h.client.SendRequest(context.Background(), method, params)
		ch <- result{resp, err}
	}()
	return ch
}

func TestConnectChallengePath(t *testing.T) {
	h := newHarness(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	n := h.nextConn()
	req := n.expect(wire.MethodAuthRequest)
	assert.Empty(t, req.Sig)

	var params wire.AuthRequestParams
	require.NoError(t, json.Unmarshal(req.Req.Params, &params))
	assert.Equal(t, h.wallet.Address(), params.Address)
	assert.NotEmpty(t, params.SessionKey)
	assert.Equal(t, "JSR App", params.AppName)
	assert.Equal(t, "console", params.Scope)
	assert.Equal(t, "0x0000000000000000000000000000000000000000", params.Application)
	assert.Equal(t, fmt.Sprint(h.clock.Now().Add(10*24*time.Hour).Unix()), params.Expire)
	assert.NotNil(t, params.Allowances)

	h.sync()
	assert.Equal(t, connection.StateAuthenticating, h.client.State())

	n.reply(req.ID(), wire.MethodAuthChallenge, `[{"challenge_message":"nonce-42"}]`)
	verify := n.expect(wire.MethodAuthVerify)
	assert.JSONEq(t, `{"challenge":"nonce-42"}`, string(verify.Req.Params))
	require.Len(t, verify.Sig, 1)

	n.reply(verify.ID(), wire.MethodAuthVerify,
		`{"address":"`+h.wallet.Address()+`","session_key":"0xsession","jwt_token":"token-1","success":true}`)
	require.NoError(t, wait(t, errCh))

	assert.Equal(t, connection.StateAuthenticated, h.client.State())
	assert.Equal(t, "token-1", h.client.Credential())
	assert.Equal(t, "0xsession", h.client.SessionKey())
	assert.Equal(t, h.wallet.Address(), h.client.Address())

	h.waitEvent("connecting")
	h.waitEvent("connected")
	h.waitEvent("authenticated")
}

func TestConnectTokenFastPath(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Credential = "opaque-token" })

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	n := h.nextConn()
	verify := n.expect(wire.MethodAuthVerify)
	assert.JSONEq(t, `{"jwt":"opaque-token"}`, string(verify.Req.Params))

	n.reply(verify.ID(), wire.MethodAuthVerify, `{"success":true}`)
	require.NoError(t, wait(t, errCh))

	assert.Equal(t, 0, n.conn.Pending(), "exactly one auth message")
	assert.Equal(t, "opaque-token", h.client.Credential())
}

func TestConnectWhenAuthenticatedReplacesTransport(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := h.sendAsync("ping", nil)
	n.expect("ping")

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	n2 := h.nextConn()
	assert.True(t, n.conn.IsClosed(), "prior transport closed before the new dial")
	code, _ := n.conn.CloseStatus()
	assert.Equal(t, transport.StatusNormalClosure, code)
	assert.Equal(t, 2, h.pipe.Dials())
	assert.ErrorIs(t, wait(t, res).err, ErrConnectionClosed)

	verify := n2.expect(wire.MethodAuthVerify)
	assert.JSONEq(t, `{"jwt":"token-1"}`, string(verify.Req.Params))
	n2.reply(verify.ID(), wire.MethodAuthVerify, `{"success":true}`)
	require.NoError(t, wait(t, errCh))

	h.sync()
	assert.Equal(t, connection.StateAuthenticated, h.client.State())
	assert.Equal(t, 0, h.client.Pending())
}

func TestConnectWhileConnectingRestartsAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.pipe.SetAutoAccept(false)

	first := make(chan error, 1)
	go func() { first <- h.client.Connect(context.Background()) }()
	n := h.nextConn()

	second := make(chan error, 1)
	go func() { second <- h.client.Connect(context.Background()) }()
	n2 := h.nextConn()

	assert.ErrorIs(t, wait(t, first), ErrConnectionClosed)
	assert.True(t, n.conn.IsClosed())
	assert.Equal(t, 2, h.pipe.Dials())

	n2.conn.Accept()
	req := n2.expect(wire.MethodAuthRequest)
	n2.reply(req.ID(), wire.MethodAuthChallenge, `{"challenge_message":"challenge-2"}`)
	verify := n2.expect(wire.MethodAuthVerify)
	n2.reply(verify.ID(), wire.MethodAuthVerify,
		`{"address":"`+h.wallet.Address()+`","session_key":"0xsession","jwt_token":"token-2","success":true}`)
	require.NoError(t, wait(t, second))
	assert.Equal(t, "token-2", h.client.Credential())
}

func TestConnectAuthFailure(t *testing.T) {
	h := newHarness(t, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	n := h.nextConn()
	req := n.expect(wire.MethodAuthRequest)
	n.fail(req.ID(), "invalid signature")

	err := wait(t, errCh)
	var authErr *auth.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	var rpcErr *wire.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "invalid signature", rpcErr.Message)

	assert.Equal(t, connection.StateOpen, h.client.State())
	h.waitError(func(e error) bool { return errors.As(e, &authErr) })
}

func TestRefusedTokenIsKept(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Credential = "opaque-token" })

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()
	n := h.nextConn()
	verify := n.expect(wire.MethodAuthVerify)
	n.fail(verify.ID(), "token expired")

	var authErr *auth.AuthenticationError
	require.ErrorAs(t, wait(t, errCh), &authErr)
	assert.Equal(t, "opaque-token", h.client.Credential())

	// A later connect presents the same token.
	go func() { errCh <- h.client.Connect(context.Background()) }()
	n2 := h.nextConn()
	verify = n2.expect(wire.MethodAuthVerify)
	assert.JSONEq(t, `{"jwt":"opaque-token"}`, string(verify.Req.Params))
	n2.reply(verify.ID(), wire.MethodAuthVerify, `{"success":true}`)
	require.NoError(t, wait(t, errCh))
	assert.Equal(t, "opaque-token", h.client.Credential())
}

func TestConnectTimeout(t *testing.T) {
	h := newHarness(t, nil)
	h.pipe.SetAutoAccept(false)

	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(context.Background()) }()

	n := h.nextConn()
	h.clock.Advance(connection.DefaultConnectionTimeout)

	assert.ErrorIs(t, wait(t, errCh), ErrConnectionTimeout)
	h.sync()
	assert.True(t, n.conn.IsClosed())
	h.waitEvent("reconnecting 1 3s")
}

func TestConnectContextCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.pipe.SetAutoAccept(false)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.client.Connect(ctx) }()
	h.nextConn()
	cancel()

	assert.ErrorIs(t, wait(t, errCh), context.Canceled)
}

func TestSendRequestNotAuthenticated(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.client.SendRequest(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, err = h.client.GetChannels(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, h.pipe.Dials())
}

func TestSendRequestWhileConnecting(t *testing.T) {
	h := newHarness(t, nil)
	h.pipe.SetAutoAccept(false)

	go func() { _ = h.client.Connect(context.Background()) }()
	n := h.nextConn()
	h.sync()
	require.Equal(t, connection.StateConnecting, h.client.State())

	_, err := h.client.SendRequest(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Equal(t, 0, n.conn.Pending())
}

func TestSendRequestRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := h.sendAsync("transfer", map[string]string{"destination": "0xdest"})
	req := n.expect("transfer")
	assert.JSONEq(t, `{"destination":"0xdest"}`, string(req.Req.Params))
	assert.Equal(t, uint64(h.clock.Now().UnixMilli()), req.Req.Timestamp)

	// The signature covers the serialized req payload.
	require.Len(t, req.Sig, 1)
	data, err := req.SigningBytes()
	require.NoError(t, err)
	recovered, err := signer.Recover(signer.PayloadDigest(data), req.Sig[0])
	require.NoError(t, err)
	assert.Equal(t, h.wallet.Address(), recovered)

	n.reply(req.ID(), "transfer", `{"ok":true}`)
	r := wait(t, res)
	require.NoError(t, r.err)
	assert.Equal(t, req.ID(), r.resp.RequestID)
	assert.JSONEq(t, `{"ok":true}`, string(r.resp.Params))
	assert.Equal(t, 0, h.client.Pending())
}

func TestConcurrentRequests(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	const count = 5
	results := make([]chan result, count)
	for i := range count {
		results[i] = h.sendAsync("echo", []int{i})
	}
	reqs := make([]*wire.Request, count)
	for i := range count {
		reqs[i] = n.expect("echo")
	}

	ids := make(map[uint64]bool)
	for _, req := range reqs {
		assert.False(t, ids[req.ID()], "duplicate id %d", req.ID())
		ids[req.ID()] = true
	}

	// Answer in reverse order, echoing the params.
	for i := count - 1; i >= 0; i-- {
		n.reply(reqs[i].ID(), "echo", string(reqs[i].Req.Params))
	}
	for i := range count {
		r := wait(t, results[i])
		require.NoError(t, r.err)
		assert.JSONEq(t, fmt.Sprintf("[%d]", i), string(r.resp.Params))
	}
}

func TestRequestRPCError(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := h.sendAsync("transfer", nil)
	req := n.expect("transfer")
	n.fail(req.ID(), "insufficient funds")

	r := wait(t, res)
	var rpcErr *wire.RPCError
	require.ErrorAs(t, r.err, &rpcErr)
	assert.Equal(t, "insufficient funds", rpcErr.Message)
	assert.Nil(t, r.resp)
}

func TestRequestTimeout(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := h.sendAsync("ping", nil)
	n.expect("ping")
	h.clock.Advance(DefaultRequestTimeout)

	r := wait(t, res)
	var timeoutErr *pending.RequestTimeoutError
	require.ErrorAs(t, r.err, &timeoutErr)
	assert.Equal(t, wire.Method("ping"), timeoutErr.Method)
	assert.Equal(t, 0, h.client.Pending())
}

func TestRequestContextCancelled(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan error, 1)
	go func() {
		_, err := h.client.SendRequest(ctx, "ping", nil)
		res <- err
	}()
	n.expect("ping")
	cancel()

	assert.ErrorIs(t, wait(t, res), context.Canceled)
	h.sync()
	assert.Equal(t, 0, h.client.Pending())
}

func TestDisconnectVoidsPending(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	first := h.sendAsync("ping", nil)
	second := h.sendAsync("ping", nil)
	n.expect("ping")
	n.expect("ping")

	require.NoError(t, h.client.Disconnect())

	assert.ErrorIs(t, wait(t, first).err, ErrConnectionClosed)
	assert.ErrorIs(t, wait(t, second).err, ErrConnectionClosed)

	code, reason := n.conn.CloseStatus()
	assert.Equal(t, transport.StatusNormalClosure, code)
	assert.Equal(t, DisconnectReason, reason)
	assert.Equal(t, connection.StateDisconnected, h.client.State())
	h.waitEvent("disconnected 1000 User initiated disconnect")

	// No reconnection follows a requested close.
	h.clock.Advance(time.Hour)
	h.sync()
	assert.Equal(t, 1, h.pipe.Dials())
}

func TestReconnectReauthenticatesWithToken(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := h.sendAsync("ping", nil)
	n.expect("ping")

	n.conn.CloseRemote(1006, "network lost")
	assert.ErrorIs(t, wait(t, res).err, ErrConnectionClosed)
	h.waitEvent("disconnected 1006 network lost")
	h.waitEvent("reconnecting 1 3s")
	h.sync()
	assert.Equal(t, connection.StateDisconnected, h.client.State())

	h.clock.Advance(3 * time.Second)
	n2 := h.nextConn()
	verify := n2.expect(wire.MethodAuthVerify)
	assert.JSONEq(t, `{"jwt":"token-1"}`, string(verify.Req.Params))
	n2.reply(verify.ID(), wire.MethodAuthVerify, `{"success":true}`)

	h.waitEvent("authenticated")
	h.sync()
	assert.Equal(t, connection.StateAuthenticated, h.client.State())
	assert.True(t, n.conn.IsClosed())
}

func TestReconnectExhausted(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()
	h.pipe.SetAutoAccept(false)

	n.conn.CloseRemote(1006, "gone")
	h.waitEvent("reconnecting 1 3s")
	h.sync()
	h.clock.Advance(3 * time.Second)
	h.nextConn().conn.Fail(errors.New("connection refused"))

	h.waitEvent("reconnecting 2 6s")
	h.sync()
	h.clock.Advance(6 * time.Second)
	h.nextConn().conn.Fail(errors.New("connection refused"))

	h.waitError(func(err error) bool { return errors.Is(err, ErrReconnectExhausted) })
	h.clock.Advance(time.Hour)
	h.sync()
	assert.Equal(t, 3, h.pipe.Dials())
	assert.Equal(t, connection.StateDisconnected, h.client.State())
}

func TestDisconnectCancelsScheduledReconnect(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	n.conn.CloseRemote(1001, "restarting")
	h.waitEvent("reconnecting 1 3s")
	h.sync()

	require.NoError(t, h.client.Disconnect())
	h.clock.Advance(time.Hour)
	h.sync()

	assert.Equal(t, 1, h.pipe.Dials())
	assert.Equal(t, connection.StateDisconnected, h.client.State())
}

func TestPushMessages(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()
	h.sync()
	for len(h.msgs) > 0 {
		<-h.msgs
	}

	n.reply(0, wire.MethodBalanceUpdate, `[{"asset":"usdc","amount":"10"}]`)
	n.reply(987654, "get_channels", `[]`)

	push := wait(t, h.msgs)
	assert.Equal(t, wire.MethodBalanceUpdate, push.Method)
	balances, err := push.ParseLedgerBalances()
	require.NoError(t, err)
	assert.Equal(t, "usdc", balances[0].Asset)

	unmatched := wait(t, h.msgs)
	assert.Equal(t, uint64(987654), unmatched.RequestID)
	assert.Equal(t, connection.StateAuthenticated, h.client.State())
}

func TestMalformedMessage(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	n.conn.Deliver([]byte("not json"))
	h.waitError(func(err error) bool { return err != nil })
	assert.Equal(t, connection.StateAuthenticated, h.client.State())
}

func TestDomainRequests(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	t.Run("channels", func(t *testing.T) {
		res := make(chan []wire.Channel, 1)
		go func() {
			channels, err := h.client.GetChannels(context.Background())
			assert.NoError(t, err)
			res <- channels
		}()
		req := n.expect(wire.MethodGetChannels)
		assert.JSONEq(t, `{"participant":"`+h.wallet.Address()+`"}`, string(req.Req.Params))
		require.Len(t, req.Sig, 1)
		n.reply(req.ID(), wire.MethodGetChannels,
			`[[{"channel_id":"0xc1","status":"open","token":"0xusdc","amount":"100","chain_id":137}]]`)

		channels := wait(t, res)
		require.Len(t, channels, 1)
		assert.Equal(t, "0xc1", channels[0].ChannelID)
		assert.True(t, channels[0].IsOpen())
	})

	t.Run("ledger balances", func(t *testing.T) {
		res := make(chan []wire.LedgerBalance, 1)
		go func() {
			balances, err := h.client.GetLedgerBalances(context.Background(), "0xc1")
			assert.NoError(t, err)
			res <- balances
		}()
		req := n.expect(wire.MethodGetLedgerBalances)
		assert.JSONEq(t, `{"account_id":"0xc1"}`, string(req.Req.Params))
		n.reply(req.ID(), wire.MethodGetLedgerBalances, `[[{"asset":"usdc","amount":"42.5"}]]`)

		balances := wait(t, res)
		require.Len(t, balances, 1)
		assert.Equal(t, "42.5", balances[0].Amount.String())
	})

	t.Run("config", func(t *testing.T) {
		res := make(chan *wire.NodeConfig, 1)
		go func() {
			cfg, err := h.client.GetConfig(context.Background())
			assert.NoError(t, err)
			res <- cfg
		}()
		req := n.expect(wire.MethodGetConfig)
		n.reply(req.ID(), wire.MethodGetConfig, `{"broker_address":"0xbroker","networks":[{"name":"polygon","chain_id":137}]}`)

		cfg := wait(t, res)
		require.NotNil(t, cfg)
		assert.Equal(t, "0xbroker", cfg.BrokerAddress)
		require.Len(t, cfg.Networks, 1)
	})
}

func TestSummary(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := make(chan *Summary, 1)
	go func() {
		s, err := h.client.Summary(context.Background())
		assert.NoError(t, err)
		res <- s
	}()

	req := n.expect(wire.MethodGetChannels)
	n.reply(req.ID(), wire.MethodGetChannels,
		`[[{"channel_id":"0xopen","status":"open"},{"channel_id":"0xclosed","status":"closed"}]]`)

	bal := n.expect(wire.MethodGetLedgerBalances)
	assert.JSONEq(t, `{"account_id":"0xopen"}`, string(bal.Req.Params))
	n.reply(bal.ID(), wire.MethodGetLedgerBalances, `[[{"asset":"usdc","amount":"5"}]]`)

	s := wait(t, res)
	require.NotNil(t, s)
	assert.Len(t, s.Channels, 2)
	require.Contains(t, s.Balances, "0xopen")
	assert.NotContains(t, s.Balances, "0xclosed")
	assert.Equal(t, 0, n.conn.Pending(), "closed channels are not queried")
}

func TestWatchBalances(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()
	h.sync()
	require.Equal(t, 0, h.clock.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu    sync.Mutex
		polls int
	)
	pollCount := func() int {
		mu.Lock()
		defer mu.Unlock()
		return polls
	}
	done := make(chan error, 1)
	go func() {
		done <- h.client.WatchBalances(ctx, "0xc1", 5*time.Second, func(b []wire.LedgerBalance, err error) {
			assert.NoError(t, err)
			assert.Len(t, b, 1)
			mu.Lock()
			polls++
			mu.Unlock()
		})
	}()

	// First poll is immediate.
	req := n.expect(wire.MethodGetLedgerBalances)
	n.reply(req.ID(), wire.MethodGetLedgerBalances, `[[{"asset":"usdc","amount":"1"}]]`)
	assert.Eventually(t, func() bool { return pollCount() == 1 && h.clock.Pending() == 1 },
		waitTimeout, time.Millisecond)

	// Nothing more until the scheduler reaches the interval.
	h.clock.Advance(4 * time.Second)
	h.sync()
	assert.Equal(t, 0, n.conn.Pending())

	h.clock.Advance(time.Second)
	req = n.expect(wire.MethodGetLedgerBalances)
	n.reply(req.ID(), wire.MethodGetLedgerBalances, `[[{"asset":"usdc","amount":"2"}]]`)
	assert.Eventually(t, func() bool { return pollCount() == 2 && h.clock.Pending() == 1 },
		waitTimeout, time.Millisecond)

	cancel()
	assert.ErrorIs(t, wait(t, done), context.Canceled)
	assert.Equal(t, 0, h.clock.Pending(), "poll timer stopped")
}

func TestClose(t *testing.T) {
	h := newHarness(t, nil)
	n := h.connect()

	res := h.sendAsync("ping", nil)
	n.expect("ping")

	require.NoError(t, h.client.Close())
	assert.ErrorIs(t, wait(t, res).err, ErrConnectionClosed)
	assert.True(t, n.conn.IsClosed())

	assert.ErrorIs(t, h.client.Connect(context.Background()), ErrClientClosed)
	assert.ErrorIs(t, h.client.Disconnect(), ErrClientClosed)
	assert.NoError(t, h.client.Close())
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	h := newHarness(t, nil, WithMetrics(m))
	n := h.connect()

	res := make(chan error, 1)
	go func() {
		_, err := h.client.GetConfig(context.Background())
		res <- err
	}()
	req := n.expect(wire.MethodGetConfig)
	n.reply(req.ID(), wire.MethodGetConfig, `{"broker_address":"0xb"}`)
	require.NoError(t, wait(t, res))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("get_config", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.authentications.WithLabelValues("success")))
	assert.Equal(t, float64(connection.StateAuthenticated), testutil.ToFloat64(m.state))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "collectors register once per registry")
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(ev log.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureLogger) snapshot() []log.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]log.Event(nil), c.events...)
}

func TestProtocolTrace(t *testing.T) {
	capture := &captureLogger{}
	h := newHarness(t, nil, WithProtocolLogger(capture))
	n := h.connect()
	h.sync()

	var (
		sawRequest       bool
		sawAuthenticated bool
	)
	for _, ev := range capture.snapshot() {
		if ev.Message != nil && ev.Message.Method == string(wire.MethodAuthRequest) {
			sawRequest = true
			assert.Equal(t, log.DirectionOut, ev.Direction)
			assert.Equal(t, n.conn.ConnectionID(), ev.ConnectionID)
		}
		if ev.StateChange != nil && ev.StateChange.Entity == log.StateEntityAuth &&
			ev.StateChange.NewState == "AUTHENTICATED" {
			sawAuthenticated = true
			assert.Equal(t, h.wallet.Address(), ev.Wallet)
		}
	}
	assert.True(t, sawRequest, "auth_request traced")
	assert.True(t, sawAuthenticated, "authentication traced")
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	wallet, err := signer.NewWallet(testKey)
	require.NoError(t, err)
	_, err = New(Config{}, wallet)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	c, err := New(DefaultConfig(testURL), wallet, WithDialer(transport.NewPipe()))
	require.NoError(t, err)
	defer c.Close()
	assert.NotEmpty(t, c.SessionKey(), "random session key")
	assert.Equal(t, connection.StateDisconnected, c.State())
}
