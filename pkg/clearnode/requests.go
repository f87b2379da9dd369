package clearnode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hookpay/clearnode-go/pkg/connection"
	"github.com/hookpay/clearnode-go/pkg/log"
	"github.com/hookpay/clearnode-go/pkg/pending"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

// Polling defaults.
const (
	DefaultWatchInterval = 5 * time.Second
	summaryConcurrency   = 4
)

// buildFunc creates the request for a call once its id is allocated.
type buildFunc func(id uint64, ts time.Time) (*wire.Request, error)

type callResult struct {
	resp *wire.Response
	err  error
}

// SendRequest signs and sends an application request and waits for the
// matching response. It fails with ErrNotAuthenticated unless the client is
// authenticated. An error response from the node is returned as
// *wire.RPCError.
func (c *Client) SendRequest(ctx context.Context, method wire.Method, params any) (*wire.Response, error) {
	return c.call(ctx, func(id uint64, ts time.Time) (*wire.Request, error) {
		req, err := wire.NewRequest(id, method, params, ts)
		if err != nil {
			return nil, err
		}
		if err := req.Sign(c.wallet.SignPayload); err != nil {
			return nil, err
		}
		return req, nil
	})
}

// GetChannels lists the channels of the wallet.
func (c *Client) GetChannels(ctx context.Context) ([]wire.Channel, error) {
	resp, err := c.call(ctx, func(id uint64, ts time.Time) (*wire.Request, error) {
		return wire.NewGetChannels(id, c.wallet.Address(), "", ts, c.wallet.SignPayload)
	})
	if err != nil {
		return nil, err
	}
	return resp.ParseChannels()
}

// GetLedgerBalances returns the balances of accountID, usually a channel id.
func (c *Client) GetLedgerBalances(ctx context.Context, accountID string) ([]wire.LedgerBalance, error) {
	resp, err := c.call(ctx, func(id uint64, ts time.Time) (*wire.Request, error) {
		return wire.NewGetLedgerBalances(id, accountID, ts, c.wallet.SignPayload)
	})
	if err != nil {
		return nil, err
	}
	return resp.ParseLedgerBalances()
}

// GetConfig returns the node's broker address and supported networks.
func (c *Client) GetConfig(ctx context.Context) (*wire.NodeConfig, error) {
	resp, err := c.call(ctx, func(id uint64, ts time.Time) (*wire.Request, error) {
		return wire.NewGetConfig(id, ts, c.wallet.SignPayload)
	})
	if err != nil {
		return nil, err
	}
	return resp.ParseConfig()
}

// Summary is a snapshot of the wallet's channels and the balances of the
// open ones.
type Summary struct {
	Channels []wire.Channel

	// Balances is keyed by channel id.
	Balances map[string][]wire.LedgerBalance
}

// Summary lists the channels and fetches the balances of every open channel
// concurrently.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	channels, err := c.GetChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}

	s := &Summary{
		Channels: channels,
		Balances: make(map[string][]wire.LedgerBalance),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(summaryConcurrency)
	for _, ch := range channels {
		if !ch.IsOpen() {
			continue
		}
		g.Go(func() error {
			balances, err := c.GetLedgerBalances(gctx, ch.ChannelID)
			if err != nil {
				return fmt.Errorf("balances of channel %s: %w", ch.ChannelID, err)
			}
			mu.Lock()
			s.Balances[ch.ChannelID] = balances
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// WatchBalances polls the balances of accountID every interval, passing each
// result to fn, until ctx is done. The first poll happens immediately; each
// next poll is scheduled on the client's scheduler once fn has returned.
func (c *Client) WatchBalances(ctx context.Context, accountID string, interval time.Duration, fn func([]wire.LedgerBalance, error)) error {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	tick := make(chan struct{}, 1)

	for {
		balances, err := c.GetLedgerBalances(ctx, accountID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fn(balances, err)

		timer := c.sched.AfterFunc(interval, func() {
			select {
			case tick <- struct{}{}:
			default:
			}
		})
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-tick:
		}
	}
}

func (c *Client) call(ctx context.Context, build buildFunc) (*wire.Response, error) {
	if c.State() != connection.StateAuthenticated {
		return nil, ErrNotAuthenticated
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := build(c.ids.Next(), c.sched.Now())
	if err != nil {
		return nil, err
	}
	data, err := req.Encode()
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, req, data)
}

func (c *Client) roundTrip(ctx context.Context, req *wire.Request, data []byte) (*wire.Response, error) {
	id, method := req.ID(), req.Req.Method
	done := make(chan callResult, 1)
	start := time.Now()
	settle := func(r callResult) {
		c.metrics.requestFinished(string(method), resultLabel(r.err), time.Since(start))
		done <- r
	}

	posted := c.loop.Post(func() {
		if c.lc.State() != connection.StateAuthenticated {
			done <- callResult{err: ErrNotAuthenticated}
			return
		}
		err := c.table.Register(id, method, c.cfg.RequestTimeout,
			func(resp *wire.Response) { settle(callResult{resp: resp}) },
			func(err error) { settle(callResult{err: err}) },
		)
		if err != nil {
			done <- callResult{err: err}
			return
		}
		c.metrics.requestStarted()
		c.traceMessage(log.DirectionOut, log.MessageTypeRequest, id, method, req.Req.Params, len(req.Sig), nil)
		if err := c.lc.Send(data); err != nil {
			c.table.Reject(id, &connection.TransportError{Err: err})
		}
	})
	if !posted {
		return nil, ErrClientClosed
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		c.loop.Post(func() { c.table.Reject(id, ctx.Err()) })
		return nil, ctx.Err()
	}
}

func resultLabel(err error) string {
	var (
		rpcErr     *wire.RPCError
		timeoutErr *pending.RequestTimeoutError
	)
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &rpcErr):
		return "rpc_error"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	default:
		return "error"
	}
}
