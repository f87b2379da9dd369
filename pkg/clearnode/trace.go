package clearnode

import (
	"time"

	"github.com/hookpay/clearnode-go/pkg/log"
	"github.com/hookpay/clearnode-go/pkg/wire"
)

func (c *Client) event(layer log.Layer, category log.Category, dir log.Direction) log.Event {
	return log.Event{
		Timestamp:    c.sched.Now(),
		ConnectionID: c.connID,
		Direction:    dir,
		Layer:        layer,
		Category:     category,
	}
}

func (c *Client) traceMessage(dir log.Direction, typ log.MessageType, id uint64, method wire.Method, params []byte, sigs int, latency *time.Duration) {
	ev := c.event(log.LayerWire, log.CategoryMessage, dir)
	ev.Message = &log.MessageEvent{
		Type:       typ,
		RequestID:  id,
		Method:     string(method),
		Params:     params,
		Signatures: sigs,
		Latency:    latency,
	}
	c.proto.Log(ev)
}

func (c *Client) traceInbound(resp *wire.Response) {
	typ := log.MessageTypeResponse
	switch {
	case resp.IsError():
		typ = log.MessageTypeError
	case resp.Method.IsPush():
		typ = log.MessageTypePush
	}

	var latency *time.Duration
	if entry, ok := c.table.Get(resp.RequestID); ok {
		d := c.sched.Now().Sub(entry.SubmittedAt)
		latency = &d
	}
	c.traceMessage(log.DirectionIn, typ, resp.RequestID, resp.Method, resp.Params, len(resp.Signatures), latency)
}

func (c *Client) traceState(entity log.StateEntity, oldState, newState, reason string) {
	ev := c.event(log.LayerClient, log.CategoryState, log.DirectionOut)
	ev.URL = c.cfg.URL
	ev.Wallet = c.wallet.Address()
	ev.StateChange = &log.StateChangeEvent{
		Entity:   entity,
		OldState: oldState,
		NewState: newState,
		Reason:   reason,
	}
	c.proto.Log(ev)
}

func (c *Client) traceClose(code int, reason string) {
	ev := c.event(log.LayerClient, log.CategoryControl, log.DirectionIn)
	ev.ControlMsg = &log.ControlMsgEvent{
		Type:        log.ControlMsgClose,
		CloseCode:   &code,
		CloseReason: reason,
	}
	c.proto.Log(ev)
}

func (c *Client) traceError(err error) {
	ev := c.event(log.LayerClient, log.CategoryError, log.DirectionIn)
	ev.Error = &log.ErrorEventData{
		Layer:   log.LayerClient,
		Message: err.Error(),
	}
	c.proto.Log(ev)
}
