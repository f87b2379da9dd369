package clearnode

import (
	"time"

	"github.com/hookpay/clearnode-go/pkg/wire"
)

// Observer receives client notifications. Callbacks run on the client's
// event loop and must return promptly.
type Observer interface {
	OnConnecting()
	OnConnected()
	OnAuthenticated()
	OnDisconnected(code int, reason string)
	OnReconnecting(attempt int, delay time.Duration)
	OnError(err error)
	OnMessage(resp *wire.Response)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnConnecting()                     {}
func (NopObserver) OnConnected()                      {}
func (NopObserver) OnAuthenticated()                  {}
func (NopObserver) OnDisconnected(int, string)        {}
func (NopObserver) OnReconnecting(int, time.Duration) {}
func (NopObserver) OnError(error)                     {}
func (NopObserver) OnMessage(*wire.Response)          {}

// ObserverFuncs adapts functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Connecting    func()
	Connected     func()
	Authenticated func()
	Disconnected  func(code int, reason string)
	Reconnecting  func(attempt int, delay time.Duration)
	Error         func(err error)
	Message       func(resp *wire.Response)
}

func (f ObserverFuncs) OnConnecting() {
	if f.Connecting != nil {
		f.Connecting()
	}
}

func (f ObserverFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f ObserverFuncs) OnAuthenticated() {
	if f.Authenticated != nil {
		f.Authenticated()
	}
}

func (f ObserverFuncs) OnDisconnected(code int, reason string) {
	if f.Disconnected != nil {
		f.Disconnected(code, reason)
	}
}

func (f ObserverFuncs) OnReconnecting(attempt int, delay time.Duration) {
	if f.Reconnecting != nil {
		f.Reconnecting(attempt, delay)
	}
}

func (f ObserverFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f ObserverFuncs) OnMessage(resp *wire.Response) {
	if f.Message != nil {
		f.Message(resp)
	}
}

// observers fans notifications out to every registered Observer.
type observers []Observer

func (o observers) OnConnecting() {
	for _, obs := range o {
		obs.OnConnecting()
	}
}

func (o observers) OnConnected() {
	for _, obs := range o {
		obs.OnConnected()
	}
}

func (o observers) OnAuthenticated() {
	for _, obs := range o {
		obs.OnAuthenticated()
	}
}

func (o observers) OnDisconnected(code int, reason string) {
	for _, obs := range o {
		obs.OnDisconnected(code, reason)
	}
}

func (o observers) OnReconnecting(attempt int, delay time.Duration) {
	for _, obs := range o {
		obs.OnReconnecting(attempt, delay)
	}
}

func (o observers) OnError(err error) {
	for _, obs := range o {
		obs.OnError(err)
	}
}

func (o observers) OnMessage(resp *wire.Response) {
	for _, obs := range o {
		obs.OnMessage(resp)
	}
}

var (
	_ Observer = NopObserver{}
	_ Observer = ObserverFuncs{}
	_ Observer = observers(nil)
)
