package transport

import (
	"context"
	"sync"
	"time"
)

// Keep-alive defaults.
const (
	DefaultPingInterval   = 30 * time.Second
	DefaultPongTimeout    = 5 * time.Second
	DefaultMaxMissedPongs = 3

	// MaxDetectionDelay is PingInterval * MaxMissedPongs + PongTimeout for
	// the defaults.
	MaxDetectionDelay = 95 * time.Second
)

// KeepAliveConfig configures liveness pings.
type KeepAliveConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMissedPongs int
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval:   DefaultPingInterval,
		PongTimeout:    DefaultPongTimeout,
		MaxMissedPongs: DefaultMaxMissedPongs,
	}
}

// DetectionDelay is the longest a dead connection can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.PingInterval*time.Duration(c.MaxMissedPongs) + c.PongTimeout
}

func (c KeepAliveConfig) withDefaults() KeepAliveConfig {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.MaxMissedPongs == 0 {
		c.MaxMissedPongs = DefaultMaxMissedPongs
	}
	return c
}

// PingFunc sends a ping and blocks until the matching pong arrives or ctx
// ends.
type PingFunc func(ctx context.Context) error

// KeepAlive pings a connection on a fixed interval and reports when too
// many pongs in a row were missed.
type KeepAlive struct {
	config    KeepAliveConfig
	ping      PingFunc
	onTimeout func()
	onPong    func(rtt time.Duration)

	mu           sync.Mutex
	running      bool
	stopCh       chan struct{}
	missedPongs  int
	pings        uint64
	lastPingTime time.Time
	lastPongTime time.Time
	lastRTT      time.Duration
}

// NewKeepAlive creates a keep-alive monitor. onTimeout runs at most once per
// Start, on the monitor goroutine.
func NewKeepAlive(config KeepAliveConfig, ping PingFunc, onTimeout func()) *KeepAlive {
	return &KeepAlive{
		config:    config.withDefaults(),
		ping:      ping,
		onTimeout: onTimeout,
	}
}

// SetPongCallback registers a callback invoked with each round trip time.
func (ka *KeepAlive) SetPongCallback(cb func(rtt time.Duration)) {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	ka.onPong = cb
}

// Start begins monitoring until Stop or ctx ends.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.missedPongs = 0
	ka.stopCh = make(chan struct{})
	stop := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stop)
}

// Stop ends monitoring.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// IsRunning reports whether monitoring is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats is a snapshot of keep-alive counters.
type KeepAliveStats struct {
	Pings        uint64
	MissedPongs  int
	LastPingTime time.Time
	LastPongTime time.Time
	LastRTT      time.Duration
}

// Stats returns current counters.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		Pings:        ka.pings,
		MissedPongs:  ka.missedPongs,
		LastPingTime: ka.lastPingTime,
		LastPongTime: ka.lastPongTime,
		LastRTT:      ka.lastRTT,
	}
}

func (ka *KeepAlive) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if !ka.pingOnce(ctx) {
				ka.mu.Lock()
				ka.running = false
				ka.mu.Unlock()
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
		}
	}
}

// pingOnce returns false when the connection should be considered dead.
func (ka *KeepAlive) pingOnce(ctx context.Context) bool {
	ka.mu.Lock()
	start := time.Now()
	ka.lastPingTime = start
	ka.pings++
	ka.mu.Unlock()

	pingCtx, cancel := context.WithTimeout(ctx, ka.config.PongTimeout)
	err := ka.ping(pingCtx)
	cancel()

	if ctx.Err() != nil {
		// Shutting down; not a missed pong.
		return true
	}

	ka.mu.Lock()
	if err != nil {
		ka.missedPongs++
		dead := ka.missedPongs >= ka.config.MaxMissedPongs
		ka.mu.Unlock()
		return !dead
	}
	now := time.Now()
	ka.missedPongs = 0
	ka.lastPongTime = now
	ka.lastRTT = now.Sub(start)
	cb := ka.onPong
	rtt := ka.lastRTT
	ka.mu.Unlock()

	if cb != nil {
		cb(rtt)
	}
	return true
}
