package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Reconnect defaults.
const (
	DefaultMaxAttempts  = 2
	DefaultBaseInterval = 3 * time.Second
)

// PolicyConfig configures reconnection.
type PolicyConfig struct {
	// MaxAttempts is the number of consecutive attempts allowed. Zero means
	// DefaultMaxAttempts; negative disables reconnection.
	MaxAttempts int

	// BaseInterval is the delay before the first attempt.
	BaseInterval time.Duration

	// MaxDelay caps the delay. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter adds up to Jitter*delay of random delay.
	Jitter float64
}

// Policy computes bounded exponential backoff.
type Policy struct {
	maxAttempts int
	base        time.Duration
	maxDelay    time.Duration
	jitter      float64
	attempts    int
}

// NewPolicy creates a Policy, filling in defaults.
func NewPolicy(cfg PolicyConfig) *Policy {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.BaseInterval <= 0 {
		cfg.BaseInterval = DefaultBaseInterval
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}
	return &Policy{
		maxAttempts: cfg.MaxAttempts,
		base:        cfg.BaseInterval,
		maxDelay:    cfg.MaxDelay,
		jitter:      cfg.Jitter,
	}
}

// Next advances to the next attempt. ok is false once MaxAttempts attempts
// have been handed out since the last Reset.
func (p *Policy) Next() (attempt int, delay time.Duration, ok bool) {
	if p.attempts >= p.maxAttempts {
		return p.attempts, 0, false
	}
	p.attempts++
	return p.attempts, p.addJitter(p.DelayFor(p.attempts)), true
}

// DelayFor returns the base delay of attempt n (1-based) without jitter.
func (p *Policy) DelayFor(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.base
	for i := 1; i < n; i++ {
		if d > math.MaxInt64/2 {
			// Saturate instead of wrapping negative.
			d = math.MaxInt64
			break
		}
		d *= 2
		if p.maxDelay > 0 && d >= p.maxDelay {
			return p.maxDelay
		}
	}
	if p.maxDelay > 0 && d > p.maxDelay {
		return p.maxDelay
	}
	return d
}

// Reset clears the attempt counter. Call it when a transport opens.
func (p *Policy) Reset() {
	p.attempts = 0
}

// Attempts returns the attempts handed out since the last Reset.
func (p *Policy) Attempts() int {
	return p.attempts
}

// MaxAttempts returns the attempt limit.
func (p *Policy) MaxAttempts() int {
	return p.maxAttempts
}

// Sequence returns the base delays of every allowed attempt.
func (p *Policy) Sequence() []time.Duration {
	out := make([]time.Duration, 0, p.maxAttempts)
	for n := 1; n <= p.maxAttempts; n++ {
		out = append(out, p.DelayFor(n))
	}
	return out
}

func (p *Policy) addJitter(d time.Duration) time.Duration {
	if p.jitter <= 0 {
		return d
	}
	extra := float64(d) * p.jitter * rand.Float64()
	if extra >= float64(math.MaxInt64-d) {
		return math.MaxInt64
	}
	return d + time.Duration(extra)
}
