// Package circuitbreaker short-circuits chains whose nodes keep failing so a
// dead endpoint stops costing a full RPC timeout on every cycle.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of one chain's breaker
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, fetches are skipped
	StateHalfOpen              // Cooldown elapsed, probing the node again
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText renders the state by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ErrOpen is returned by Allow while a chain is short-circuited
var ErrOpen = errors.New("circuit open")

// Options configures a Breaker
type Options struct {
	// FailureThreshold is the number of consecutive failures that trips a chain
	FailureThreshold int

	// CooldownPeriod is how long a tripped chain is skipped before a probe
	CooldownPeriod time.Duration

	// SuccessThreshold is the number of probe successes that close the breaker
	SuccessThreshold int

	// OnStateChange is called after a chain changes state. It runs under the
	// breaker lock and must not call back into the Breaker.
	OnStateChange func(chain string, from, to State)
}

// DefaultOptions returns the settings used in production
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 3,
		CooldownPeriod:   2 * time.Minute,
		SuccessThreshold: 1,
	}
}

// Breaker tracks one circuit per chain key
type Breaker struct {
	opts Options
	now  func() time.Time

	mu     sync.Mutex
	chains map[string]*circuit
}

type circuit struct {
	state        State
	failures     int
	successes    int
	lastTrip     time.Time
	lastError    string
	probeRunning bool
}

// Status is a point-in-time view of one chain's circuit
type Status struct {
	State     State     `json:"state"`
	Failures  int       `json:"consecutiveFailures"`
	LastTrip  time.Time `json:"lastTrip,omitempty"`
	LastError string    `json:"lastError,omitempty"`
}

// New creates a Breaker; zero option values fall back to DefaultOptions
func New(opts Options) *Breaker {
	def := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.CooldownPeriod <= 0 {
		opts.CooldownPeriod = def.CooldownPeriod
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = def.SuccessThreshold
	}
	return &Breaker{
		opts:   opts,
		now:    time.Now,
		chains: make(map[string]*circuit),
	}
}

// WithClock overrides the time source and returns the breaker
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Allow reports whether a fetch for chain may proceed. Once the cooldown has
// elapsed a single probe is let through in the half-open state.
func (b *Breaker) Allow(chain string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(chain)
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.lastTrip) < b.opts.CooldownPeriod {
			return fmt.Errorf("%w: %s", ErrOpen, c.lastError)
		}
		b.transition(chain, c, StateHalfOpen)
		c.successes = 0
		c.probeRunning = true
		return nil
	case StateHalfOpen:
		if c.probeRunning {
			return fmt.Errorf("%w: probe in flight", ErrOpen)
		}
		c.probeRunning = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess registers a successful fetch
func (b *Breaker) RecordSuccess(chain string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(chain)
	c.failures = 0
	c.lastError = ""

	if c.state == StateHalfOpen {
		c.probeRunning = false
		c.successes++
		if c.successes >= b.opts.SuccessThreshold {
			c.successes = 0
			b.transition(chain, c, StateClosed)
		}
	}
}

// RecordFailure registers a failed fetch and trips the chain when the
// threshold is reached or a half-open probe fails
func (b *Breaker) RecordFailure(chain string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(chain)
	c.failures++
	if err != nil {
		c.lastError = err.Error()
	}

	switch c.state {
	case StateHalfOpen:
		c.probeRunning = false
		b.trip(chain, c)
	case StateClosed:
		if c.failures >= b.opts.FailureThreshold {
			b.trip(chain, c)
		}
	}
}

// Abandon releases a half-open probe slot without judging the chain. It is
// used when a fetch was cut short by its caller rather than by the node.
func (b *Breaker) Abandon(chain string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.chains[chain]; ok && c.state == StateHalfOpen {
		c.probeRunning = false
	}
}

// GetState returns the state of one chain's circuit
func (b *Breaker) GetState(chain string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.chains[chain]; ok {
		return c.state
	}
	return StateClosed
}

// Snapshot returns the status of every tracked chain
func (b *Breaker) Snapshot() map[string]Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]Status, len(b.chains))
	for key, c := range b.chains {
		out[key] = Status{
			State:     c.state,
			Failures:  c.failures,
			LastTrip:  c.lastTrip,
			LastError: c.lastError,
		}
	}
	return out
}

// OpenChains returns the keys of chains that are currently not closed, sorted
func (b *Breaker) OpenChains() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var keys []string
	for key, c := range b.chains {
		if c.state != StateClosed {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Reset forcibly closes one chain's circuit, or every circuit when chain is empty
func (b *Breaker) Reset(chain string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, c := range b.chains {
		if chain != "" && key != chain {
			continue
		}
		c.failures = 0
		c.successes = 0
		c.lastError = ""
		c.probeRunning = false
		b.transition(key, c, StateClosed)
	}
	logrus.WithField("chain", chain).Info("Circuit breaker manually reset to closed state")
}

func (b *Breaker) get(chain string) *circuit {
	c, ok := b.chains[chain]
	if !ok {
		c = &circuit{state: StateClosed}
		b.chains[chain] = c
	}
	return c
}

// trip opens the circuit with the current time
func (b *Breaker) trip(chain string, c *circuit) {
	c.lastTrip = b.now()
	b.transition(chain, c, StateOpen)
	logrus.WithFields(logrus.Fields{
		"chain":    chain,
		"failures": c.failures,
		"cooldown": b.opts.CooldownPeriod,
	}).Warnf("Circuit breaker tripped: %s", c.lastError)
}

func (b *Breaker) transition(chain string, c *circuit, to State) {
	from := c.state
	c.state = to
	if from != to && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(chain, from, to)
	}
}
