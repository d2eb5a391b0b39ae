package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// State values double as gauge readings, so their order is fixed.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{"closed", "half-open", "open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

type Config struct {
	// MaxRequests bounds concurrent trial calls while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts periodically. Zero never clears.
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
	SuccessThreshold uint32
	// IsSuccessful classifies an error returned by the wrapped call.
	// Defaults to err == nil, with context cancellation counted as success
	// so callers giving up does not trip the breaker.
	IsSuccessful  func(err error) bool
	OnStateChange func(name string, from State, to State)
	// StateGauge, when set, is kept at the current State under the
	// breaker's name label.
	StateGauge *prometheus.GaugeVec
	Logger     *zap.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 2
	}
	if c.IsSuccessful == nil {
		c.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Counts are reset at every state change and every closed-state interval.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c *Counts) success() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

func (c *Counts) failure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// window is one generation of a state: the counts gathered in it and the
// instant it ends. A zero deadline never ends.
type window struct {
	id       uint64
	counts   Counts
	deadline time.Time
}

type CircuitBreaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu    sync.Mutex
	state State
	win   window
}

func NewCircuitBreaker(name string, cfg Config) *CircuitBreaker {
	cb := &CircuitBreaker{
		name: name,
		cfg:  cfg.withDefaults(),
		now:  time.Now,
	}
	cb.openWindow(cb.now())
	if cb.cfg.StateGauge != nil {
		cb.cfg.StateGauge.WithLabelValues(name).Set(float64(StateClosed))
	}
	return cb
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn unless the breaker rejects it. A panic in fn counts as a
// failure and is re-raised.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ticket, err := cb.admit()
	if err != nil {
		return err
	}

	done := false
	defer func() {
		if !done {
			cb.record(ticket, false)
		}
	}()

	err = fn()
	done = true
	cb.record(ticket, cb.cfg.IsSuccessful(err))
	return err
}

// admit returns the id of the window the call belongs to.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.refresh(cb.now()) {
	case StateOpen:
		return 0, ErrCircuitOpen
	case StateHalfOpen:
		if cb.win.counts.Requests >= cb.cfg.MaxRequests {
			return 0, ErrTooManyRequests
		}
	}
	cb.win.counts.Requests++
	return cb.win.id, nil
}

// record drops outcomes of calls admitted under an earlier window.
func (cb *CircuitBreaker) record(ticket uint64, ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	state := cb.refresh(now)
	if cb.win.id != ticket {
		return
	}

	c := &cb.win.counts
	if ok {
		c.success()
		if state == StateHalfOpen && c.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.moveTo(StateClosed, now)
		}
		return
	}

	c.failure()
	if state == StateHalfOpen || c.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		cb.moveTo(StateOpen, now)
	}
}

// refresh applies the time-based transitions and returns the state at now.
func (cb *CircuitBreaker) refresh(now time.Time) State {
	expired := !cb.win.deadline.IsZero() && now.After(cb.win.deadline)
	switch {
	case cb.state == StateClosed && expired:
		cb.openWindow(now)
	case cb.state == StateOpen && expired:
		cb.moveTo(StateHalfOpen, now)
	}
	return cb.state
}

func (cb *CircuitBreaker) moveTo(to State, now time.Time) {
	from := cb.state
	if from == to {
		return
	}
	failures := cb.win.counts.ConsecutiveFailures

	cb.state = to
	cb.openWindow(now)

	if cb.cfg.StateGauge != nil {
		cb.cfg.StateGauge.WithLabelValues(cb.name).Set(float64(to))
	}
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
	cb.cfg.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Uint32("failures", failures),
	)
}

func (cb *CircuitBreaker) openWindow(now time.Time) {
	next := window{id: cb.win.id + 1}
	switch {
	case cb.state == StateOpen:
		next.deadline = now.Add(cb.cfg.Timeout)
	case cb.state == StateClosed && cb.cfg.Interval > 0:
		next.deadline = now.Add(cb.cfg.Interval)
	}
	cb.win = next
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.refresh(cb.now())
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.win.counts
}
