package circuit

import (
	"errors"
	"sync"
	"time"
)

// State represents circuit breaker state
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config holds circuit breaker configuration
type Config struct {
	Name        string
	MaxFailures int
	Timeout     time.Duration
	HalfOpenMax int
}

// Breaker guards calls to a downstream dependency. After MaxFailures
// consecutive failures the circuit opens for Timeout, then admits up
// to HalfOpenMax probe calls before deciding to close again.
type Breaker struct {
	name        string
	maxFailures int
	timeout     time.Duration
	halfOpenMax int

	mu          sync.Mutex
	state       State
	failures    int
	halfOpenIn  int
	openedAt    time.Time
}

// NewBreaker creates a breaker from config.
func NewBreaker(cfg Config) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	return &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		timeout:     cfg.Timeout,
		halfOpenMax: cfg.HalfOpenMax,
	}
}

// Execute runs fn under the breaker.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()
	b.record(err == nil)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenIn >= b.halfOpenMax {
			return ErrTooManyRequests
		}
		b.halfOpenIn++
	}
	return nil
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	if success {
		if state == StateHalfOpen {
			b.reset()
		} else {
			b.failures = 0
		}
		return
	}

	b.failures++
	if state == StateHalfOpen || b.failures >= b.maxFailures {
		b.trip()
	}
}

// currentState accounts for timeout-driven open -> half-open movement.
// Callers hold b.mu.
func (b *Breaker) currentState() State {
	if b.state == StateOpen && time.Since(b.openedAt) >= b.timeout {
		b.state = StateHalfOpen
		b.halfOpenIn = 0
	}
	return b.state
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = time.Now()
	b.halfOpenIn = 0
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.failures = 0
	b.halfOpenIn = 0
}

// Group manages one breaker per named dependency.
type Group struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
}

// NewGroup creates a breaker group sharing one config.
func NewGroup(cfg Config) *Group {
	return &Group{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// Get returns the breaker for name, creating it on first use.
func (g *Group) Get(name string) *Breaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.breakers[name]; ok {
		return b
	}
	cfg := g.cfg
	cfg.Name = name
	b := NewBreaker(cfg)
	g.breakers[name] = b
	return b
}
