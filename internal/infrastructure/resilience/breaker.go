package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State is the position of a breaker
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

var stateNames = [...]string{
	StateClosed:   "closed",
	StateHalfOpen: "half-open",
	StateOpen:     "open",
}

// String returns the string representation of the state
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Settings configures a Breaker. Zero fields take the defaults noted.
type Settings struct {
	// MaxRequests is how many trial requests half-open admits, and how many
	// of them must succeed to close again. Default 1.
	MaxRequests uint32
	// Interval clears the counts of a closed breaker periodically. Default 60s.
	Interval time.Duration
	// Timeout is how long the breaker stays open. Default 60s.
	Timeout time.Duration
	// ReadyToTrip decides, after each closed-state failure, whether to open.
	// Default: more than 5 consecutive failures.
	ReadyToTrip func(counts Counts) bool
	// IsSuccessful decides whether an error counts as a success. Default err == nil.
	IsSuccessful func(err error) bool
	// OnStateChange is called with the breaker lock held.
	OnStateChange func(name string, from State, to State)
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Counts are the request statistics of the current generation
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

// Breaker stops calling a failing operation for a while. Every state change
// or interval reset starts a new generation; results reported for an older
// generation are ignored.
type Breaker struct {
	name string
	s    Settings

	mu         sync.Mutex
	state      State
	generation uint64
	counts     Counts
	deadline   time.Time // closed: next reset, open: end of cooldown
}

// New creates a closed breaker
func New(name string, s Settings) *Breaker {
	if s.MaxRequests == 0 {
		s.MaxRequests = 1
	}
	if s.Interval <= 0 {
		s.Interval = time.Minute
	}
	if s.Timeout <= 0 {
		s.Timeout = time.Minute
	}
	if s.ReadyToTrip == nil {
		s.ReadyToTrip = func(c Counts) bool { return c.ConsecutiveFailures > 5 }
	}
	if s.IsSuccessful == nil {
		s.IsSuccessful = func(err error) bool { return err == nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{name: name, s: s, deadline: s.Now().Add(s.Interval)}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving an expired open breaker to
// half-open.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advance(b.s.Now())
	return b.state
}

// Counts returns the statistics of the current generation
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Execute runs req if the breaker admits it. A rejected request returns
// ErrCircuitOpen or ErrTooManyRequests without running. A panic in req
// counts as a failure and is re-raised.
func (b *Breaker) Execute(req func() error) error {
	gen, err := b.admit()
	if err != nil {
		return err
	}

	ok := false
	defer func() {
		if !ok {
			b.report(gen, false)
		}
	}()
	err = req()
	ok = true
	b.report(gen, b.s.IsSuccessful(err))
	return err
}

// Call runs req through b and returns its result.
func Call[T any](b *Breaker, req func() (T, error)) (T, error) {
	var out T
	err := b.Execute(func() error {
		var err error
		out, err = req()
		return err
	})
	return out, err
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.advance(b.s.Now())
	switch {
	case b.state == StateOpen:
		return 0, ErrCircuitOpen
	case b.state == StateHalfOpen && b.counts.Requests >= b.s.MaxRequests:
		return 0, ErrTooManyRequests
	}
	b.counts.Requests++
	return b.generation, nil
}

func (b *Breaker) report(gen uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.s.Now()
	b.advance(now)
	if gen != b.generation {
		return
	}

	if success {
		b.counts.success()
		if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.s.MaxRequests {
			b.transition(StateClosed, now)
		}
		return
	}
	b.counts.failure()
	if b.state == StateHalfOpen || b.s.ReadyToTrip(b.counts) {
		b.transition(StateOpen, now)
	}
}

// advance applies the time based transitions due at now.
func (b *Breaker) advance(now time.Time) {
	switch b.state {
	case StateClosed:
		if now.After(b.deadline) {
			b.newGeneration()
			b.deadline = now.Add(b.s.Interval)
		}
	case StateOpen:
		if now.After(b.deadline) {
			b.transition(StateHalfOpen, now)
		}
	}
}

func (b *Breaker) transition(to State, now time.Time) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	b.newGeneration()

	switch to {
	case StateClosed:
		b.deadline = now.Add(b.s.Interval)
	case StateOpen:
		b.deadline = now.Add(b.s.Timeout)
	case StateHalfOpen:
		b.deadline = time.Time{}
	}
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.name, from, to)
	}
}

func (b *Breaker) newGeneration() {
	b.generation++
	b.counts = Counts{}
}
