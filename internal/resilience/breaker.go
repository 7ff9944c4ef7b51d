// Package resilience guards calls to dependencies that fail in bursts.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling fn while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	closed state = iota
	open
	halfOpen
)

var stateNames = [...]string{closed: "closed", open: "open", halfOpen: "half_open"}

func (s state) String() string { return stateNames[s] }

// Breaker opens after maxFailures consecutive failures and rejects calls
// for cooldown. After the cooldown exactly one probe call is let through:
// its success closes the breaker, its failure opens it again.
//
// A canceled context is the caller giving up, not the dependency failing,
// so it neither counts as a failure nor as a success.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time

	mu       sync.Mutex
	state    state
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker returns an unnamed breaker.
func NewBreaker(maxFailures int, cooldown time.Duration) *Breaker {
	return NewNamedBreaker("", maxFailures, cooldown)
}

// NewNamedBreaker names the breaker in state change logs.
func NewNamedBreaker(name string, maxFailures int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:        name,
		maxFailures: max(maxFailures, 1),
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Execute runs fn unless the breaker rejects it.
func (b *Breaker) Execute(fn func() error) error {
	if !b.admit() {
		return ErrCircuitOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State is "closed", "open" or "half_open". An open breaker whose cooldown
// has passed reports half_open.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == open && b.cooledDown() {
		return halfOpen.String()
	}
	return b.state.String()
}

func (b *Breaker) cooledDown() bool {
	return b.now().Sub(b.openedAt) >= b.cooldown
}

func (b *Breaker) admit() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == open && b.cooledDown() {
		b.state = halfOpen
	}
	switch b.state {
	case closed:
		return true
	case halfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return false
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == halfOpen
	if wasProbe {
		b.probing = false
	}

	switch {
	case errors.Is(err, context.Canceled):
		return
	case err == nil:
		if b.state != closed {
			slog.Info("circuit breaker closed", "breaker", b.name)
		}
		b.state = closed
		b.failures = 0
	default:
		b.failures++
		if wasProbe || b.failures >= b.maxFailures {
			if b.state != open {
				slog.Warn("circuit breaker opened", "breaker", b.name, "failures", b.failures, "error", err)
			}
			b.state = open
			b.openedAt = b.now()
		}
	}
}
