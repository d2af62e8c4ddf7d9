package control

import "time"

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreaker pauses a loop after Threshold consecutive failures of the
// same class. It is not safe for concurrent use; the poll loop owns it.
type CircuitBreaker struct {
	Threshold int
	Cooldown  time.Duration

	state       CircuitState
	class       string
	consecutive int
	openedAt    time.Time
}

func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		Threshold: threshold,
		Cooldown:  cooldown,
		state:     CircuitClosed,
	}
}

func (c *CircuitBreaker) State() CircuitState {
	return c.state
}

// OpenedClass is the error class that last tripped the breaker.
func (c *CircuitBreaker) OpenedClass() string {
	if c.state == CircuitClosed {
		return ""
	}
	return c.class
}

// Allow reports whether work may run at now. halfOpened is true exactly once,
// when the cooldown has just elapsed and a probe is let through.
func (c *CircuitBreaker) Allow(now time.Time) (allowed, halfOpened bool) {
	if c.state != CircuitOpen {
		return true, false
	}
	if now.Sub(c.openedAt) < c.Cooldown {
		return false, false
	}
	c.state = CircuitHalfOpen
	return true, true
}

// RecordSuccess closes the breaker and reports whether it was not closed.
func (c *CircuitBreaker) RecordSuccess() (recovered bool) {
	recovered = c.state != CircuitClosed
	c.state = CircuitClosed
	c.class = ""
	c.consecutive = 0
	return recovered
}

// RecordFailure counts a failure and reports whether it opened the breaker.
// A failed half-open probe reopens immediately.
func (c *CircuitBreaker) RecordFailure(errClass string, now time.Time) (opened bool) {
	if errClass == "" {
		errClass = "unknown"
	}
	if c.state == CircuitHalfOpen {
		c.open(errClass, now)
		return true
	}
	if errClass != c.class {
		c.class = errClass
		c.consecutive = 0
	}
	c.consecutive++
	if c.state == CircuitClosed && c.consecutive >= c.Threshold {
		c.open(errClass, now)
		return true
	}
	return false
}

func (c *CircuitBreaker) open(errClass string, now time.Time) {
	c.state = CircuitOpen
	c.class = errClass
	c.openedAt = now
	c.consecutive = 0
}
