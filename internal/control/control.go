package control

import "fmt"

// Policy bounds the continuation loop of a single message.
type Policy struct {
	MaxAttempts int
}

// DefaultPolicy returns the default policy: at most three completion calls.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3}
}

// LimitType identifies which limit is reached.
type LimitType string

const (
	LimitAttempts LimitType = "max_attempts"
)

// LimitError indicates a run limit was reached.
type LimitError struct {
	Type      LimitType
	Value     int64
	Threshold int64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("limit reached type=%s value=%d threshold=%d", e.Type, e.Value, e.Threshold)
}

// CheckAttemptLimit validates completion calls already made against policy.
func CheckAttemptLimit(p Policy, usedAttempts int) error {
	if p.MaxAttempts <= 0 || usedAttempts >= p.MaxAttempts {
		return &LimitError{Type: LimitAttempts, Value: int64(usedAttempts), Threshold: int64(p.MaxAttempts)}
	}
	return nil
}
