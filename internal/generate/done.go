package generate

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/stupiduntilnot/longrelay/internal/model"
)

// DonePredicate decides, after a successful attempt, whether the reply is
// complete. Returning false asks for another continuation (within the
// attempt cap).
type DonePredicate func(resp model.CompletionResponse) bool

// ShortReply treats a partial reply shorter than threshold runes as final:
// the model stopped on its own instead of hitting the token limit.
func ShortReply(threshold int) DonePredicate {
	return func(resp model.CompletionResponse) bool {
		return utf8.RuneCountInString(resp.Content) < threshold
	}
}

// NotTruncated uses the upstream finish reason: the reply is final unless the
// endpoint reports it was cut by the token limit.
func NotTruncated() DonePredicate {
	return func(resp model.CompletionResponse) bool {
		return resp.FinishReason != "length"
	}
}

// Any is done as soon as one of preds is.
func Any(preds ...DonePredicate) DonePredicate {
	return func(resp model.CompletionResponse) bool {
		for _, p := range preds {
			if p(resp) {
				return true
			}
		}
		return false
	}
}

// Strategy names accepted by ParseStrategy.
const (
	StrategyLength       = "length"
	StrategyFinishReason = "finish_reason"
	StrategyEither       = "either"
)

// ParseStrategy maps a config value to a predicate. Empty selects length.
func ParseStrategy(name string, threshold int) (DonePredicate, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyLength:
		return ShortReply(threshold), nil
	case StrategyFinishReason:
		return NotTruncated(), nil
	case StrategyEither:
		return Any(ShortReply(threshold), NotTruncated()), nil
	default:
		return nil, fmt.Errorf("unknown done strategy %q (want %s, %s or %s)",
			name, StrategyLength, StrategyFinishReason, StrategyEither)
	}
}
