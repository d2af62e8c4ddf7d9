// Package chunk splits long text into pieces that fit a transport's maximum
// message size.
package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Unit selects how length is measured.
type Unit string

const (
	// Bytes counts raw bytes. Splits may land inside a multi-byte character.
	Bytes Unit = "bytes"
	// Runes counts Unicode code points, so every chunk stays valid UTF-8.
	Runes Unit = "runes"
)

// ParseUnit maps a config value to a Unit. Empty selects Runes.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Runes):
		return Runes, nil
	case string(Bytes):
		return Bytes, nil
	default:
		return "", fmt.Errorf("unknown chunk unit %q (want bytes or runes)", s)
	}
}

// Len measures s in unit u.
func (u Unit) Len(s string) int {
	if u == Bytes {
		return len(s)
	}
	return utf8.RuneCountInString(s)
}

// Split splits s using unit u.
func (u Unit) Split(s string, maxLen int) []string {
	if u == Bytes {
		return Split(s, maxLen)
	}
	return SplitRunes(s, maxLen)
}

// Split cuts text into consecutive pieces of exactly maxLen bytes, except the
// last which holds the remainder. Joining the result yields text again. Empty
// text yields an empty sequence. maxLen must be positive.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		panic(fmt.Sprintf("chunk: maxLen must be positive, got %d", maxLen))
	}
	if text == "" {
		return nil
	}
	out := make([]string, 0, (len(text)+maxLen-1)/maxLen)
	for i := 0; i < len(text); i += maxLen {
		end := min(i+maxLen, len(text))
		out = append(out, text[i:end])
	}
	return out
}

// SplitRunes is Split measured in runes instead of bytes.
func SplitRunes(text string, maxLen int) []string {
	if maxLen <= 0 {
		panic(fmt.Sprintf("chunk: maxLen must be positive, got %d", maxLen))
	}
	if text == "" {
		return nil
	}
	total := utf8.RuneCountInString(text)
	out := make([]string, 0, (total+maxLen-1)/maxLen)
	start, count := 0, 0
	for i := range text {
		if count == maxLen {
			out = append(out, text[start:i])
			start, count = i, 0
		}
		count++
	}
	return append(out, text[start:])
}
