package generate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/longrelay/internal/model"
)

func TestShortReply_CountsRunes(t *testing.T) {
	done := ShortReply(5)
	require.True(t, done(model.CompletionResponse{Content: "abcd"}))
	require.False(t, done(model.CompletionResponse{Content: "abcde"}))
	// Four runes, twelve bytes.
	require.True(t, done(model.CompletionResponse{Content: "日本語テ"}))
}

func TestNotTruncated(t *testing.T) {
	done := NotTruncated()
	require.False(t, done(model.CompletionResponse{FinishReason: "length"}))
	require.True(t, done(model.CompletionResponse{FinishReason: "stop"}))
	require.True(t, done(model.CompletionResponse{}))
}

func TestParseStrategy(t *testing.T) {
	longTruncated := model.CompletionResponse{Content: strings.Repeat("x", 100), FinishReason: "length"}
	longStopped := model.CompletionResponse{Content: strings.Repeat("x", 100), FinishReason: "stop"}
	shortTruncated := model.CompletionResponse{Content: "x", FinishReason: "length"}

	length, err := ParseStrategy("", 10)
	require.NoError(t, err)
	require.False(t, length(longStopped))
	require.True(t, length(shortTruncated))

	finish, err := ParseStrategy("finish_reason", 10)
	require.NoError(t, err)
	require.True(t, finish(longStopped))
	require.False(t, finish(shortTruncated))

	either, err := ParseStrategy("EITHER", 10)
	require.NoError(t, err)
	require.True(t, either(longStopped))
	require.True(t, either(shortTruncated))
	require.False(t, either(longTruncated))

	_, err = ParseStrategy("vibes", 10)
	require.Error(t, err)
}
