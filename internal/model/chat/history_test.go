package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func turns(n int) History {
	h := make(History, 0, n)
	for i := 1; i <= n; i++ {
		if i%2 == 1 {
			h = append(h, HumanTurn(fmt.Sprintf("h%d", i)))
		} else {
			h = append(h, AITurn(fmt.Sprintf("h%d", i)))
		}
	}
	return h
}

func TestRecentReturnsTail(t *testing.T) {
	h := turns(14)

	recent := h.Recent(HistoryLimit)
	require.Len(t, recent, HistoryLimit)
	assert.Equal(t, "h5", recent[0].Content)
	assert.Equal(t, "h14", recent[len(recent)-1].Content)
}

func TestRecentShortHistoryIsCopied(t *testing.T) {
	h := turns(3)

	recent := h.Recent(HistoryLimit)
	require.Equal(t, h, recent)

	recent[0].Content = "changed"
	assert.Equal(t, "h1", h[0].Content)
}

func TestRecentEmpty(t *testing.T) {
	var h History
	assert.Empty(t, h.Recent(HistoryLimit))
	assert.Empty(t, turns(4).Recent(0))
}

func TestAppendDropsTwoOldestWhenFull(t *testing.T) {
	h := turns(10)

	next := h.Append("h11", "h12")

	require.Len(t, next, HistoryLimit)
	assert.Equal(t, "h3", next[0].Content)
	assert.Equal(t, HumanTurn("h11"), next[8])
	assert.Equal(t, AITurn("h12"), next[9])
	assert.Len(t, h, 10, "receiver must not be modified")
	assert.Equal(t, "h1", h[0].Content)
}

func TestAppendNeverExceedsLimit(t *testing.T) {
	var h History
	for i := 0; i < 25; i++ {
		h = h.Append(fmt.Sprintf("q%d", i), fmt.Sprintf("a%d", i))
		assert.LessOrEqual(t, len(h), HistoryLimit)
	}

	require.Len(t, h, HistoryLimit)
	assert.Equal(t, HumanTurn("q20"), h[0])
	assert.Equal(t, AITurn("a24"), h[9])
}
