package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/harun/korli/pkg/session"
)

func window(n int) []session.Turn {
	h := session.New("w").History
	for i := 0; i < n; i++ {
		h.NewTurn(session.RoleUser, fmt.Sprint(i), "", time.Unix(int64(i), 0))
	}
	return h.Turns
}

func TestSplit(t *testing.T) {
	tests := []struct {
		n, keep   int
		wantOlder int
		wantKept  int
	}{
		{n: 31, keep: 20, wantOlder: 11, wantKept: 20},
		{n: 21, keep: 20, wantOlder: 1, wantKept: 20},
		{n: 20, keep: 20, wantOlder: 0, wantKept: 20},
		{n: 5, keep: 20, wantOlder: 0, wantKept: 5},
		{n: 0, keep: 20, wantOlder: 0, wantKept: 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d/%d", tt.n, tt.keep), func(t *testing.T) {
			turns := window(tt.n)
			older, kept := Split(turns, tt.keep)

			assert.Len(t, older, tt.wantOlder)
			assert.Len(t, kept, tt.wantKept)
			assert.Equal(t, turns, append(append([]session.Turn{}, older...), kept...), "split is lossless and ordered")
		})
	}
}

// Compaction conservation: any window above the threshold keeps exactly
// keep turns.
func TestSplitConservation(t *testing.T) {
	const threshold, keep = 30, 20
	for n := threshold + 1; n <= 60; n++ {
		assert.True(t, NeedsCompaction(n, threshold))
		older, kept := Split(window(n), keep)
		assert.Len(t, kept, keep)
		assert.Len(t, older, n-keep)
	}
	for n := 0; n <= threshold; n++ {
		assert.False(t, NeedsCompaction(n, threshold))
	}
}

func TestSplitDoesNotAlias(t *testing.T) {
	turns := window(25)
	older, kept := Split(turns, 20)

	older[0].Content = "changed"
	kept[0].Content = "changed"
	assert.Equal(t, "0", turns[0].Content)
	assert.Equal(t, "5", turns[5].Content)
}
