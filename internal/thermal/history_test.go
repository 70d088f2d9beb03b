package thermal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHistoryRingOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	h := newHistory(3)
	assert.Zero(t, h.average())

	for i := range 7 {
		h.add(Sample{Time: base.Add(time.Duration(i) * time.Second), Temperature: float64(i)})
	}

	assert.Equal(t, 3, h.len())
	got := h.since(time.Time{})
	assert.Equal(t, []float64{4, 5, 6}, []float64{got[0].Temperature, got[1].Temperature, got[2].Temperature})
	assert.InDelta(t, 5.0, h.average(), 1e-9)
	assert.Len(t, h.since(base.Add(6*time.Second)), 1)
}

func TestHistoryMinimumCapacity(t *testing.T) {
	t.Parallel()

	h := newHistory(0)
	h.add(Sample{Temperature: 1})
	h.add(Sample{Temperature: 2})
	assert.Equal(t, 1, h.len())
	assert.InDelta(t, 2.0, h.average(), 0)
}
