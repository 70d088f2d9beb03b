// pools.go - memory pools for reducing allocations
package diskmanager

import (
	"sync"
	"sync/atomic"
)

// initialPoolCapacity covers a week of typical recordings without growing.
const (
	initialPoolCapacity = 512
	maxPoolCapacity     = 8192
)

// PoolMetrics tracks pool usage statistics
type PoolMetrics struct {
	GetCount     uint64
	PutCount     uint64
	SkippedCount uint64 // slices too large to return to the pool
}

var (
	poolGets    atomic.Uint64
	poolPuts    atomic.Uint64
	poolSkipped atomic.Uint64
)

// recordingSlicePool reuses the scan buffer of periodic retention passes,
// which run every few hundred frames on the frame loop.
var recordingSlicePool = sync.Pool{
	New: func() any {
		s := make([]Recording, 0, initialPoolCapacity)
		return &s
	},
}

// GetPoolMetrics returns current pool usage statistics
func GetPoolMetrics() PoolMetrics {
	return PoolMetrics{
		GetCount:     poolGets.Load(),
		PutCount:     poolPuts.Load(),
		SkippedCount: poolSkipped.Load(),
	}
}

func getRecordingSlice() *[]Recording {
	poolGets.Add(1)
	s, _ := recordingSlicePool.Get().(*[]Recording)
	if s == nil {
		fresh := make([]Recording, 0, initialPoolCapacity)
		return &fresh
	}
	*s = (*s)[:0]
	return s
}

func putRecordingSlice(s *[]Recording) {
	if s == nil {
		return
	}
	if cap(*s) > maxPoolCapacity {
		poolSkipped.Add(1)
		return
	}
	clear(*s)
	*s = (*s)[:0]
	poolPuts.Add(1)
	recordingSlicePool.Put(s)
}
