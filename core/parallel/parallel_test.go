package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParallelizeNCoversEveryIndexOnce(t *testing.T) {
	for _, items := range []int{1, 7, 100, 1013} {
		seen := make([]int32, items)
		ParallelizeN(items, 0, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&seen[i], 1)
			}
		})
		for i, n := range seen {
			assert.Equal(t, int32(1), n, "items=%d index=%d", items, i)
		}
	}
}

func TestParallelizeN(t *testing.T) {
	var calls int32
	ParallelizeN(10, 3, func(start, end int) {
		atomic.AddInt32(&calls, 1)
	})
	assert.Equal(t, int32(3), calls)

	calls = 0
	ParallelizeN(0, 3, func(start, end int) { atomic.AddInt32(&calls, 1) })
	assert.Equal(t, int32(0), calls)
}

func TestWorkers(t *testing.T) {
	assert.Equal(t, runtime.NumCPU(), Workers(0))
	assert.Equal(t, runtime.NumCPU(), Workers(-1))
	assert.Equal(t, 4, Workers(4))
}
