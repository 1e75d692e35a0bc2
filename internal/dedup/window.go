package dedup

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// window is a two-generation bloom filter. Keys are added to the current
// generation and looked up in both; rotate drops the older one.
type window struct {
	mu       sync.Mutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter
	capacity uint
	fpRate   float64
}

func newWindow(capacity uint, fpRate float64) *window {
	return &window{
		current:  bloom.NewWithEstimates(capacity, fpRate),
		previous: bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// testAndAdd reports whether key was present, adding it if not.
func (w *window) testAndAdd(key string) bool {
	data := []byte(key)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.previous.Test(data) {
		return true
	}
	return w.current.TestAndAdd(data)
}

func (w *window) rotate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.previous = w.current
	w.current = bloom.NewWithEstimates(w.capacity, w.fpRate)
}
