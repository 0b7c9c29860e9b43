package media

import (
	"sync"
)

// SampleRing is a fixed-size circular buffer of audio samples.
// When full, new samples overwrite the oldest ones.
type SampleRing struct {
	buf  []float64
	size int
	head int // write position
	tail int // read position
	full bool
	mu   sync.RWMutex
}

// NewSampleRing creates a ring holding at most size samples.
// The default of 4096 covers well over one analyser window.
func NewSampleRing(size int) *SampleRing {
	if size <= 0 {
		size = 4096
	}
	return &SampleRing{
		buf:  make([]float64, size),
		size: size,
	}
}

// Write appends samples, overwriting the oldest when full.
func (r *SampleRing) Write(samples []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, v := range samples {
		if r.full {
			r.tail = (r.tail + 1) % r.size
		}
		r.buf[r.head] = v
		r.head = (r.head + 1) % r.size
		if r.head == r.tail {
			r.full = true
		}
	}
}

// Latest copies up to len(dst) of the newest samples into dst, oldest first.
func (r *SampleRing) Latest(dst []float64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.lenLocked()
	if len(dst) < n {
		n = len(dst)
	}
	start := (r.head - n + r.size) % r.size
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(start+i)%r.size]
	}
	return n
}

// Len returns the number of buffered samples.
func (r *SampleRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *SampleRing) lenLocked() int {
	if r.full {
		return r.size
	}
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return (r.size - r.tail) + r.head
}

// Reset clears the ring.
func (r *SampleRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.head = 0
	r.tail = 0
	r.full = false
}

// Capacity returns the maximum number of samples held.
func (r *SampleRing) Capacity() int {
	return r.size
}
