package generator

import "runtime"

// pressureRatio is the share of the memory limit above which batches shrink.
const pressureRatio = 0.8

// throttle adapts the read batch size to heap usage.
type throttle struct {
	limit uint64
	min   int
	size  int
	peak  uint64
	read  func() uint64
}

func newThrottle(size, minSize int, limit uint64, read func() uint64) *throttle {
	if minSize <= 0 || minSize > size {
		minSize = size
	}
	if read == nil {
		read = heapInUse
	}
	return &throttle{limit: limit, min: minSize, size: size, read: read}
}

// Check samples memory, records the peak and halves the batch size (never
// below the floor) when usage crosses the pressure threshold. It reports
// whether the batch size shrank.
func (t *throttle) Check() (used uint64, shrunk bool) {
	used = t.read()
	if used > t.peak {
		t.peak = used
	}
	if t.limit == 0 || float64(used) <= float64(t.limit)*pressureRatio || t.size <= t.min {
		return used, false
	}
	t.size = max(t.size/2, t.min)
	runtime.GC()
	return used, true
}

// Size returns the current batch size.
func (t *throttle) Size() int { return t.size }

// Peak returns the highest sampled usage.
func (t *throttle) Peak() uint64 { return t.peak }

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
