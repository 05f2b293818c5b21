//go:build windows

package monotick

import (
	"errors"
	"sync/atomic"
	"syscall"
	"unsafe"
)

const strategyName = "performance_counter"

// The Go runtime's own monotonic clock is backed by the interrupt timer,
// which ticks far coarser than QueryPerformanceCounter. Go straight to the
// performance counter for microsecond resolution.
var (
	kernel32                      = syscall.NewLazyDLL("kernel32.dll")
	procQueryPerformanceCounter   = kernel32.NewProc("QueryPerformanceCounter")
	procQueryPerformanceFrequency = kernel32.NewProc("QueryPerformanceFrequency")
)

var (
	errQueryFrequency = errors.New("QueryPerformanceFrequency failed")
	errQueryCounter   = errors.New("QueryPerformanceCounter failed")
)

// perfCounterSource reads QueryPerformanceCounter and scales by the counter
// frequency, which is fixed at boot and cached after the first successful
// query. A failed frequency query leaves the cache at zero, so the next call
// retries; a racing second query stores the same constant.
type perfCounterSource struct {
	freq atomic.Int64
}

func newSystemSource() Source {
	return &perfCounterSource{}
}

func (s *perfCounterSource) NowMicros() (uint64, error) {
	freq := s.freq.Load()
	if freq == 0 {
		var f int64
		ok, _, _ := procQueryPerformanceFrequency.Call(uintptr(unsafe.Pointer(&f)))
		if ok == 0 || f == 0 {
			return 0, errQueryFrequency
		}
		s.freq.Store(f)
		freq = f
	}

	var count int64
	ok, _, _ := procQueryPerformanceCounter.Call(uintptr(unsafe.Pointer(&count)))
	if ok == 0 {
		return 0, errQueryCounter
	}
	return perfCounterMicros(uint64(count), uint64(freq)), nil
}
