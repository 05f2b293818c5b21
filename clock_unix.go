//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris

package monotick

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const strategyName = "posix_monotonic"

// clockGettime is swappable so tests can exercise the failure path.
var clockGettime = unix.ClockGettime

// posixSource reads CLOCK_MONOTONIC via clock_gettime.
type posixSource struct{}

func newSystemSource() Source {
	return posixSource{}
}

func (posixSource) NowMicros() (uint64, error) {
	var ts unix.Timespec
	if err := clockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime(CLOCK_MONOTONIC): %w", err)
	}
	return timespecMicros(int64(ts.Sec), int64(ts.Nsec)), nil
}
