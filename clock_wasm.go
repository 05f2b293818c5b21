//go:build js && wasm

package monotick

import "time"

const strategyName = "millisecond_timer"

// millisSource covers targets whose finest timer ticks in milliseconds: the
// runtime clock is truncated to whole milliseconds and scaled up, so
// successive readings move in steps of 1000 µs.
type millisSource struct {
	epoch time.Time
}

func newSystemSource() Source {
	return &millisSource{epoch: time.Now()}
}

func (s *millisSource) NowMicros() (uint64, error) {
	return uint64(time.Since(s.epoch)/time.Millisecond) * 1_000, nil
}
