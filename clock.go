// Package monotick reads the host's highest-resolution monotonic clock and
// reports it as microseconds elapsed since an arbitrary, platform-defined
// epoch.
//
// The epoch is fixed for the lifetime of the process but is not a calendar
// date: readings are only meaningful when two of them taken within the same
// process run are subtracted. They are not comparable across restarts or
// between machines.
//
// The timer strategy is selected at build time: exactly one of the
// clock_*.go files compiles in for a given target. Building for a target
// with no strategy fails at compile time rather than degrading to a bogus
// clock at runtime.
package monotick

// A Source reads a platform monotonic timer and reports it in microseconds.
// The package selects one Source per target via build constraints; tests may
// substitute their own.
type Source interface {
	NowMicros() (uint64, error)
}

// system is the build-selected Source for the current target.
var system Source = newSystemSource()

// Now returns the current monotonic clock reading in microseconds.
//
// If the underlying timer query fails, Now returns 0. A zero result means
// "unavailable", not "zero microseconds elapsed"; callers that need to tell
// the two apart (a genuine zero reading is possible on the very first tick
// after the epoch) should use NowErr instead.
func Now() uint64 {
	us, err := system.NowMicros()
	if err != nil {
		return 0
	}
	return us
}

// NowErr is like Now but reports timer query failures instead of collapsing
// them to zero.
func NowErr() (uint64, error) {
	return system.NowMicros()
}

// Strategy names the timer strategy compiled into this binary.
func Strategy() string {
	return strategyName
}
