//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly || solaris || windows || (js && wasm))

package monotick

// This target has no monotonic timer strategy. Failing here at compile time
// is deliberate: a runtime fallback returning zero or wall-clock time would
// silently corrupt every piece of timing logic built on this package.
//
// Porting: add a clock_<target>.go providing newSystemSource and
// strategyName, then extend the constraint above.
var _ = noMonotonicTimerStrategyForThisTarget
