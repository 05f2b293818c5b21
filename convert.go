package monotick

// perfCounterMicros converts a raw performance counter reading to
// microseconds given the counter frequency in counts per second.
//
// The division is split into whole-second and remainder parts so that the
// intermediate multiply by 1e6 cannot overflow for any realistic frequency,
// even when count is near the top of the 64-bit range.
func perfCounterMicros(count, freq uint64) uint64 {
	return count/freq*1_000_000 + count%freq*1_000_000/freq
}

// timespecMicros converts a seconds/nanoseconds pair to microseconds,
// rounding the nanosecond part to the nearest microsecond (+500 before the
// integer divide by 1000).
func timespecMicros(sec, nsec int64) uint64 {
	return uint64(sec)*1_000_000 + uint64(nsec+500)/1_000
}
