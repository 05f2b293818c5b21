package monotick

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNowMonotonic(t *testing.T) {
	prev := Now()
	if prev == 0 {
		t.Skip("monotonic clock unavailable on this host")
	}

	for i := 0; i < 100_000; i++ {
		cur := Now()
		if cur < prev {
			t.Fatalf("clock went backwards at iteration %d: %d -> %d", i, prev, cur)
		}
		prev = cur
	}
}

func TestNowTracksSleep(t *testing.T) {
	const sleep = 50 * time.Millisecond

	start := Now()
	if start == 0 {
		t.Skip("monotonic clock unavailable on this host")
	}
	time.Sleep(sleep)
	end := Now()

	elapsed := end - start
	// Sleep guarantees at least the requested duration; the upper bound is
	// generous because loaded CI machines oversleep badly.
	if elapsed < 40_000 {
		t.Errorf("elapsed %d us across a %v sleep, want >= 40000", elapsed, sleep)
	}
	if elapsed > 5_000_000 {
		t.Errorf("elapsed %d us across a %v sleep, want <= 5000000", elapsed, sleep)
	}
}

func TestNowConcurrentFirstUse(t *testing.T) {
	const (
		goroutines = 32
		calls      = 1_000
	)

	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)

	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			prev, err := NowErr()
			if err != nil {
				errCh <- err
				return
			}
			for i := 0; i < calls; i++ {
				cur, err := NowErr()
				if err != nil {
					errCh <- err
					return
				}
				if cur < prev {
					errCh <- errors.New("clock went backwards within a goroutine")
					return
				}
				prev = cur
			}
		}()
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Error(err)
	}
}

type failingSource struct{}

func (failingSource) NowMicros() (uint64, error) {
	return 0, errors.New("timer query failed")
}

func TestNowReturnsZeroOnFailure(t *testing.T) {
	orig := system
	system = failingSource{}
	defer func() { system = orig }()

	if got := Now(); got != 0 {
		t.Errorf("Now() = %d with a failing source, want 0", got)
	}
	if _, err := NowErr(); err == nil {
		t.Error("NowErr() returned nil error with a failing source")
	}
}

func TestStrategy(t *testing.T) {
	if Strategy() == "" {
		t.Error("Strategy() returned an empty name")
	}
}

func BenchmarkNow(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = Now()
	}
}
