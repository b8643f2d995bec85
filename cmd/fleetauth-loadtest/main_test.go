package main

import (
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"
)

func TestPercentile(t *testing.T) {
	samples := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	if got := percentile(samples, 50); got != 5 {
		t.Fatalf("p50 = %d", got)
	}
	if got := percentile(samples, 100); got != 10 {
		t.Fatalf("p100 = %d", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("empty = %d", got)
	}
}

func TestRunPhaseCountsEveryOp(t *testing.T) {
	var calls int64
	stats := runPhase(100, 8, func(r *rand.Rand) error {
		n := atomic.AddInt64(&calls, 1)
		if n%10 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	if stats.ops != 100 || stats.failures != 10 {
		t.Fatalf("unexpected stats: ops=%d failures=%d", stats.ops, stats.failures)
	}
}
