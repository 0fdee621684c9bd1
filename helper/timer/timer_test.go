package timer

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunWithTickerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- RunWithTicker(ctx, &Interval{Duration: 5 * time.Millisecond, Jitter: time.Millisecond}, func(ctx context.Context) error {
			if calls.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("ticker did not stop")
	}
	require.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestRunWithTickerReturnsFunctionError(t *testing.T) {
	boom := errors.New("boom")
	err := RunWithTicker(context.Background(), &Interval{Duration: time.Millisecond}, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestRunWithTickerImmediate(t *testing.T) {
	boom := errors.New("first")
	start := time.Now()
	err := RunWithTicker(context.Background(), &Interval{Duration: time.Hour, Immediate: true}, func(ctx context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Less(t, time.Since(start), time.Minute)
}

func TestTickerJitterBounds(t *testing.T) {
	j := tickerJitter{MaxJitter: 10 * time.Millisecond}
	for i := 0; i < 100; i++ {
		d := j.Jitter(100 * time.Millisecond)
		require.GreaterOrEqual(t, d, 90*time.Millisecond)
		require.Less(t, d, 110*time.Millisecond)
	}

	require.Equal(t, time.Second, tickerJitter{}.Jitter(time.Second))

	capped := tickerJitter{MaxJitter: time.Second}
	for i := 0; i < 100; i++ {
		require.Positive(t, capped.Jitter(100*time.Millisecond))
	}
}
