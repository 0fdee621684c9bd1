package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type item uint64

func (i item) Block() uint64 { return uint64(i) }

type span struct{ from, to uint64 }

// chain emits one item per block listed and fails the ranges in fail.
type chain struct {
	blocks []uint64
	fail   map[span]int // remaining failures per range
	slow   map[span]bool
	calls  []span
}

func (c *chain) query(ctx context.Context, from, to uint64) ([]item, error) {
	s := span{from, to}
	c.calls = append(c.calls, s)
	if c.slow[s] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.fail[s] > 0 {
		c.fail[s]--
		return nil, errors.New("query failed")
	}
	var out []item
	for _, b := range c.blocks {
		if b >= from && b <= to {
			out = append(out, item(b))
		}
	}
	return out, nil
}

func testConfig() AdaptiveConfig {
	cfg := DefaultAdaptiveConfig()
	cfg.Timeout = 20 * time.Millisecond
	return cfg
}

func TestAdaptiveHalvesOnTimeoutAndRecovers(t *testing.T) {
	c := &chain{
		blocks: []uint64{0, 5, 1024, 1100, 1280, 1500, 2000, 3000, 4095},
		slow: map[span]bool{
			{1024, 2048}: true,
			{1024, 1536}: true,
		},
	}

	got, err := Adaptive(context.Background(), 0, 4096, testConfig(), c.query)
	require.NoError(t, err)

	require.Equal(t, []span{
		{0, 1024},
		{1024, 2048}, // timeout, step 1024 -> 512
		{1024, 1536}, // timeout, step 512 -> 256
		{1024, 1280}, // ok, step 256 -> 512
		{1280, 1792}, // ok, step 512 -> 1024
		{1792, 2816},
		{2816, 3840},
		{3840, 4864},
	}, c.calls)

	// Boundary blocks covered by two chunks show up once, blocks past the end not at all
	require.Equal(t, []item{0, 5, 1024, 1100, 1280, 1500, 2000, 3000, 4095}, got)
}

func TestAdaptiveErrorHalvesWithoutAdvancing(t *testing.T) {
	c := &chain{
		blocks: []uint64{10, 700},
		fail:   map[span]int{{0, 1024}: 1},
	}

	got, err := Adaptive(context.Background(), 0, 1000, testConfig(), c.query)
	require.NoError(t, err)
	require.Equal(t, []span{{0, 1024}, {0, 512}, {512, 1536}}, c.calls)
	require.Equal(t, []item{10, 700}, got)
}

func TestAdaptiveStepNeverExceedsMax(t *testing.T) {
	c := &chain{}
	cfg := testConfig()
	cfg.MaxStep = 100
	_, err := Adaptive(context.Background(), 0, 450, cfg, c.query)
	require.NoError(t, err)
	for _, s := range c.calls {
		require.LessOrEqual(t, s.to-s.from, uint64(100))
	}
	require.Len(t, c.calls, 5)
}

func TestAdaptiveStallsAtMinStep(t *testing.T) {
	c := &chain{
		blocks: []uint64{1, 2},
		fail:   map[span]int{},
	}
	// Everything from block 8 on fails forever
	for step := uint64(1); step <= 1024; step *= 2 {
		c.fail[span{8, 8 + step}] = 1 << 30
	}

	cfg := testConfig()
	cfg.MaxStep = 8
	cfg.MinStep = 2
	cfg.MaxAttempts = 3

	got, err := Adaptive(context.Background(), 0, 100, cfg, c.query)
	require.ErrorIs(t, err, ErrStalled)
	require.Equal(t, []item{1, 2}, got)
	require.Equal(t, []span{{0, 8}, {8, 16}, {8, 12}, {8, 10}, {8, 10}, {8, 10}}, c.calls)
}

func TestAdaptiveEmptyRange(t *testing.T) {
	c := &chain{}
	got, err := Adaptive(context.Background(), 10, 10, testConfig(), c.query)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Empty(t, c.calls)
}

func TestAdaptiveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &chain{}
	_, err := Adaptive(ctx, 0, 10, testConfig(), c.query)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, c.calls)
}
