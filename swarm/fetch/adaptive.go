package fetch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxStep     = 1024
	DefaultMinStep     = 1
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 8
)

// ErrStalled is returned when a range keeps failing at the minimum step.
var ErrStalled = errors.New("adaptive fetch stalled")

type AdaptiveConfig struct {
	MaxStep     uint64        // Initial and largest chunk size
	MinStep     uint64        // Chunk size floor
	Timeout     time.Duration // Bound for a single chunk query
	MaxAttempts int           // Consecutive failures tolerated at MinStep
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MaxStep:     DefaultMaxStep,
		MinStep:     DefaultMinStep,
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Blocker is implemented by anything emitted in a block.
type Blocker interface {
	Block() uint64
}

// QueryFunc returns the items emitted in blocks [from, to], both inclusive.
type QueryFunc[T Blocker] func(ctx context.Context, from, to uint64) ([]T, error)

// Adaptive collects the items emitted in blocks [from, to) by querying
// chunks [from, from+step]. A failed or timed out chunk halves the step and
// is retried from the same block; a successful one advances by step and
// doubles it back up to MaxStep.
//
// Chunks overlap by one block and the last one may reach past to, so items
// already covered by the previous chunk or at/after to are dropped.
//
// On stall or cancellation the items collected so far are returned with the error.
func Adaptive[T Blocker](ctx context.Context, from, to uint64, cfg AdaptiveConfig, query QueryFunc[T]) ([]T, error) {
	if cfg.MinStep == 0 {
		cfg.MinStep = 1
	}
	if cfg.MaxStep < cfg.MinStep {
		cfg.MaxStep = cfg.MinStep
	}

	var (
		items      []T
		start      = from
		step       = cfg.MaxStep
		failures   int
		covered    uint64
		hasCovered bool
	)

	for from < to {
		if err := ctx.Err(); err != nil {
			return items, err
		}

		hi := from + step
		if hi < from {
			hi = math.MaxUint64
		}

		res, err := queryChunk(ctx, cfg.Timeout, from, hi, query)
		if err != nil {
			if ctx.Err() != nil {
				return items, ctx.Err()
			}

			if step <= cfg.MinStep {
				failures++
				if cfg.MaxAttempts > 0 && failures >= cfg.MaxAttempts {
					return items, fmt.Errorf("blocks [%d, %d] failed %d times: %w", from, hi, failures, ErrStalled)
				}
			}

			step = max(step/2, cfg.MinStep)
			log.Warnf("Adaptive: blocks [%d, %d] failed: %v, retrying with step %d", from, hi, err, step)
			continue
		}

		failures = 0
		for _, item := range res {
			b := item.Block()
			if b < start || b >= to || (hasCovered && b <= covered) {
				continue
			}
			items = append(items, item)
		}
		covered, hasCovered = hi, true

		if hi == math.MaxUint64 {
			break
		}
		from += step
		if step < cfg.MaxStep {
			step = min(step*2, cfg.MaxStep)
		}
	}

	return items, nil
}

func queryChunk[T Blocker](ctx context.Context, timeout time.Duration, from, to uint64, query QueryFunc[T]) ([]T, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := query(qctx, from, to)
	if err == nil && qctx.Err() != nil {
		// The query ignored its deadline, the result is late
		err = qctx.Err()
	}
	return res, err
}
