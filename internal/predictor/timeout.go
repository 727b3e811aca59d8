package predictor

import (
	"context"
	"fmt"
	"time"
)

type boundedPredictor struct {
	next    Predictor
	timeout time.Duration
}

// WithTimeout bounds every Predict call on p to d. A call that does not
// return in time, or that panics, fails with ErrInference. A non-positive d
// returns p unchanged.
func WithTimeout(p Predictor, d time.Duration) Predictor {
	if d <= 0 {
		return p
	}
	return &boundedPredictor{next: p, timeout: d}
}

type outcome struct {
	price float64
	err   error
}

func (b *boundedPredictor) Predict(ctx context.Context, req Request) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	// Buffered so an abandoned call can still complete without blocking.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%w: predictor panicked: %v", ErrInference, r)}
			}
		}()
		price, err := b.next.Predict(ctx, req)
		done <- outcome{price: price, err: err}
	}()

	select {
	case o := <-done:
		return o.price, o.err
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: no result within %s: %w", ErrInference, b.timeout, ctx.Err())
	}
}
