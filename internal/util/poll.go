package util

import (
	"context"
	"errors"
	"time"
)

// ErrPollExhausted is returned by Poll when fn never reported done within
// maxAttempts calls.
var ErrPollExhausted = errors.New("poll attempts exhausted")

// Poll sleeps interval, then calls fn, up to maxAttempts times. It stops as
// soon as fn reports done or returns an error, returning the number of calls
// made. The sleep comes first because a freshly submitted job is never
// complete. Context cancellation is honoured between attempts.
func Poll(ctx context.Context, interval time.Duration, maxAttempts int, fn func(attempt int) (done bool, err error)) (int, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		case <-timer.C:
		}

		done, err := fn(attempt)
		if err != nil || done {
			return attempt, err
		}

		timer.Reset(interval)
	}

	return maxAttempts, ErrPollExhausted
}
