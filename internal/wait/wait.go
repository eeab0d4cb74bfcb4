// Package wait provides the polling primitive shared by the submission
// handler (waiting on the status store) and the worker (waiting on the
// external inference service).
package wait

import (
	"context"
	"time"
)

// PollFunc produces the next observation. Errors are treated as a failed
// observation: polling continues and the previous good value is retained.
type PollFunc[T any] func(ctx context.Context) (T, error)

// Until repeatedly invokes poll every interval until acceptable or terminal
// reports true for an observation, or the timeout elapses. It returns the
// last observed value in every case; an elapsed timeout is not an error, the
// caller inspects the value to see how far things got.
//
// Polls happen immediately, then at interval spacing, with one final poll at
// the deadline itself, giving floor(timeout/interval)+1 polls when nothing
// ever matches. Each wait sleeps; there is no busy loop. Context cancellation
// stops polling early with the last value.
func Until[T any](
	ctx context.Context,
	poll PollFunc[T],
	acceptable func(T) bool,
	terminal func(T) bool,
	timeout time.Duration,
	interval time.Duration,
) T {
	deadline := time.Now().Add(timeout)

	var last T
	for {
		value, err := poll(ctx)
		if err == nil {
			last = value
			if acceptable(value) || terminal(value) {
				return value
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return last
		}

		pause := interval
		if remaining < pause {
			pause = remaining
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}
