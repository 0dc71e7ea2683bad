package agent

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryExecution calls ex.Execute up to maxAttempts times and returns the first
// successful result. When every attempt fails, the last failing result is
// returned unmodified. Errors are not inspected: callers that only want to
// retry some kinds (see IsRetryable) must decide before calling.
// The delay between attempts is abandoned when ctx ends.
func RetryExecution[I, O any](ctx context.Context, ex Executor[I, O], in I, ec *ExecutionContext, maxAttempts int, delay time.Duration) Result[O] {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var last Result[O]
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		last = ex.Execute(ctx, in, ec)
		if last.Success {
			retryAttempts.WithLabelValues(outcomeSucceeded).Inc()
			return last
		}
		retryAttempts.WithLabelValues(outcomeFailed).Inc()
		if attempt == maxAttempts {
			break
		}
		log.Debug().
			Err(last.Error).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Msg("retrying agent execution")
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return last
			case <-t.C:
			}
		} else if ctx.Err() != nil {
			return last
		}
	}
	return last
}
