package engine

import "time"

// retryDelays is the backoff schedule for transient origin failures, keyed by
// the work item's attempt number. It is a small fixed table reproduced
// literally for compatibility, not a formula; an attempt past the end of the
// table is terminal and the feed is marked FAILED.
var retryDelays = map[int]time.Duration{
	0: 120 * time.Second,
	1: 300 * time.Second,
	2: 480 * time.Second,
}

// RetryPolicy decides whether a TRY_LATER cycle gets another attempt.
type RetryPolicy struct{}

// NextDelay returns the backoff delay for the given attempt number, or
// ok=false when the attempt budget is exhausted. The policy adds no jitter of
// its own; whatever jitter the queue provides natively is preserved.
func (RetryPolicy) NextDelay(attempt int) (delay time.Duration, ok bool) {
	delay, ok = retryDelays[attempt]
	return delay, ok
}
