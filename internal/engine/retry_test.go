package engine

import (
	"testing"
	"time"
)

func TestRetryPolicyNextDelay(t *testing.T) {
	tests := []struct {
		attempt   int
		wantDelay time.Duration
		wantOK    bool
	}{
		{0, 120 * time.Second, true},
		{1, 300 * time.Second, true},
		{2, 480 * time.Second, true},
		{3, 0, false},
		{4, 0, false},
		{100, 0, false},
	}

	var policy RetryPolicy
	for _, tt := range tests {
		delay, ok := policy.NextDelay(tt.attempt)
		if delay != tt.wantDelay || ok != tt.wantOK {
			t.Errorf("NextDelay(%d) = (%v, %v), want (%v, %v)",
				tt.attempt, delay, ok, tt.wantDelay, tt.wantOK)
		}
	}
}
