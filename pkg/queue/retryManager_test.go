package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShouldRetryExhaustedAttempts(t *testing.T) {
	rm := NewRetryManager(3, time.Second)

	task := &Task{ID: "t1", Type: TaskTypeSendNotification, Attempts: 3, MaxRetries: 3}
	retry, _ := rm.ShouldRetry(task, errors.New("connection refused"))
	assert.False(t, retry)
}

func TestShouldRetryNonRetryableErrors(t *testing.T) {
	rm := NewRetryManager(3, time.Second)
	task := &Task{ID: "t1", Type: TaskTypeSendNotification, Attempts: 0, MaxRetries: 3}

	for _, msg := range []string{
		"invalid notification kind: bogus",
		"booking ORD-1 not found",
		"forbidden",
		"validation failed on field phone",
	} {
		retry, _ := rm.ShouldRetry(task, errors.New(msg))
		assert.False(t, retry, "error %q should not be retried", msg)
	}

	retry, delay := rm.ShouldRetry(task, errors.New("dial tcp: connection refused"))
	assert.True(t, retry)
	assert.Greater(t, delay, time.Duration(0))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := time.Second
	rm := NewRetryManager(10, base)

	// Jitter stays within half the delay, capped at 16x the base delay.
	for attempt := 1; attempt <= 8; attempt++ {
		exp := base * time.Duration(1<<(attempt-1))
		if exp > base*16 {
			exp = base * 16
		}
		for i := 0; i < 20; i++ {
			d := rm.backoff(attempt)
			assert.GreaterOrEqual(t, d, exp/2, "attempt %d", attempt)
			assert.LessOrEqual(t, d, base*16, "attempt %d", attempt)
		}
	}

	assert.Equal(t, base, rm.backoff(0))
}
