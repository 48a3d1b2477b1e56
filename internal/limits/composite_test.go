package limits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompositeChecksBucketFirst(t *testing.T) {
	bucket := NewTokenBucketLimiter(1, 1, time.Minute)
	window := NewWindowCounterLimiter(newFakeCounter(), 100, time.Minute)
	c := NewComposite(bucket, window)

	allowed, reason := c.Check(context.Background(), "alice")
	assert.True(t, allowed)
	assert.Empty(t, reason)

	allowed, reason = c.Check(context.Background(), "alice")
	assert.False(t, allowed, "bucket is exhausted after the first consume")
	assert.Equal(t, "Rate limit exceeded", reason)
}

func TestCompositeReportsWindowDenialWhenBucketAdmits(t *testing.T) {
	bucket := NewTokenBucketLimiter(1000, 1000, time.Minute)
	window := NewWindowCounterLimiter(newFakeCounter(), 1, time.Minute)
	c := NewComposite(bucket, window)

	allowed, _ := c.Check(context.Background(), "alice")
	assert.True(t, allowed)

	allowed, reason := c.Check(context.Background(), "alice")
	assert.False(t, allowed)
	assert.Equal(t, "Minute rate limit exceeded", reason)
}
