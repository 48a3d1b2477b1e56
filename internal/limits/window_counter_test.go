package limits

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeCounter struct {
	counts map[string]int64
	err    error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: make(map[string]int64)}
}

func (f *fakeCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func TestWindowCounterLimiterAdmitsUnderMax(t *testing.T) {
	c := newFakeCounter()
	l := NewWindowCounterLimiter(c, 3, time.Minute)
	ctx := context.Background()

	assert.True(t, l.Check(ctx, "alice"))
	assert.True(t, l.Check(ctx, "alice"))
	assert.True(t, l.Check(ctx, "alice"))
	assert.False(t, l.Check(ctx, "alice"), "4th edit in the same window must be denied")
}

func TestWindowCounterLimiterFailsOpenOnCacheError(t *testing.T) {
	c := newFakeCounter()
	c.err = assertError{}
	l := NewWindowCounterLimiter(c, 1, time.Minute)

	assert.True(t, l.Check(context.Background(), "alice"), "cache failure must fail open, per spec")
}

func TestWindowCounterLimiterNilCounterFailsOpen(t *testing.T) {
	l := NewWindowCounterLimiter(nil, 1, time.Minute)
	assert.True(t, l.Check(context.Background(), "alice"))
}

type assertError struct{}

func (assertError) Error() string { return "cache unavailable" }
