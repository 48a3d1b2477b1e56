package limits

import "context"

// Composite is the admission policy used by IngressHandler (spec.md §4.1,
// §4.3): admit iff both the token bucket and the window counter admit.
// The token bucket is checked first, so its message wins ties.
type Composite struct {
	Bucket *TokenBucketLimiter
	Window *WindowCounterLimiter
}

// NewComposite wires the two limiter tiers together.
func NewComposite(bucket *TokenBucketLimiter, window *WindowCounterLimiter) *Composite {
	return &Composite{Bucket: bucket, Window: window}
}

// Check admits an edit for user, or reports the denying limiter's reason.
func (c *Composite) Check(ctx context.Context, user string) (allowed bool, reason string) {
	if !c.Bucket.Check(user, 1) {
		return false, "Rate limit exceeded"
	}
	if !c.Window.Check(ctx, user) {
		return false, "Minute rate limit exceeded"
	}
	return true, ""
}
