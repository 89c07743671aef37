package exec

import "time"

// BackoffFunc maps a retry attempt (starting at 0) to a delay. Keeping the
// strategy pure lets tests count calls without waiting.
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles the base delay per attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		d := base << uint(attempt)
		if d > max || d <= 0 {
			return max
		}
		return d
	}
}

// NoBackoff retries immediately. Tests use it to avoid sleeping.
func NoBackoff() BackoffFunc {
	return func(int) time.Duration { return 0 }
}
