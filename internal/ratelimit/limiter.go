package ratelimit

import (
	"golang.org/x/time/rate"
)

const (
	DefaultRequestsPerMinute = 120
	MaxFrameSize             = 25 * 1024 * 1024 // 25MB, chat history pages can be large
)

// NewRequestLimiter creates the outbound request limiter for a gateway client.
// A non-positive rate disables limiting and returns nil.
func NewRequestLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
}
