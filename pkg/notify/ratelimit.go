package notify

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a send is dropped by RateLimited.
var ErrRateLimited = errors.New("channel rate limit exceeded")

// Sender is the capability RateLimited wraps.
type Sender interface {
	Channel() string
	Send(ctx context.Context, msg Message) error
}

// RateLimited drops sends beyond a token-bucket rate instead of queueing
// them.
type RateLimited struct {
	next    Sender
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute sends per minute with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimited(next Sender, perMinute float64, burst int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

// Channel returns the wrapped channel name.
func (r *RateLimited) Channel() string { return r.next.Channel() }

// Send forwards msg when a token is available.
func (r *RateLimited) Send(ctx context.Context, msg Message) error {
	if !r.limiter.Allow() {
		return NewDeliveryError(r.next.Channel(), ErrRateLimited)
	}
	return r.next.Send(ctx, msg)
}
