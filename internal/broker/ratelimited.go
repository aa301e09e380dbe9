package broker

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps an adapter with a call throttle so a misbehaving caller
// can never hammer a broker API past its allowance.
type RateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

// NewRateLimited allows callsPerMinute across PlaceOrder and CancelOrder with
// a burst of 1.
func NewRateLimited(inner Adapter, callsPerMinute int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60), 1),
	}
}

func (r *RateLimited) Name() string    { return r.inner.Name() }
func (r *RateLimited) Connected() bool { return r.inner.Connected() }

func (r *RateLimited) Connect(ctx context.Context) error { return r.inner.Connect(ctx) }

func (r *RateLimited) PlaceOrder(ctx context.Context, req Request) (*Placed, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, &Error{Provider: r.inner.Name(), Op: "place", Detail: "rate limit wait canceled", Cause: err}
	}
	return r.inner.PlaceOrder(ctx, req)
}

func (r *RateLimited) CancelOrder(ctx context.Context, orderID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return &Error{Provider: r.inner.Name(), Op: "cancel", Detail: "rate limit wait canceled", Cause: err}
	}
	return r.inner.CancelOrder(ctx, orderID)
}

func (r *RateLimited) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	return r.inner.OpenOrders(ctx)
}

func (r *RateLimited) Close() error { return r.inner.Close() }
