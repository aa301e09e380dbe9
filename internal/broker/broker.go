// Package broker defines the broker-agnostic provider surface the router
// dispatches through, plus an in-memory sim backend and a rate-limited
// wrapper. The wire protocol of any specific broker lives outside this core.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/prefdesk/prefmm/internal/order"
)

// Request is the broker-agnostic order the router builds from a plan.
type Request struct {
	Symbol string     `json:"symbol"`
	Side   order.Side `json:"side"`
	Qty    float64    `json:"qty"`
	Price  float64    `json:"price"`
	Style  string     `json:"style"`
}

// Placed is the normalized view of an accepted order.
type Placed struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	PlacedAt time.Time `json:"placed_at"`
}

// OpenOrder is the minimal open-order view used for orphan bookkeeping.
type OpenOrder struct {
	OrderID string `json:"order_id"`
	Symbol  string `json:"symbol"`
}

// Adapter is the surface every broker backend implements.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Connected() bool
	PlaceOrder(ctx context.Context, req Request) (*Placed, error)
	CancelOrder(ctx context.Context, orderID string) error
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
	Close() error
}

// Error is a typed provider failure with the detail the router surfaces in
// its ERROR result.
type Error struct {
	Provider string
	Op       string // "place", "cancel", "connect", "open_orders"
	Detail   string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s (%v)", e.Provider, e.Op, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }
