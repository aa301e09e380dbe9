// Package lifecycle manages orders that are already live at a broker: it
// assigns a TTL per intent category, re-evaluates each order against fresh
// state, and emits keep/replace/cancel decisions. Cancellation is always
// selective: every cancel carries one of four specific reasons, and no other
// cancel path exists.
package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/observ"
	"github.com/prefdesk/prefmm/internal/order"
)

// Regime is the portfolio-wide operating mode the ranking engine sets.
type Regime string

const (
	RegimeNormal     Regime = "NORMAL"
	RegimeHardDerisk Regime = "HARD_DERISK"
	RegimeClose      Regime = "CLOSE"
)

// ActiveOrder is a live order as reported by the broker-facing layer. The
// policy only reads it; it never mutates broker state directly.
type ActiveOrder struct {
	OrderID        string               `json:"order_id"`
	Symbol         string               `json:"symbol"`
	Side           order.Side           `json:"side"`
	Price          float64              `json:"price"`
	Qty            float64              `json:"qty"`
	IntentCategory order.IntentCategory `json:"intent_category"`
	CreatedAt      time.Time            `json:"created_ts"`
	LastReplaceAt  time.Time            `json:"last_replace_ts"`
}

// SymbolState is the per-symbol market and position snapshot the policy
// evaluates against.
type SymbolState struct {
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Position  float64   `json:"position"` // signed quantity
	UpdatedAt time.Time `json:"updated_at"`
}

func (s SymbolState) Spread() float64 { return s.Ask - s.Bid }

// Action tags a decision.
type Action string

const (
	Keep    Action = "KEEP"
	Replace Action = "REPLACE"
	Cancel  Action = "CANCEL"
)

// Decision is the policy's output for one order. A replace is a single atomic
// decision here even though the broker layer models it as cancel+new. Frozen
// marks an order kept under stale data: no replace until data freshens.
type Decision struct {
	OrderID  string   `json:"order_id"`
	Symbol   string   `json:"symbol"`
	Action   Action   `json:"action"`
	Reason   string   `json:"reason"`
	NewPrice *float64 `json:"new_price,omitempty"`
	NewQty   *float64 `json:"new_qty,omitempty"`
	Frozen   bool     `json:"frozen,omitempty"`
}

// Policy holds the configured thresholds plus an injected clock. No other
// state: evaluation is pure.
type Policy struct {
	cfg config.Lifecycle
	now func() time.Time
}

func New(cfg config.Lifecycle) *Policy {
	return &Policy{cfg: cfg, now: time.Now}
}

// SetClock injects a deterministic clock for tests.
func (p *Policy) SetClock(now func() time.Time) { p.now = now }

// EvaluateOrders re-evaluates every active order, first match wins per order:
// exclusion, TTL expiry, staleness, regime validity, otherwise keep. Decisions
// are independent per order; no cross-order dependency.
func (p *Policy) EvaluateOrders(active []ActiveOrder, state map[string]SymbolState, regime Regime, excluded map[string]bool) []Decision {
	now := p.now()
	decisions := make([]Decision, 0, len(active))

	for _, ao := range active {
		d := p.evaluateOne(ao, state[ao.Symbol], regime, excluded, now)
		decisions = append(decisions, d)
		if d.Action == Cancel {
			observ.IncCounter("lifecycle_cancels_total", map[string]string{"reason": cancelCategory(d.Reason)})
		}
	}

	observ.SetGauge("lifecycle_active_orders", float64(len(active)), nil)
	return decisions
}

func (p *Policy) evaluateOne(ao ActiveOrder, st SymbolState, regime Regime, excluded map[string]bool, now time.Time) Decision {
	// 1. Exclusion list.
	if excluded[ao.Symbol] {
		return Decision{OrderID: ao.OrderID, Symbol: ao.Symbol, Action: Cancel, Reason: "symbol_excluded"}
	}

	// 2. TTL by intent category.
	ttl := p.TTLFor(ao.IntentCategory)
	if age := now.Sub(ao.CreatedAt); age > ttl {
		return Decision{
			OrderID: ao.OrderID, Symbol: ao.Symbol, Action: Cancel,
			Reason: fmt.Sprintf("ttl_expired_%s_%.0fs", ao.IntentCategory, age.Seconds()),
		}
	}

	// 3. Stale data: re-check validity; a still-valid order is kept frozen
	// rather than canceled, an invalid one goes.
	if st.UpdatedAt.IsZero() || now.Sub(st.UpdatedAt) > p.cfg.StaleThreshold() {
		if reason := invalidReason(ao, st, regime); reason != "" {
			return Decision{
				OrderID: ao.OrderID, Symbol: ao.Symbol, Action: Cancel,
				Reason: "stale_data_and_invalid_" + reason,
			}
		}
		return Decision{OrderID: ao.OrderID, Symbol: ao.Symbol, Action: Keep, Reason: "stale_data_frozen", Frozen: true}
	}

	// 4. Regime validity on fresh data.
	if reason := invalidReason(ao, st, regime); reason != "" {
		return Decision{OrderID: ao.OrderID, Symbol: ao.Symbol, Action: Cancel, Reason: reason}
	}

	// 5. Nothing wrong.
	return Decision{OrderID: ao.OrderID, Symbol: ao.Symbol, Action: Keep, Reason: "valid"}
}

// TTLFor looks up the category TTL, falling back to DEFAULT.
func (p *Policy) TTLFor(cat order.IntentCategory) time.Duration {
	if secs, ok := p.cfg.TTLByCategory[string(cat)]; ok {
		return time.Duration(secs) * time.Second
	}
	return time.Duration(p.cfg.TTLByCategory[string(order.CategoryDefault)]) * time.Second
}

// invalidReason applies the regime validity rules and returns "" when the
// order is still valid.
//
// HARD_DERISK admits only orders that reduce an existing position; CLOSE only
// exit orders; otherwise an order priced through the book (sell below
// bid-spread, buy above ask+spread) is mispriced.
func invalidReason(ao ActiveOrder, st SymbolState, regime Regime) string {
	switch regime {
	case RegimeHardDerisk:
		if !reducesPosition(ao, st.Position) {
			return "regime_hard_derisk_not_reducing"
		}
		return ""
	case RegimeClose:
		if ao.IntentCategory != order.CategoryCloseExit {
			return "regime_close_not_exit"
		}
		return ""
	}

	if st.Bid <= 0 || st.Ask <= 0 {
		return "" // no book to judge against
	}
	spread := st.Spread()
	if ao.Side == order.SideSell && ao.Price < st.Bid-spread {
		return "mispriced_sell_below_bid"
	}
	if ao.Side == order.SideBuy && ao.Price > st.Ask+spread {
		return "mispriced_buy_above_ask"
	}
	return ""
}

// reducesPosition reports whether the order trades against the current
// position: a sell on a long, a buy on a short.
func reducesPosition(ao ActiveOrder, position float64) bool {
	if position > 0 {
		return ao.Side == order.SideSell
	}
	if position < 0 {
		return ao.Side == order.SideBuy
	}
	return false
}

// ShouldReplace decides whether a live order may be amended: never within the
// minimum replace interval, then on a price move of at least one tick or a
// change of reason category (the reason text up to its first qualifier).
func (p *Policy) ShouldReplace(oldPrice, newPrice float64, oldReason, newReason string, lastReplaceAt time.Time) (bool, string) {
	if p.now().Sub(lastReplaceAt) < p.cfg.MinReplaceInterval() {
		return false, "replace_interval_not_elapsed"
	}
	if math.Abs(newPrice-oldPrice) >= p.cfg.PriceChangeThreshold {
		return true, fmt.Sprintf("price_moved_%.4f", newPrice-oldPrice)
	}
	if reasonCategory(oldReason) != reasonCategory(newReason) {
		return true, "reason_category_changed"
	}
	return false, "no_material_change"
}

// SelectiveCancels partitions a decision batch into cancel ids, keep ids and
// a cancel-reason map. By construction every cancel reason traces to one of
// the four policy conditions; there is no blanket-cancel path.
func SelectiveCancels(decisions []Decision) (cancelIDs, keepIDs []string, reasons map[string]string) {
	reasons = make(map[string]string)
	for _, d := range decisions {
		if d.Action == Cancel {
			cancelIDs = append(cancelIDs, d.OrderID)
			reasons[d.OrderID] = d.Reason
		} else {
			keepIDs = append(keepIDs, d.OrderID)
		}
	}
	return cancelIDs, keepIDs, reasons
}

// reasonCategory is the prefix of a reason up to its first variable qualifier,
// e.g. "mispriced_sell_below_bid" and "mispriced_buy_above_ask" share the
// category "mispriced".
func reasonCategory(reason string) string {
	if i := strings.Index(reason, "_"); i > 0 {
		return reason[:i]
	}
	return reason
}

func cancelCategory(reason string) string {
	switch {
	case reason == "symbol_excluded":
		return "excluded"
	case strings.HasPrefix(reason, "ttl_expired"):
		return "ttl_expired"
	case strings.HasPrefix(reason, "stale_data_and_invalid"):
		return "stale_and_invalid"
	default:
		return "regime_invalid"
	}
}
