// Package router is the dispatch stage: given an automation mode and a gate
// verdict it simulates, holds for approval, or forwards the plan to the
// active broker provider. It also owns safe switching between broker account
// modes.
//
// Switching never auto-cancels orders left at the previous provider. Orphan
// marking, a ledger bookkeeping flag rather than an order-state change, happens
// only in FULL_AUTO; in PREVIEW and SEMI_AUTO the operator keeps full manual
// control of orders opened under the previous broker, so nothing is marked.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prefdesk/prefmm/internal/broker"
	"github.com/prefdesk/prefmm/internal/gate"
	"github.com/prefdesk/prefmm/internal/ledger"
	"github.com/prefdesk/prefmm/internal/observ"
	"github.com/prefdesk/prefmm/internal/order"
)

// Kind tags the execution result.
type Kind string

const (
	Simulated         Kind = "SIMULATED"
	Executed          Kind = "EXECUTED"
	SkippedUserAction Kind = "SKIPPED_USER_ACTION"
	BlockedByGate     Kind = "BLOCKED_BY_GATE"
	SkippedNoPlan     Kind = "SKIPPED_NO_PLAN"
	SkippedNoProvider Kind = "SKIPPED_NO_PROVIDER"
	ResultError       Kind = "ERROR"
)

// Result is the router's output for one plan.
type Result struct {
	Kind          Kind   `json:"kind"`
	Detail        string `json:"detail,omitempty"`
	OrderID       string `json:"order_id,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// Pending is a plan held in SEMI_AUTO awaiting operator approval.
type Pending struct {
	ID      string       `json:"id"`
	Plan    order.Plan   `json:"plan"`
	Verdict gate.Verdict `json:"verdict"`
	HeldAt  time.Time    `json:"held_at"`
}

// Router holds the active account-mode handle and the provider registry. Only
// the router mutates which provider is active.
type Router struct {
	mu sync.RWMutex

	mode        order.AutomationMode
	accountMode order.AccountMode
	providers   map[order.AccountMode]broker.Adapter
	pending     map[string]Pending
	led         *ledger.Ledger

	switchCount map[order.AccountMode]int64
	lastSwitch  time.Time
	now         func() time.Time
}

func New(initialAccount order.AccountMode, led *ledger.Ledger) *Router {
	return &Router{
		mode:        order.ModePreview,
		accountMode: initialAccount,
		providers:   make(map[order.AccountMode]broker.Adapter),
		pending:     make(map[string]Pending),
		led:         led,
		switchCount: make(map[order.AccountMode]int64),
		now:         time.Now,
	}
}

// SetClock injects a deterministic clock for tests.
func (r *Router) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// RegisterProvider binds an account mode to its broker backend.
func (r *Router) RegisterProvider(mode order.AccountMode, p broker.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[mode] = p
	observ.Log("provider_registered", map[string]any{
		"account_mode": string(mode),
		"provider":     p.Name(),
		"total":        len(r.providers),
	})
}

// SetMode changes the automation mode.
func (r *Router) SetMode(mode order.AutomationMode) {
	r.mu.Lock()
	old := r.mode
	r.mode = mode
	r.mu.Unlock()
	observ.Log("automation_mode_changed", map[string]any{"from": string(old), "to": string(mode)})
}

func (r *Router) Mode() order.AutomationMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

func (r *Router) AccountMode() order.AccountMode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.accountMode
}

// Handle routes one plan according to the mode/verdict matrix. The plan
// short-circuits before mode logic when there is nothing to do.
func (r *Router) Handle(ctx context.Context, plan order.Plan, verdict gate.Verdict, userAction order.UserAction) Result {
	corrID := uuid.NewString()
	res := r.handle(ctx, plan, verdict, userAction, corrID)
	res.CorrelationID = corrID

	observ.IncCounter("router_results_total", map[string]string{"kind": string(res.Kind)})
	if r.led != nil {
		_ = r.led.WriteExecution(ledger.Execution{
			CorrelationID: corrID,
			Symbol:        plan.Symbol,
			Result:        string(res.Kind),
			OrderID:       res.OrderID,
			Detail:        res.Detail,
			AccountMode:   string(r.AccountMode()),
		})
	}
	return res
}

func (r *Router) handle(ctx context.Context, plan order.Plan, verdict gate.Verdict, userAction order.UserAction, corrID string) Result {
	if plan.Empty() {
		return Result{Kind: SkippedNoPlan, Detail: "order plan has no action"}
	}

	switch r.Mode() {
	case order.ModePreview:
		// Never contacts a broker.
		return Result{Kind: Simulated, Detail: describe(plan, verdict)}

	case order.ModeSemiAuto:
		if userAction != order.UserApprove {
			r.hold(plan, verdict)
			return Result{Kind: SkippedUserAction, Detail: "awaiting operator approval"}
		}
		if verdict.Outcome == gate.Blocked {
			return Result{Kind: BlockedByGate, Detail: verdict.Reason.Code}
		}
		return r.dispatch(ctx, plan)

	case order.ModeFullAuto:
		// MANUAL_REVIEW is not sufficient here.
		if verdict.Outcome != gate.AutoApproved {
			return Result{Kind: BlockedByGate, Detail: verdict.Reason.Code}
		}
		return r.dispatch(ctx, plan)

	default:
		return Result{Kind: ResultError, Detail: fmt.Sprintf("unknown automation mode %q", r.Mode())}
	}
}

// dispatch resolves the active provider and places the order.
func (r *Router) dispatch(ctx context.Context, plan order.Plan) Result {
	r.mu.RLock()
	provider, ok := r.providers[r.accountMode]
	account := r.accountMode
	r.mu.RUnlock()

	if !ok {
		return Result{Kind: SkippedNoProvider, Detail: fmt.Sprintf("no provider for account mode %q", account)}
	}

	req := broker.Request{
		Symbol: plan.Symbol,
		Side:   plan.Side(),
		Qty:    plan.Qty,
		Price:  plan.Price,
		Style:  plan.OrderStyle,
	}

	start := r.now()
	placed, err := provider.PlaceOrder(ctx, req)
	observ.RecordDuration("place_order_latency", r.now().Sub(start), map[string]string{"provider": provider.Name()})

	if err != nil {
		observ.Log("place_order_failed", map[string]any{
			"provider": provider.Name(),
			"symbol":   plan.Symbol,
			"error":    err.Error(),
		})
		return Result{Kind: ResultError, Detail: err.Error()}
	}

	observ.Log("order_executed", map[string]any{
		"provider": provider.Name(),
		"symbol":   plan.Symbol,
		"order_id": placed.OrderID,
		"side":     string(req.Side),
		"qty":      req.Qty,
		"price":    req.Price,
	})
	return Result{Kind: Executed, OrderID: placed.OrderID}
}

// CancelOrder forwards a selective cancel to the active provider. The
// lifecycle policy is the only caller; it supplies the per-order reason.
func (r *Router) CancelOrder(ctx context.Context, orderID, reason string) error {
	r.mu.RLock()
	provider, ok := r.providers[r.accountMode]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("no provider for account mode %q", r.AccountMode())
	}
	if err := provider.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	observ.Log("order_canceled", map[string]any{"order_id": orderID, "reason": reason})
	observ.IncCounter("router_cancels_total", nil)
	return nil
}

// SwitchAccountMode moves the active provider handle to target. It validates
// the target, ensures the new provider is connected, and leaves every order
// at the old provider untouched. In FULL_AUTO the old provider's still-open
// orders are marked orphaned in the ledger for reporting.
func (r *Router) SwitchAccountMode(ctx context.Context, target order.AccountMode) error {
	r.mu.Lock()
	current := r.accountMode
	if target == current {
		r.mu.Unlock()
		return nil
	}

	next, ok := r.providers[target]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("account mode %q has no registered provider", target)
	}
	old := r.providers[current]
	mode := r.mode

	r.accountMode = target
	r.switchCount[target]++
	r.lastSwitch = r.now()
	r.mu.Unlock()

	if !next.Connected() {
		if err := next.Connect(ctx); err != nil {
			// Roll the handle back: a switch to a dead provider helps nobody.
			r.mu.Lock()
			r.accountMode = current
			r.mu.Unlock()
			return fmt.Errorf("connect %q: %w", target, err)
		}
	}

	observ.Log("account_mode_switched", map[string]any{
		"from": string(current),
		"to":   string(target),
		"mode": string(mode),
	})
	observ.IncCounter("provider_switches_total", map[string]string{"to": string(target)})

	if mode == order.ModeFullAuto && old != nil {
		r.markOrphans(ctx, current, old)
	}
	return nil
}

// markOrphans records the old provider's open orders in the ledger. Orders
// are not canceled or modified.
func (r *Router) markOrphans(ctx context.Context, account order.AccountMode, old broker.Adapter) {
	open, err := old.OpenOrders(ctx)
	if err != nil {
		observ.Log("orphan_mark_failed", map[string]any{
			"account_mode": string(account),
			"error":        err.Error(),
		})
		return
	}
	for _, o := range open {
		if r.led != nil {
			_ = r.led.WriteOrphanMark(ledger.OrphanMark{
				OrderID:     o.OrderID,
				Symbol:      o.Symbol,
				AccountMode: string(account),
			})
		}
		observ.IncCounter("orphan_marks_total", map[string]string{"account_mode": string(account)})
	}
	if len(open) > 0 {
		observ.Log("orphans_marked", map[string]any{
			"account_mode": string(account),
			"count":        len(open),
		})
	}
}

// hold books a plan for later operator approval.
func (r *Router) hold(plan order.Plan, verdict gate.Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.pending[id] = Pending{ID: id, Plan: plan, Verdict: verdict, HeldAt: r.now()}
	observ.SetGauge("router_pending_approvals", float64(len(r.pending)), nil)
}

// PendingApprovals lists plans held for approval.
func (r *Router) PendingApprovals() []Pending {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Pending, 0, len(r.pending))
	for _, p := range r.pending {
		out = append(out, p)
	}
	return out
}

// ResolvePending approves or rejects held plans in bulk. Approved plans
// re-enter Handle with an explicit APPROVE; rejected ones are dropped.
func (r *Router) ResolvePending(ctx context.Context, ids []string, action order.UserAction) []Result {
	var results []Result
	for _, id := range ids {
		r.mu.Lock()
		p, ok := r.pending[id]
		if ok {
			delete(r.pending, id)
		}
		depth := len(r.pending)
		r.mu.Unlock()

		if !ok {
			continue
		}
		observ.SetGauge("router_pending_approvals", float64(depth), nil)
		if action == order.UserApprove {
			results = append(results, r.Handle(ctx, p.Plan, p.Verdict, order.UserApprove))
		} else {
			observ.Log("pending_rejected", map[string]any{"id": id, "symbol": p.Plan.Symbol})
		}
	}
	return results
}

// Status summarizes the router for the control surface.
func (r *Router) Status() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64, len(r.switchCount))
	for k, v := range r.switchCount {
		counts[string(k)] = v
	}
	return map[string]any{
		"automation_mode":   string(r.mode),
		"account_mode":      string(r.accountMode),
		"providers":         len(r.providers),
		"pending_approvals": len(r.pending),
		"switch_count":      counts,
		"last_switch":       r.lastSwitch.UTC().Format(time.RFC3339),
	}
}

// describe renders what would have been sent, for PREVIEW results.
func describe(plan order.Plan, verdict gate.Verdict) string {
	return fmt.Sprintf("would send %s %s x%.0f @ %.2f (%s, gate=%s)",
		plan.Action, plan.Symbol, plan.Qty, plan.Price, plan.OrderStyle, verdict.Outcome)
}
