// Package queue is the FIFO admission stage between the gate and the router.
// It applies a global rate limit (rolling 60s window of dispatch timestamps)
// and a per-symbol cooldown, and hands back a schedule or a rejection.
//
// All mutable state lives behind the queue's mutex; callers may invoke it from
// any goroutine but individual calls are serialized here, never interleaved.
package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/observ"
	"github.com/prefdesk/prefmm/internal/order"
)

// State tags the enqueue outcome.
type State string

const (
	StateQueued   State = "QUEUED"
	StateReady    State = "READY"
	StateSkipped  State = "SKIPPED"
	StateRejected State = "REJECTED"
)

// Status is the enqueue result handed back to the caller.
type Status struct {
	Queued      bool      `json:"queued"`
	ScheduledAt time.Time `json:"scheduled_time"`
	Position    int       `json:"position_in_queue"` // 1-based
	State       State     `json:"queue_status"`
	Reason      string    `json:"reason"`
}

// Item is a queued order. Owned exclusively by the queue while it sits in the
// FIFO; dispatch hands a copy out.
type Item struct {
	Symbol      string     `json:"symbol"`
	Plan        order.Plan `json:"plan"`
	EnqueuedAt  time.Time  `json:"enqueue_time"`
	ScheduledAt time.Time  `json:"scheduled_time"`
	Position    int        `json:"queue_position"` // 1-based, renumbered after every dequeue
}

const rateWindow = time.Minute

type Queue struct {
	mu  sync.Mutex
	cfg config.Queue
	now func() time.Time

	items        []*Item
	lastBySymbol map[string]time.Time // symbol -> last scheduled order time
	window       []time.Time          // dispatch timestamps within the rolling window, oldest first
}

func New(cfg config.Queue) *Queue {
	return &Queue{
		cfg:          cfg,
		now:          time.Now,
		lastBySymbol: make(map[string]time.Time),
	}
}

// SetClock injects a deterministic clock for tests.
func (q *Queue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// Enqueue admits a plan into the FIFO, or explains why not.
func (q *Queue) Enqueue(symbol string, plan order.Plan) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()

	if plan.Empty() {
		return Status{State: StateSkipped, Reason: "order_plan_action_none"}
	}

	if len(q.items) >= q.cfg.MaxQueueSize {
		observ.IncCounter("queue_rejects_total", map[string]string{"reason": "queue_full"})
		return Status{State: StateRejected, Reason: "queue_full"}
	}

	if last, ok := q.lastBySymbol[symbol]; ok {
		elapsed := now.Sub(last)
		if elapsed < q.cfg.Cooldown() {
			remaining := q.cfg.Cooldown() - elapsed
			observ.IncCounter("queue_cooldown_skips_total", map[string]string{"symbol": symbol})
			return Status{
				State:  StateSkipped,
				Reason: fmt.Sprintf("symbol_cooldown_%.1fs_remaining", remaining.Seconds()),
			}
		}
	}

	scheduledAt := now
	q.pruneWindow(now)
	if len(q.window) >= q.cfg.MaxOrdersPerMinute {
		// Window is full: the slot opens when the oldest timestamp rolls out,
		// plus a batch-interval buffer.
		scheduledAt = q.window[0].Add(rateWindow).Add(q.cfg.BatchInterval())
	}

	item := &Item{
		Symbol:      symbol,
		Plan:        plan,
		EnqueuedAt:  now,
		ScheduledAt: scheduledAt,
		Position:    len(q.items) + 1,
	}
	q.items = append(q.items, item)
	q.lastBySymbol[symbol] = now

	observ.IncCounter("queue_enqueued_total", map[string]string{"symbol": symbol})
	observ.SetGauge("queue_depth", float64(len(q.items)), nil)
	observ.Log("order_enqueued", map[string]any{
		"symbol":       symbol,
		"position":     item.Position,
		"scheduled_at": scheduledAt.UTC().Format(time.RFC3339Nano),
	})

	return Status{
		Queued:      true,
		ScheduledAt: scheduledAt,
		Position:    item.Position,
		State:       StateQueued,
	}
}

// SimulateDispatch walks the FIFO head, popping every order whose schedule has
// arrived while the rate limiter has headroom. Strict FIFO: a head that is not
// ready blocks everything behind it.
func (q *Queue) SimulateDispatch() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var dispatched []Item

	for len(q.items) > 0 {
		head := q.items[0]
		if head.ScheduledAt.After(now) {
			break
		}
		q.pruneWindow(now)
		if len(q.window) >= q.cfg.MaxOrdersPerMinute {
			break
		}

		q.items = q.items[1:]
		q.window = append(q.window, now)
		dispatched = append(dispatched, *head)

		observ.IncCounter("queue_dispatched_total", map[string]string{"symbol": head.Symbol})
		observ.RecordDuration("dispatch_latency", now.Sub(head.EnqueuedAt), nil)
	}

	if len(dispatched) > 0 {
		q.renumber()
		observ.SetGauge("queue_depth", float64(len(q.items)), nil)
	}

	return dispatched
}

// StatusFor reports the queue position for one symbol, or the overall depth
// when symbol is empty.
func (q *Queue) StatusFor(symbol string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	if symbol == "" {
		return Status{Queued: len(q.items) > 0, Position: len(q.items), State: StateQueued}
	}
	for _, it := range q.items {
		if it.Symbol == symbol {
			return Status{
				Queued:      true,
				ScheduledAt: it.ScheduledAt,
				Position:    it.Position,
				State:       StateQueued,
			}
		}
	}
	return Status{State: StateSkipped, Reason: "not_queued"}
}

// Snapshot returns a copy of the FIFO for the control surface.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

// Depth returns the number of queued orders.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pruneWindow drops dispatch timestamps older than the rolling window.
// Caller holds q.mu.
func (q *Queue) pruneWindow(now time.Time) {
	cutoff := now.Add(-rateWindow)
	i := 0
	for i < len(q.window) && !q.window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		q.window = q.window[i:]
	}
}

// renumber reassigns 1-based positions after a dequeue. Caller holds q.mu.
func (q *Queue) renumber() {
	for i, it := range q.items {
		it.Position = i + 1
	}
}
