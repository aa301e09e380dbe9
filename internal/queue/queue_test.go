package queue

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/order"
)

func testQueue(cfg config.Queue) (*Queue, *time.Time) {
	q := New(cfg)
	cur := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	q.SetClock(func() time.Time { return cur })
	return q, &cur
}

func plan(symbol string) order.Plan {
	return order.Plan{Action: order.ActionBuy, Symbol: symbol, Qty: 100, Price: 25.0, Urgency: order.UrgencyHigh}
}

func TestEnqueue_ActionNoneSkipped(t *testing.T) {
	q, _ := testQueue(config.Default().Queue)
	st := q.Enqueue("ABC PRB", order.Plan{Action: order.ActionNone})
	if st.State != StateSkipped || st.Reason != "order_plan_action_none" {
		t.Fatalf("want SKIPPED(order_plan_action_none), got %s(%s)", st.State, st.Reason)
	}
	if q.Depth() != 0 {
		t.Fatalf("nothing should be queued, depth=%d", q.Depth())
	}
}

func TestEnqueue_QueueFullRejected(t *testing.T) {
	cfg := config.Default().Queue
	cfg.MaxQueueSize = 2
	q, _ := testQueue(cfg)

	require.Equal(t, StateQueued, q.Enqueue("AAA PRA", plan("AAA PRA")).State)
	require.Equal(t, StateQueued, q.Enqueue("BBB PRA", plan("BBB PRA")).State)

	st := q.Enqueue("CCC PRA", plan("CCC PRA"))
	require.Equal(t, StateRejected, st.State)
	require.Equal(t, "queue_full", st.Reason)
}

func TestEnqueue_PerSymbolCooldown(t *testing.T) {
	q, cur := testQueue(config.Default().Queue)

	st := q.Enqueue("XYZ PRA", plan("XYZ PRA"))
	require.True(t, st.Queued)

	*cur = cur.Add(2 * time.Second)
	st = q.Enqueue("XYZ PRA", plan("XYZ PRA"))
	require.Equal(t, StateSkipped, st.State)
	require.True(t, strings.HasPrefix(st.Reason, "symbol_cooldown_"), "reason: %s", st.Reason)

	// A different symbol is unaffected.
	st = q.Enqueue("OTH PRC", plan("OTH PRC"))
	require.True(t, st.Queued)

	// Cooldown elapsed.
	*cur = cur.Add(3 * time.Second)
	st = q.Enqueue("XYZ PRA", plan("XYZ PRA"))
	require.True(t, st.Queued, "after cooldown: %s(%s)", st.State, st.Reason)
}

func TestEnqueue_PositionsStrictlyIncreasing(t *testing.T) {
	q, _ := testQueue(config.Default().Queue)
	for i := 1; i <= 5; i++ {
		sym := fmt.Sprintf("SYM%d PRA", i)
		st := q.Enqueue(sym, plan(sym))
		if st.Position != i {
			t.Fatalf("enqueue %d: want position %d, got %d", i, i, st.Position)
		}
	}
}

func TestSimulateDispatch_FIFOAndRenumber(t *testing.T) {
	cfg := config.Default().Queue
	cfg.MaxOrdersPerMinute = 2
	q, cur := testQueue(cfg)

	for _, s := range []string{"A PRA", "B PRA", "C PRA"} {
		require.True(t, q.Enqueue(s, plan(s)).Queued)
	}

	// Rate limit caps the first sweep at two, in FIFO order.
	dispatched := q.SimulateDispatch()
	require.Len(t, dispatched, 2)
	require.Equal(t, "A PRA", dispatched[0].Symbol)
	require.Equal(t, "B PRA", dispatched[1].Symbol)

	// The survivor renumbers to the head.
	st := q.StatusFor("C PRA")
	require.True(t, st.Queued)
	require.Equal(t, 1, st.Position)

	// Nothing more until the window rolls.
	require.Empty(t, q.SimulateDispatch())

	*cur = cur.Add(61 * time.Second)
	dispatched = q.SimulateDispatch()
	require.Len(t, dispatched, 1)
	require.Equal(t, "C PRA", dispatched[0].Symbol)
	require.Equal(t, 0, q.Depth())
}

func TestEnqueue_SchedulesPastFullWindow(t *testing.T) {
	cfg := config.Default().Queue
	cfg.MaxOrdersPerMinute = 2
	q, cur := testQueue(cfg)
	start := *cur

	require.True(t, q.Enqueue("A PRA", plan("A PRA")).Queued)
	require.True(t, q.Enqueue("B PRA", plan("B PRA")).Queued)
	require.Len(t, q.SimulateDispatch(), 2)

	// Window holds two dispatches at start; the next slot opens at
	// start+60s plus the batch buffer.
	st := q.Enqueue("C PRA", plan("C PRA"))
	require.True(t, st.Queued)
	want := start.Add(time.Minute).Add(500 * time.Millisecond)
	require.Equal(t, want, st.ScheduledAt)

	// Not dispatchable before its schedule even though the head is oldest.
	*cur = start.Add(30 * time.Second)
	require.Empty(t, q.SimulateDispatch())
}

func TestRateWindow_NeverExceedsLimit(t *testing.T) {
	cfg := config.Default().Queue
	cfg.MaxOrdersPerMinute = 5
	cfg.PerSymbolCooldownSeconds = 1
	q, cur := testQueue(cfg)

	var dispatchTimes []time.Time
	for i := 0; i < 40; i++ {
		sym := fmt.Sprintf("S%d PRA", i)
		q.Enqueue(sym, plan(sym))
		for range q.SimulateDispatch() {
			dispatchTimes = append(dispatchTimes, *cur)
		}
		*cur = cur.Add(2 * time.Second)
	}

	// Over any rolling 60s window, at most 5 dispatches.
	for i := range dispatchTimes {
		count := 0
		for j := i; j < len(dispatchTimes); j++ {
			if dispatchTimes[j].Sub(dispatchTimes[i]) < time.Minute {
				count++
			}
		}
		if count > 5 {
			t.Fatalf("window starting at %v saw %d dispatches", dispatchTimes[i], count)
		}
	}
}

func TestStatusFor_UnknownSymbol(t *testing.T) {
	q, _ := testQueue(config.Default().Queue)
	st := q.StatusFor("NOPE PRA")
	require.Equal(t, StateSkipped, st.State)
	require.Equal(t, "not_queued", st.Reason)
}
