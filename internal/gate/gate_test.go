package gate

import (
	"strings"
	"testing"

	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/order"
)

func fp(v float64) *float64 { return &v }

func defaultGate() *Gate {
	return New(config.Default().Gate)
}

func buyPlan(urgency order.Urgency) order.Plan {
	return order.Plan{
		Action:  order.ActionBuy,
		Symbol:  "XYZ PRA",
		Qty:     200,
		Price:   24.85,
		Urgency: urgency,
		Intent:  order.IntentWantBuy,
	}
}

func TestEvaluate_NoPlanAlwaysBlocked(t *testing.T) {
	g := defaultGate()
	// Even with perfect metrics, nothing to do means blocked.
	v := g.Evaluate(order.Plan{Action: order.ActionNone, Urgency: order.UrgencyHigh},
		MarketMetrics{SpreadPercent: fp(0.1)}, StaticMetrics{FinalTHG: fp(5)}, LiquidityConfidence{})
	if v.Outcome != Blocked || v.Reason.Code != "no_order_plan" {
		t.Fatalf("want BLOCKED(no_order_plan), got %s(%s)", v.Outcome, v.Reason.Code)
	}
}

func TestEvaluate_GlobalBlock(t *testing.T) {
	g := defaultGate()
	g.SetGlobalBlock(true)
	v := g.Evaluate(buyPlan(order.UrgencyHigh), MarketMetrics{SpreadPercent: fp(0.1)}, StaticMetrics{FinalTHG: fp(5)}, LiquidityConfidence{})
	if v.Outcome != Blocked || v.Reason.Code != "global_block_active" {
		t.Fatalf("want BLOCKED(global_block_active), got %s(%s)", v.Outcome, v.Reason.Code)
	}

	g.SetGlobalBlock(false)
	v = g.Evaluate(buyPlan(order.UrgencyHigh), MarketMetrics{SpreadPercent: fp(0.1)}, StaticMetrics{FinalTHG: fp(5)}, LiquidityConfidence{})
	if v.Outcome != AutoApproved {
		t.Fatalf("after clearing block want AUTO_APPROVED, got %s(%s)", v.Outcome, v.Reason.Code)
	}
}

func TestEvaluate_BlockedConditionsCollectAllViolations(t *testing.T) {
	g := defaultGate()
	v := g.Evaluate(buyPlan(order.UrgencyHigh),
		MarketMetrics{SpreadPercent: fp(2.0)}, StaticMetrics{FinalTHG: fp(-1.0)}, LiquidityConfidence{})
	if v.Outcome != Blocked || v.Reason.Code != "blocked_conditions_met" {
		t.Fatalf("want BLOCKED(blocked_conditions_met), got %s(%s)", v.Outcome, v.Reason.Code)
	}
	if !strings.Contains(v.Reason.Message, "spread") || !strings.Contains(v.Reason.Message, "final_thg") {
		t.Fatalf("message should carry every violation, got: %s", v.Reason.Message)
	}
}

func TestEvaluate_BlockWinsOverAutoApprove(t *testing.T) {
	// HIGH urgency cannot rescue a plan over the block spread threshold.
	g := defaultGate()
	v := g.Evaluate(buyPlan(order.UrgencyHigh),
		MarketMetrics{SpreadPercent: fp(2.0)}, StaticMetrics{FinalTHG: fp(5)}, LiquidityConfidence{})
	if v.Outcome != Blocked {
		t.Fatalf("want BLOCKED, got %s", v.Outcome)
	}
}

func TestEvaluate_LiquidityFilter(t *testing.T) {
	g := defaultGate()
	cases := []struct {
		name string
		liq  LiquidityConfidence
		want Outcome
		code string
	}{
		{
			name: "relaxed_threshold_passes",
			liq:  LiquidityConfidence{ConcentrationPercent: 35, PrintCount: 12, RealLotEstimate: 2.5},
			want: AutoApproved,
		},
		{
			name: "relaxed_threshold_fails",
			liq:  LiquidityConfidence{ConcentrationPercent: 25, PrintCount: 12, RealLotEstimate: 2.5},
			want: ManualReview,
			code: "weak_real_lot_concentration",
		},
		{
			name: "strict_threshold_fails",
			liq:  LiquidityConfidence{ConcentrationPercent: 45, PrintCount: 12, RealLotEstimate: 1.0},
			want: ManualReview,
			code: "weak_real_lot_concentration",
		},
		{
			name: "strict_threshold_passes",
			liq:  LiquidityConfidence{ConcentrationPercent: 55, PrintCount: 12, RealLotEstimate: 1.0},
			want: AutoApproved,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := g.Evaluate(buyPlan(order.UrgencyHigh),
				MarketMetrics{SpreadPercent: fp(0.2)}, StaticMetrics{FinalTHG: fp(5)}, tc.liq)
			if v.Outcome != tc.want {
				t.Fatalf("want %s, got %s(%s)", tc.want, v.Outcome, v.Reason.Code)
			}
			if tc.code != "" && v.Reason.Code != tc.code {
				t.Fatalf("want code %s, got %s", tc.code, v.Reason.Code)
			}
		})
	}
}

func TestEvaluate_LiquidityFilterNeedsEnoughPrints(t *testing.T) {
	// Under 8 prints the filter fails open, for any concentration.
	g := defaultGate()
	for conc := 0.0; conc <= 100.0; conc += 2.5 {
		liq := LiquidityConfidence{ConcentrationPercent: conc, PrintCount: 7, RealLotEstimate: 0.5}
		v := g.Evaluate(buyPlan(order.UrgencyHigh),
			MarketMetrics{SpreadPercent: fp(0.2)}, StaticMetrics{FinalTHG: fp(5)}, liq)
		if v.Reason.Code == "weak_real_lot_concentration" {
			t.Fatalf("filter fired at concentration %.1f despite 7 prints", conc)
		}
	}
}

func TestEvaluate_LiquidityFilterOnlyForTradeIntents(t *testing.T) {
	g := defaultGate()
	plan := buyPlan(order.UrgencyHigh)
	plan.Intent = order.IntentWait
	v := g.Evaluate(plan, MarketMetrics{SpreadPercent: fp(0.2)}, StaticMetrics{FinalTHG: fp(5)},
		LiquidityConfidence{ConcentrationPercent: 5, PrintCount: 50, RealLotEstimate: 0.1})
	if v.Reason.Code == "weak_real_lot_concentration" {
		t.Fatalf("filter must not fire for intent WAIT, got %s(%s)", v.Outcome, v.Reason.Code)
	}
}

func TestEvaluate_ThresholdMapping(t *testing.T) {
	g := defaultGate()
	cases := []struct {
		name   string
		plan   order.Plan
		market MarketMetrics
		want   Outcome
		code   string
	}{
		{
			name:   "high_urgency_tight_spread_auto",
			plan:   buyPlan(order.UrgencyHigh),
			market: MarketMetrics{SpreadPercent: fp(0.2)},
			want:   AutoApproved,
		},
		{
			name:   "high_urgency_wide_spread_review",
			plan:   buyPlan(order.UrgencyHigh),
			market: MarketMetrics{SpreadPercent: fp(0.8)},
			want:   ManualReview,
			code:   "default_manual_review",
		},
		{
			name:   "medium_urgency_review",
			plan:   buyPlan(order.UrgencyMedium),
			market: MarketMetrics{SpreadPercent: fp(0.2)},
			want:   ManualReview,
			code:   "manual_review_urgency",
		},
		{
			name:   "low_urgency_defaults_to_review",
			plan:   buyPlan(order.UrgencyLow),
			market: MarketMetrics{SpreadPercent: fp(0.2)},
			want:   ManualReview,
			code:   "default_manual_review",
		},
		{
			name:   "unknown_spread_never_auto_approves",
			plan:   buyPlan(order.UrgencyHigh),
			market: MarketMetrics{},
			want:   ManualReview,
			code:   "default_manual_review",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := g.Evaluate(tc.plan, tc.market, StaticMetrics{FinalTHG: fp(5)}, LiquidityConfidence{})
			if v.Outcome != tc.want {
				t.Fatalf("want %s, got %s(%s)", tc.want, v.Outcome, v.Reason.Code)
			}
			if tc.code != "" && v.Reason.Code != tc.code {
				t.Fatalf("want code %s, got %s", tc.code, v.Reason.Code)
			}
		})
	}
}

func TestEvaluate_ScenarioFromRunbook(t *testing.T) {
	// BUY "XYZ PRA" HIGH urgency, spread 0.2%, final_thg 5.0 auto-approves;
	// same plan at spread 2.0% blocks.
	g := defaultGate()

	v := g.Evaluate(buyPlan(order.UrgencyHigh), MarketMetrics{SpreadPercent: fp(0.2)}, StaticMetrics{FinalTHG: fp(5.0)}, LiquidityConfidence{})
	if v.Outcome != AutoApproved {
		t.Fatalf("want AUTO_APPROVED, got %s(%s)", v.Outcome, v.Reason.Code)
	}

	v = g.Evaluate(buyPlan(order.UrgencyHigh), MarketMetrics{SpreadPercent: fp(2.0)}, StaticMetrics{FinalTHG: fp(5.0)}, LiquidityConfidence{})
	if v.Outcome != Blocked || v.Reason.Code != "blocked_conditions_met" {
		t.Fatalf("want BLOCKED(blocked_conditions_met), got %s(%s)", v.Outcome, v.Reason.Code)
	}
}
