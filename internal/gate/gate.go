// Package gate decides whether an order plan is safe to send: AUTO_APPROVED,
// MANUAL_REVIEW, or BLOCKED, with a machine-checkable reason. Evaluation is
// pure over its inputs plus one process-wide block flag; verdicts are never
// persisted and are recomputed on every call.
package gate

import (
	"fmt"
	"strings"
	"sync"

	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/observ"
	"github.com/prefdesk/prefmm/internal/order"
)

// Outcome is the verdict tag.
type Outcome string

const (
	AutoApproved Outcome = "AUTO_APPROVED"
	ManualReview Outcome = "MANUAL_REVIEW"
	Blocked      Outcome = "BLOCKED"
)

// Reason carries the cause code plus a human-readable message.
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Verdict is the gate's output: exactly one outcome per evaluation.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	Reason  Reason  `json:"reason"`
}

// MarketMetrics are the live inputs. Optional fields are pointers: nil means
// the upstream value was missing or unparseable, which biases the evaluation
// toward manual review rather than auto-approval.
type MarketMetrics struct {
	SpreadPercent *float64 `json:"spread_percent"`
}

// StaticMetrics are the slow-moving risk inputs.
type StaticMetrics struct {
	FinalTHG *float64 `json:"final_thg"`
}

// LiquidityConfidence expresses how concentrated recent prints are among
// believable lot sizes.
type LiquidityConfidence struct {
	ConcentrationPercent float64 `json:"concentration_percent"` // 0-100
	PrintCount           int     `json:"print_count"`
	RealLotEstimate      float64 `json:"real_lot_estimate"`
}

// Minimum prints before the liquidity filter has enough data to fire.
const minPrintsForLiquidityFilter = 8

// Confidence thresholds: relaxed when the real-lot estimate is strong.
const (
	relaxedConfidenceThreshold = 30.0
	strictConfidenceThreshold  = 50.0
	relaxedRealLotEstimate     = 2.0
)

// Gate evaluates order plans against configured thresholds. The global block
// flag is the only mutable state; everything else is pure.
type Gate struct {
	mu          sync.RWMutex
	cfg         config.Gate
	globalBlock bool
}

func New(cfg config.Gate) *Gate {
	return &Gate{cfg: cfg}
}

// SetGlobalBlock flips the manual kill switch. Independent of all other
// conditions; operators set it from the control surface.
func (g *Gate) SetGlobalBlock(on bool) {
	g.mu.Lock()
	g.globalBlock = on
	g.mu.Unlock()
	observ.Log("gate_global_block", map[string]any{"active": on})
	v := 0.0
	if on {
		v = 1.0
	}
	observ.SetGauge("gate_global_block_active", v, nil)
}

func (g *Gate) GlobalBlocked() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.globalBlock
}

// Evaluate runs the verdict state machine, first match wins. Any panic inside
// evaluation converts to BLOCKED("error"): approving on an unknown fault would
// be unsafe.
func (g *Gate) Evaluate(plan order.Plan, market MarketMetrics, static StaticMetrics, liq LiquidityConfidence) (v Verdict) {
	defer func() {
		if r := recover(); r != nil {
			v = Verdict{Outcome: Blocked, Reason: Reason{
				Code:    "error",
				Message: fmt.Sprintf("gate evaluation failed: %v", r),
			}}
			observ.IncCounter("gate_eval_panics_total", nil)
		}
		observ.IncCounter("gate_verdicts_total", map[string]string{
			"verdict": string(v.Outcome),
			"code":    v.Reason.Code,
		})
	}()

	// 1. Nothing to do.
	if plan.Empty() {
		return Verdict{Outcome: Blocked, Reason: Reason{
			Code:    "no_order_plan",
			Message: "order plan has no action",
		}}
	}

	// 2. Manual kill switch.
	if g.GlobalBlocked() {
		return Verdict{Outcome: Blocked, Reason: Reason{
			Code:    "global_block_active",
			Message: "global block flag is set",
		}}
	}

	// 3. Blocked conditions: collect every violated sub-reason, not just the
	// first, so the operator sees the full picture.
	var violations []string
	if market.SpreadPercent != nil && *market.SpreadPercent > g.cfg.Blocked.MaxSpreadPercent {
		violations = append(violations, fmt.Sprintf(
			"spread %.2f%% > %.2f%%", *market.SpreadPercent, g.cfg.Blocked.MaxSpreadPercent))
	}
	if static.FinalTHG != nil && *static.FinalTHG < g.cfg.Blocked.MinFinalTHG {
		violations = append(violations, fmt.Sprintf(
			"final_thg %.2f < %.2f", *static.FinalTHG, g.cfg.Blocked.MinFinalTHG))
	}
	if len(violations) > 0 {
		return Verdict{Outcome: Blocked, Reason: Reason{
			Code:    "blocked_conditions_met",
			Message: strings.Join(violations, "; "),
		}}
	}

	// 4. Liquidity-confidence filter, only for plans that actually want a
	// trade. Under minPrints the filter fails open: too little data to judge.
	if plan.Intent == order.IntentWantBuy || plan.Intent == order.IntentWantSell {
		if liq.PrintCount >= minPrintsForLiquidityFilter {
			threshold := strictConfidenceThreshold
			if liq.RealLotEstimate >= relaxedRealLotEstimate {
				threshold = relaxedConfidenceThreshold
			}
			if liq.ConcentrationPercent < threshold {
				return Verdict{Outcome: ManualReview, Reason: Reason{
					Code: "weak_real_lot_concentration",
					Message: fmt.Sprintf("concentration %.1f%% < %.0f%% (prints=%d real_lots=%.1f)",
						liq.ConcentrationPercent, threshold, liq.PrintCount, liq.RealLotEstimate),
				}}
			}
		}
	}

	// 5. Auto-approve: urgent enough and spread tight enough. An unknown
	// spread can never auto-approve.
	minUrgency := order.Urgency(g.cfg.AutoApproved.MinUrgency)
	if plan.Urgency.Rank() >= minUrgency.Rank() &&
		market.SpreadPercent != nil && *market.SpreadPercent <= g.cfg.AutoApproved.MaxSpreadPercent {
		return Verdict{Outcome: AutoApproved, Reason: Reason{
			Code: "auto_approved_conditions_met",
			Message: fmt.Sprintf("urgency %s, spread %.2f%% <= %.2f%%",
				plan.Urgency, *market.SpreadPercent, g.cfg.AutoApproved.MaxSpreadPercent),
		}}
	}

	// 6. Explicit manual-review urgency.
	if plan.Urgency == order.Urgency(g.cfg.ManualReview.Urgency) {
		return Verdict{Outcome: ManualReview, Reason: Reason{
			Code:    "manual_review_urgency",
			Message: fmt.Sprintf("urgency %s requires review", plan.Urgency),
		}}
	}

	// 7. Safe default: never silently approve.
	return Verdict{Outcome: ManualReview, Reason: Reason{
		Code:    "default_manual_review",
		Message: "no auto-approval condition matched",
	}}
}
