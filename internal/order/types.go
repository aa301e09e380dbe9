package order

// Shared domain types for the admission-control pipeline. Upstream strategy
// code produces a Plan; everything downstream (gate, queue, router, lifecycle
// policy) consumes it as plain data.

// Action is what the plan wants done. ActionNone means "nothing to do" and
// short-circuits every downstream stage.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionNone Action = "NONE"
)

// Side of a live order at the broker.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Urgency of a plan, as set by the producing strategy.
type Urgency string

const (
	UrgencyLow    Urgency = "LOW"
	UrgencyMedium Urgency = "MEDIUM"
	UrgencyHigh   Urgency = "HIGH"
)

// Rank maps urgency onto an ordered scale so thresholds like "at least HIGH"
// compare cleanly. Unknown urgencies rank below LOW.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	default:
		return 0
	}
}

// Intent describes what the strategy is trying to accomplish.
type Intent string

const (
	IntentWantBuy  Intent = "WANT_BUY"
	IntentWantSell Intent = "WANT_SELL"
	IntentWait     Intent = "WAIT"
)

// IntentCategory selects an order's time-to-live once it is live.
type IntentCategory string

const (
	CategoryLTTrim     IntentCategory = "LT_TRIM"
	CategoryMMChurn    IntentCategory = "MM_CHURN"
	CategoryAddNewPos  IntentCategory = "ADDNEWPOS"
	CategoryHardDerisk IntentCategory = "HARD_DERISK"
	CategoryCloseExit  IntentCategory = "CLOSE_EXIT"
	CategoryDefault    IntentCategory = "DEFAULT"
)

// Plan is the candidate trade produced by upstream strategy logic, before any
// safety checks.
type Plan struct {
	Action         Action         `json:"action"`
	Symbol         string         `json:"symbol"`
	Qty            float64        `json:"qty"`
	Price          float64        `json:"price"`
	OrderStyle     string         `json:"order_style"` // e.g. "limit", "marketable_limit"
	Urgency        Urgency        `json:"urgency"`
	Intent         Intent         `json:"intent"`
	IntentCategory IntentCategory `json:"intent_category"`
	Source         string         `json:"source,omitempty"` // provenance, free-form
	Note           string         `json:"note,omitempty"`
}

// Empty reports whether the plan carries nothing to do.
func (p Plan) Empty() bool {
	return p.Action == ActionNone || p.Action == ""
}

// Side maps the plan action to an order side. Only meaningful for BUY/SELL.
func (p Plan) Side() Side {
	if p.Action == ActionSell {
		return SideSell
	}
	return SideBuy
}

// AutomationMode governs how much human approval the router requires before
// dispatch. Process-wide, set by operators at runtime.
type AutomationMode string

const (
	ModePreview  AutomationMode = "PREVIEW"
	ModeSemiAuto AutomationMode = "SEMI_AUTO"
	ModeFullAuto AutomationMode = "FULL_AUTO"
)

// AccountMode identifies which interchangeable broker backend is active.
// Exactly one is active at a time; switching is explicit and tracked.
type AccountMode string

// UserAction is the operator's answer on a plan held for approval.
type UserAction string

const (
	UserApprove UserAction = "APPROVE"
	UserReject  UserAction = "REJECT"
	UserNone    UserAction = ""
)
