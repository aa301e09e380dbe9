package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/prefdesk/prefmm/internal/broker"
	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/controls"
	"github.com/prefdesk/prefmm/internal/gate"
	"github.com/prefdesk/prefmm/internal/ledger"
	"github.com/prefdesk/prefmm/internal/observ"
	"github.com/prefdesk/prefmm/internal/order"
	"github.com/prefdesk/prefmm/internal/queue"
	"github.com/prefdesk/prefmm/internal/router"
)

// planLine is one fixture record: an order plan plus the metrics the gate
// needs to judge it.
type planLine struct {
	Plan   order.Plan               `json:"plan"`
	Market gate.MarketMetrics       `json:"market"`
	Static gate.StaticMetrics       `json:"static"`
	Liq    gate.LiquidityConfidence `json:"liquidity"`
}

func main() {
	cfgPath := flag.String("config", "config/pipeline.yaml", "config file path")
	plansPath := flag.String("plans", "", "order-plan fixture (jsonl); empty runs the control server only")
	mode := flag.String("mode", "PREVIEW", "initial automation mode")
	flag.Parse()

	cfg := config.LoadOrDefault(*cfgPath)

	led, err := ledger.New(cfg.Ledger.Path)
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}

	g := gate.New(cfg.Gate)
	q := queue.New(cfg.Queue)

	rt := router.New(order.AccountMode(cfg.Broker.AccountModes[0]), led)
	rt.SetMode(order.AutomationMode(*mode))
	ctx := context.Background()
	for _, am := range cfg.Broker.AccountModes {
		sim := broker.NewSim(am)
		if err := sim.Connect(ctx); err != nil {
			log.Fatalf("connect %s: %v", am, err)
		}
		rt.RegisterProvider(order.AccountMode(am), broker.NewRateLimited(sim, cfg.Broker.RateLimitPerMin))
	}

	srv := controls.NewServer(g, q, rt, cfg)
	go func() {
		observ.Log("controls_listening", map[string]any{"addr": cfg.Controls.ListenAddr})
		if err := http.ListenAndServe(cfg.Controls.ListenAddr, srv.Mux()); err != nil {
			log.Fatalf("control server: %v", err)
		}
	}()

	if *plansPath != "" {
		replay(ctx, *plansPath, cfg, g, q, rt)
		return
	}

	select {} // control server only
}

// replay feeds fixture plans through Gate -> Queue -> Router, draining the
// queue between batches the way the host service's decision cycle would.
func replay(ctx context.Context, path string, cfg config.Root, g *gate.Gate, q *queue.Queue, rt *router.Router) {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("open plans: %v", err)
	}
	defer f.Close()

	verdicts := make(map[string]gate.Verdict)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var pl planLine
		if err := json.Unmarshal(sc.Bytes(), &pl); err != nil {
			observ.Log("plan_parse_error", map[string]any{"error": err.Error()})
			continue
		}

		v := g.Evaluate(pl.Plan, pl.Market, pl.Static, pl.Liq)
		if v.Outcome == gate.Blocked {
			observ.Log("plan_blocked", map[string]any{
				"symbol": pl.Plan.Symbol,
				"code":   v.Reason.Code,
				"detail": v.Reason.Message,
			})
			continue
		}
		verdicts[pl.Plan.Symbol] = v

		st := q.Enqueue(pl.Plan.Symbol, pl.Plan)
		if !st.Queued {
			observ.Log("plan_not_queued", map[string]any{
				"symbol": pl.Plan.Symbol,
				"state":  string(st.State),
				"reason": st.Reason,
			})
			continue
		}

		for _, item := range q.SimulateDispatch() {
			res := rt.Handle(ctx, item.Plan, verdicts[item.Symbol], order.UserNone)
			observ.Log("plan_routed", map[string]any{
				"symbol": item.Symbol,
				"result": string(res.Kind),
				"detail": res.Detail,
			})
		}
	}
	if err := sc.Err(); err != nil {
		log.Fatalf("read plans: %v", err)
	}

	// Give stragglers whose schedule is in the future a chance to drain.
	deadline := time.Now().Add(5 * time.Second)
	for q.Depth() > 0 && time.Now().Before(deadline) {
		for _, item := range q.SimulateDispatch() {
			res := rt.Handle(ctx, item.Plan, verdicts[item.Symbol], order.UserNone)
			observ.Log("plan_routed", map[string]any{
				"symbol": item.Symbol,
				"result": string(res.Kind),
			})
		}
		time.Sleep(100 * time.Millisecond)
	}
}
