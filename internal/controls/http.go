// Package controls is the operator HTTP surface: automation mode, global
// block, account switching, bulk approvals, and status/metrics/health reads.
package controls

import (
	"encoding/json"
	"net/http"

	"github.com/prefdesk/prefmm/internal/config"
	"github.com/prefdesk/prefmm/internal/gate"
	"github.com/prefdesk/prefmm/internal/observ"
	"github.com/prefdesk/prefmm/internal/order"
	"github.com/prefdesk/prefmm/internal/queue"
	"github.com/prefdesk/prefmm/internal/router"
)

type Server struct {
	gate   *gate.Gate
	queue  *queue.Queue
	router *router.Router
	cfg    config.Root
}

func NewServer(g *gate.Gate, q *queue.Queue, r *router.Router, cfg config.Root) *Server {
	return &Server{gate: g, queue: q, router: r, cfg: cfg}
}

// Mux returns the control-plane handler tree.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /controls/mode", s.handleMode)
	mux.HandleFunc("POST /controls/block", s.handleBlock)
	mux.HandleFunc("POST /controls/account", s.handleAccount)
	mux.HandleFunc("POST /controls/approve", s.handleApprove)
	mux.HandleFunc("GET /controls/status", s.handleStatus)
	mux.Handle("GET /metrics", observ.Handler())
	mux.Handle("GET /healthz", observ.HealthHandler(s.cfg.Queue.MaxQueueSize))
	return mux
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode := order.AutomationMode(req.Mode)
	switch mode {
	case order.ModePreview, order.ModeSemiAuto, order.ModeFullAuto:
	default:
		httpError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}
	s.router.SetMode(mode)
	writeJSON(w, map[string]any{"mode": req.Mode})
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.gate.SetGlobalBlock(req.Active)
	writeJSON(w, map[string]any{"global_block": req.Active})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountMode string `json:"account_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.router.SwitchAccountMode(r.Context(), order.AccountMode(req.AccountMode)); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, map[string]any{"account_mode": req.AccountMode})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string `json:"ids"`
		Action string   `json:"action"` // "APPROVE" | "REJECT"
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	action := order.UserAction(req.Action)
	if action != order.UserApprove && action != order.UserReject {
		httpError(w, http.StatusBadRequest, "action must be APPROVE or REJECT")
		return
	}
	results := s.router.ResolvePending(r.Context(), req.IDs, action)
	writeJSON(w, map[string]any{"resolved": len(req.IDs), "results": results})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"router":       s.router.Status(),
		"queue_depth":  s.queue.Depth(),
		"queue":        s.queue.Snapshot(),
		"global_block": s.gate.GlobalBlocked(),
		"pending":      s.router.PendingApprovals(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
