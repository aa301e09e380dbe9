package broker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prefdesk/prefmm/internal/observ"
)

// Sim is an in-memory broker backend: orders are accepted immediately and
// tracked until canceled. Used for paper account modes and tests.
type Sim struct {
	mu        sync.Mutex
	name      string
	connected bool
	open      map[string]OpenOrder

	// FailNext, when set, makes the next PlaceOrder fail with this detail.
	failNext string
	// cancels records every cancel for test inspection.
	cancels []string
}

func NewSim(name string) *Sim {
	return &Sim{name: name, open: make(map[string]OpenOrder)}
}

func (s *Sim) Name() string { return s.name }

func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	observ.Log("sim_broker_connected", map[string]any{"provider": s.name})
	return nil
}

func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Sim) PlaceOrder(ctx context.Context, req Request) (*Placed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, &Error{Provider: s.name, Op: "place", Detail: "not connected"}
	}
	if s.failNext != "" {
		detail := s.failNext
		s.failNext = ""
		return nil, &Error{Provider: s.name, Op: "place", Detail: detail}
	}

	id := uuid.NewString()
	s.open[id] = OpenOrder{OrderID: id, Symbol: req.Symbol}

	observ.Log("sim_order_placed", map[string]any{
		"provider": s.name,
		"order_id": id,
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"qty":      req.Qty,
		"price":    req.Price,
	})

	return &Placed{OrderID: id, Symbol: req.Symbol, PlacedAt: time.Now().UTC()}, nil
}

func (s *Sim) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.open[orderID]; !ok {
		return &Error{Provider: s.name, Op: "cancel", Detail: "unknown order " + orderID}
	}
	delete(s.open, orderID)
	s.cancels = append(s.cancels, orderID)
	return nil
}

func (s *Sim) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]OpenOrder, 0, len(s.open))
	for _, o := range s.open {
		out = append(out, o)
	}
	return out, nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

// FailNextPlace arms a one-shot placement failure.
func (s *Sim) FailNextPlace(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = detail
}

// Cancels returns every order id canceled so far.
func (s *Sim) Cancels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cancels))
	copy(out, s.cancels)
	return out
}
