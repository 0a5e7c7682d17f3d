package main

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tablekit/poslink/internal/envelope"
)

// demoOrder matches the active-orders wire shape the real backend serves.
type demoOrder struct {
	ID           string     `json:"id"`
	RestaurantID string     `json:"restaurant_id"`
	TableNumber  string     `json:"table_number,omitempty"`
	Status       string     `json:"status"`
	Items        []demoItem `json:"items,omitempty"`
	TotalCents   int64      `json:"total_cents,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type demoItem struct {
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
}

var demoDishes = []demoItem{
	{Name: "margherita", Quantity: 1, PriceCents: 1250},
	{Name: "carbonara", Quantity: 1, PriceCents: 1400},
	{Name: "tiramisu", Quantity: 2, PriceCents: 650},
	{Name: "espresso", Quantity: 2, PriceCents: 300},
}

// Order status progression for fabricated updates.
var statusFlow = []string{"pending", "confirmed", "preparing", "ready", "served"}

// orderStore fabricates a small set of active orders per tenant and mutates
// it over time, feeding both the socket event stream and the REST endpoint.
type orderStore struct {
	mu     sync.Mutex
	orders map[string][]demoOrder // tenant -> active orders
}

func newOrderStore() *orderStore {
	return &orderStore{orders: make(map[string][]demoOrder)}
}

// active returns the current active orders for a tenant.
func (s *orderStore) active(tenant string) []demoOrder {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]demoOrder, len(s.orders[tenant]))
	copy(out, s.orders[tenant])
	return out
}

// mutate either creates a new order or advances an existing one, and
// reports which business event the change corresponds to.
func (s *orderStore) mutate(tenant string) (string, demoOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := s.orders[tenant]

	// Grow toward a handful of orders, then mostly advance them.
	if len(orders) < 3 || rand.IntN(3) == 0 {
		now := time.Now()
		order := demoOrder{
			ID:           uuid.NewString(),
			RestaurantID: tenant,
			TableNumber:  tableNumber(),
			Status:       statusFlow[0],
			Items:        []demoItem{demoDishes[rand.IntN(len(demoDishes))]},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		for _, it := range order.Items {
			order.TotalCents += it.PriceCents * int64(it.Quantity)
		}
		s.orders[tenant] = append(orders, order)
		return envelope.TypeOrderCreated, order
	}

	i := rand.IntN(len(orders))
	orders[i].Status = nextStatus(orders[i].Status)
	orders[i].UpdatedAt = time.Now()
	order := orders[i]

	// Served orders leave the active set.
	if order.Status == statusFlow[len(statusFlow)-1] {
		s.orders[tenant] = append(orders[:i], orders[i+1:]...)
		return envelope.TypeOrderStatusChanged, order
	}

	return envelope.TypeOrderUpdated, order
}

func nextStatus(current string) string {
	for i, st := range statusFlow {
		if st == current && i < len(statusFlow)-1 {
			return statusFlow[i+1]
		}
	}
	return statusFlow[len(statusFlow)-1]
}

func tableNumber() string {
	return string(rune('A'+rand.IntN(6))) + string(rune('1'+rand.IntN(9)))
}
