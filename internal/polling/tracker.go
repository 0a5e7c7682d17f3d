package polling

import (
	"fmt"

	"github.com/tablekit/poslink/internal/api"
)

// changeKind labels what a poll cycle discovered about one order.
type changeKind int

const (
	orderCreated changeKind = iota
	orderUpdated
)

// orderChange is one order the latest poll saw as new or modified.
type orderChange struct {
	Kind  changeKind
	Order api.Order
}

// tracker remembers the last observed shape of each active order so a poll
// cycle only re-emits what actually changed. A fresh tracker treats every
// order as new, which replays the current snapshot after an outage.
type tracker struct {
	seen map[string]string // order id -> fingerprint
}

func newTracker() *tracker {
	return &tracker{seen: make(map[string]string)}
}

// diff compares fetched orders against the previous cycle and returns the
// changes in fetch order. Orders that disappeared are forgotten without an
// event; their terminal status is unknown here.
func (t *tracker) diff(orders []api.Order) []orderChange {
	var changes []orderChange
	current := make(map[string]string, len(orders))

	for _, o := range orders {
		fp := fingerprint(o)
		current[o.ID] = fp

		prev, ok := t.seen[o.ID]
		if !ok {
			changes = append(changes, orderChange{Kind: orderCreated, Order: o})
			continue
		}
		if prev != fp {
			changes = append(changes, orderChange{Kind: orderUpdated, Order: o})
		}
	}

	t.seen = current
	return changes
}

// fingerprint captures the fields whose change warrants re-emitting an
// order.
func fingerprint(o api.Order) string {
	return fmt.Sprintf("%s|%d|%d", o.Status, o.UpdatedAt.UnixNano(), o.TotalCents)
}
