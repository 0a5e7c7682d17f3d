package envelope

// Outbound control message types.
const (
	TypePing         = "ping"
	TypeSubscribe    = "subscribe"
	TypeAuthenticate = "authenticate"
)

// Inbound system message types.
const (
	TypePong                  = "pong"
	TypeConnectionEstablished = "connection_established"
	TypeSubscriptionConfirmed = "subscription_confirmed"
	TypeError                 = "error"
)

// Business event types pushed by the backend.
const (
	TypeOrderCreated       = "order.created"
	TypeOrderUpdated       = "order.updated"
	TypeOrderStatusChanged = "order.status_changed"
	TypePaymentProcessed   = "payment.processed"
	TypeInventoryUpdated   = "inventory.updated"
	TypeMenuUpdated        = "menu.updated"
	TypeStaffUpdate        = "staff.update"
	TypeSettingsUpdated    = "settings.updated"
	TypeSystemNotification = "system.notification"
)

// Connection lifecycle events emitted locally on the bus. They share the
// registry and dispatch discipline with business events; "error" doubles as
// the inbound error type.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventReconnecting = "reconnecting"
	EventError        = TypeError
)

// BusinessEvents returns the fixed set of business event types a terminal
// subscribes to after every successful open. Callers own the returned slice.
func BusinessEvents() []string {
	return []string{
		TypeOrderCreated,
		TypeOrderUpdated,
		TypeOrderStatusChanged,
		TypePaymentProcessed,
		TypeInventoryUpdated,
		TypeMenuUpdated,
		TypeStaffUpdate,
		TypeSettingsUpdated,
		TypeSystemNotification,
	}
}

// IsBusinessEvent reports whether t is one of the business event types.
func IsBusinessEvent(t string) bool {
	switch t {
	case TypeOrderCreated, TypeOrderUpdated, TypeOrderStatusChanged,
		TypePaymentProcessed, TypeInventoryUpdated, TypeMenuUpdated,
		TypeStaffUpdate, TypeSettingsUpdated, TypeSystemNotification:
		return true
	}
	return false
}
