// Package connection implements the Connection Supervisor component.
//
// The Connection Supervisor:
//   - Owns the single WebSocket connection to the order backend
//   - Embeds the bearer credential in the handshake subprotocol
//   - Sends heartbeat pings while connected
//   - Reconnects with exponential backoff after transient failures
//   - Parks on authentication failures until credentials are refreshed
//   - Degrades to REST polling when the retry budget is exhausted
//   - Dispatches inbound business events onto the event bus
package connection
