// Package envelope defines the wire format shared by the socket and polling
// transports.
//
// Every message in either direction is a JSON envelope:
//   - type: message type string (control, system, or business)
//   - data: type-specific payload
//   - timestamp: unix milliseconds
//   - restaurant_id: tenant scope
//   - source: empty for the socket path, "polling" for fallback-synthesized
//     events
package envelope
