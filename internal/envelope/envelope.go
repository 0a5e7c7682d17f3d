package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrMissingType = errors.New("envelope missing type")
)

// Source markers for the transport that produced an event.
const (
	SourceSocket  = ""
	SourcePolling = "polling"
)

// Envelope is the message frame used for both outbound control messages and
// inbound system/business messages.
type Envelope struct {
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    int64           `json:"timestamp,omitempty"`
	RestaurantID string          `json:"restaurant_id,omitempty"`
	Source       string          `json:"source,omitempty"`
}

// Encode marshals the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// DecodeData unmarshals the payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %q has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %q data: %w", e.Type, err)
	}
	return nil
}

// Parse decodes a raw inbound message. A payload that is not valid JSON or
// carries no type is a protocol error: callers log it and drop the message,
// the connection stays open.
func Parse(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if e.Type == "" {
		return Envelope{}, ErrMissingType
	}
	return e, nil
}

// PingData is the payload of an outbound ping control message.
type PingData struct {
	Timestamp int64 `json:"timestamp"`
}

// SubscribeData is the payload of an outbound subscribe control message.
type SubscribeData struct {
	Events []string `json:"events"`
}

// AuthenticateData is the payload of the in-band authenticate message.
type AuthenticateData struct {
	Token        string `json:"token"`
	UserID       string `json:"user_id"`
	RestaurantID string `json:"restaurant_id"`
	Timestamp    int64  `json:"timestamp"`
}

// ErrorData is the payload of an inbound error message and of locally
// emitted error events.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DisconnectData is the payload of a locally emitted disconnected event.
type DisconnectData struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
}

// ReconnectData is the payload of a locally emitted reconnecting event.
type ReconnectData struct {
	Attempt int   `json:"attempt"`
	DelayMs int64 `json:"delay_ms"`
}

// NewPing builds a ping control envelope.
func NewPing(now time.Time) Envelope {
	ms := now.UnixMilli()
	data, _ := json.Marshal(PingData{Timestamp: ms})
	return Envelope{
		Type:      TypePing,
		Data:      data,
		Timestamp: ms,
	}
}

// NewSubscribe builds a subscribe control envelope for the given event types.
func NewSubscribe(events []string, now time.Time) Envelope {
	data, _ := json.Marshal(SubscribeData{Events: events})
	return Envelope{
		Type:      TypeSubscribe,
		Data:      data,
		Timestamp: now.UnixMilli(),
	}
}
