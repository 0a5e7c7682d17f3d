package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tablekit/poslink/internal/envelope"
)

// EncodeToken returns the transport-safe form of a bearer token: URL-safe
// base64 with padding stripped. The encoded token rides in the handshake
// subprotocol field because query parameters are not reliably preserved by
// the terminal runtime, and subprotocol tokens are restricted to a
// constrained character set.
func EncodeToken(token string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(token))
}

// DecodeToken reverses EncodeToken. Used by the backend side (and the
// simulator) to recover the bearer token from the negotiated subprotocol.
func DecodeToken(encoded string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	return string(raw), nil
}

// Negotiator embeds a credential into the connection handshake and builds
// the redundant in-band authenticate message sent right after open. The
// handshake subprotocol is the primary credential channel; the in-band
// message is insurance, not a gate.
type Negotiator struct {
	cred Credential
}

// NewNegotiator creates a negotiator for one connection attempt.
func NewNegotiator(cred Credential) *Negotiator {
	return &Negotiator{cred: cred}
}

// Subprotocols returns the handshake subprotocol list carrying the encoded
// credential.
func (n *Negotiator) Subprotocols() []string {
	return []string{EncodeToken(n.cred.Token)}
}

// AuthenticateEnvelope builds the backup in-band authenticate message.
func (n *Negotiator) AuthenticateEnvelope(now time.Time) envelope.Envelope {
	ms := now.UnixMilli()
	data, _ := json.Marshal(envelope.AuthenticateData{
		Token:        n.cred.Token,
		UserID:       n.cred.UserID,
		RestaurantID: n.cred.RestaurantID,
		Timestamp:    ms,
	})
	return envelope.Envelope{
		Type:         envelope.TypeAuthenticate,
		Data:         data,
		Timestamp:    ms,
		RestaurantID: n.cred.RestaurantID,
	}
}
