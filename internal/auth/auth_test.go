package auth

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablekit/poslink/internal/envelope"
)

func TestCredentialValidate(t *testing.T) {
	tests := []struct {
		name    string
		cred    Credential
		wantErr error
	}{
		{
			name: "complete",
			cred: Credential{Token: "tok", UserID: "u1", RestaurantID: "r1"},
		},
		{
			name:    "missing restaurant",
			cred:    Credential{Token: "tok", UserID: "u1"},
			wantErr: ErrMissingIdentity,
		},
		{
			name:    "missing user",
			cred:    Credential{Token: "tok", RestaurantID: "r1"},
			wantErr: ErrMissingIdentity,
		},
		{
			name:    "missing token",
			cred:    Credential{UserID: "u1", RestaurantID: "r1"},
			wantErr: ErrMissingCredential,
		},
		{
			name:    "identity checked before token",
			cred:    Credential{},
			wantErr: ErrMissingIdentity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cred.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestStaticTokenSource(t *testing.T) {
	cred := Credential{Token: "tok", UserID: "u1", RestaurantID: "r1"}
	src := Static(cred)

	got, err := src.Credential(t.Context())
	require.NoError(t, err)
	assert.Equal(t, cred, got)
}

func TestTokenRoundTrip(t *testing.T) {
	// Lengths 1, 16, and 37 hit every base64 padding remainder.
	tokens := []string{
		"x",
		"0123456789abcdef",
		"eyJhbGciOiJIUzI1NiJ9.payload.sig+/==!",
	}

	for _, tok := range tokens {
		encoded := EncodeToken(tok)
		assert.NotContains(t, encoded, "=", "encoded token must be unpadded")
		assert.NotContains(t, encoded, "+")
		assert.NotContains(t, encoded, "/")

		decoded, err := DecodeToken(encoded)
		require.NoError(t, err)
		assert.Equal(t, tok, decoded)
	}
}

func TestDecodeTokenRejectsGarbage(t *testing.T) {
	_, err := DecodeToken("not~valid~base64")
	assert.Error(t, err)
}

func TestNegotiatorSubprotocols(t *testing.T) {
	n := NewNegotiator(Credential{Token: "secret-token", UserID: "u1", RestaurantID: "r1"})

	protos := n.Subprotocols()
	require.Len(t, protos, 1)

	decoded, err := DecodeToken(protos[0])
	require.NoError(t, err)
	assert.Equal(t, "secret-token", decoded)
}

func TestNegotiatorAuthenticateEnvelope(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	n := NewNegotiator(Credential{Token: "tok", UserID: "u7", RestaurantID: "r42"})

	env := n.AuthenticateEnvelope(now)
	assert.Equal(t, envelope.TypeAuthenticate, env.Type)
	assert.Equal(t, int64(1700000000000), env.Timestamp)
	assert.Equal(t, "r42", env.RestaurantID)

	var data envelope.AuthenticateData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "tok", data.Token)
	assert.Equal(t, "u7", data.UserID)
	assert.Equal(t, "r42", data.RestaurantID)
	assert.Equal(t, int64(1700000000000), data.Timestamp)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		code      int
		reason    string
		sinceOpen time.Duration
		want      FailureKind
	}{
		{
			name:      "policy violation",
			code:      1008,
			reason:    "",
			sinceOpen: time.Minute,
			want:      FailureAuth,
		},
		{
			name:      "application reserved low",
			code:      4000,
			reason:    "",
			sinceOpen: time.Minute,
			want:      FailureAuth,
		},
		{
			name:      "application reserved high",
			code:      4999,
			reason:    "",
			sinceOpen: time.Minute,
			want:      FailureAuth,
		},
		{
			name:      "reason mentions token expiry",
			code:      1000,
			reason:    "Token Expired",
			sinceOpen: time.Hour,
			want:      FailureAuth,
		},
		{
			name:      "reason mentions 403",
			code:      1011,
			reason:    "upstream returned 403",
			sinceOpen: time.Minute,
			want:      FailureAuth,
		},
		{
			name:      "reason mentions unauthorized mixed case",
			code:      1002,
			reason:    "UNAUTHORIZED client",
			sinceOpen: time.Second,
			want:      FailureAuth,
		},
		{
			name:      "abnormal close right after open",
			code:      1006,
			reason:    "",
			sinceOpen: 500 * time.Millisecond,
			want:      FailureAuth,
		},
		{
			name:      "abnormal close at window edge",
			code:      1006,
			reason:    "",
			sinceOpen: QuickFailureWindow,
			want:      FailureAuth,
		},
		{
			name:      "abnormal close after long session",
			code:      1006,
			reason:    "",
			sinceOpen: 10 * time.Minute,
			want:      FailureTransient,
		},
		{
			name:      "abnormal close quick but with reason",
			code:      1006,
			reason:    "read tcp: connection reset by peer",
			sinceOpen: 100 * time.Millisecond,
			want:      FailureTransient,
		},
		{
			name:      "server going away",
			code:      1001,
			reason:    "going away",
			sinceOpen: 10 * time.Minute,
			want:      FailureTransient,
		},
		{
			name:      "normal closure",
			code:      1000,
			reason:    "",
			sinceOpen: time.Minute,
			want:      FailureTransient,
		},
		{
			name:      "internal server error",
			code:      1011,
			reason:    "internal error",
			sinceOpen: time.Minute,
			want:      FailureTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.code, tt.reason, tt.sinceOpen)
			assert.Equal(t, tt.want, got, "Classify(%d, %q, %v)", tt.code, tt.reason, tt.sinceOpen)
		})
	}
}

func TestClassifyDialError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		want   FailureKind
	}{
		{name: "unauthorized status", err: assert.AnError, status: 401, want: FailureAuth},
		{name: "forbidden status", err: assert.AnError, status: 403, want: FailureAuth},
		{name: "server error status", err: assert.AnError, status: 500, want: FailureTransient},
		{name: "no response", err: assert.AnError, status: 0, want: FailureTransient},
		{name: "error text names token expiry", err: errors.New("refused: token expired"), status: 0, want: FailureAuth},
		{name: "plain dial timeout", err: errors.New("context deadline exceeded"), status: 0, want: FailureTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyDialError(tt.err, tt.status)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFailureKindString(t *testing.T) {
	assert.Equal(t, "transient", FailureTransient.String())
	assert.Equal(t, "auth", FailureAuth.String())
	assert.Equal(t, "unknown", FailureKind(99).String())
}
