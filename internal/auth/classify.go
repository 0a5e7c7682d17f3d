package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// FailureKind categorizes a connection loss so the supervisor can choose
// between retrying and parking for fresh credentials.
type FailureKind int

const (
	// FailureTransient covers network blips, server restarts, and any
	// closure that retrying with the same credential might fix.
	FailureTransient FailureKind = iota

	// FailureAuth covers rejections that retrying cannot fix: the
	// credential itself was refused.
	FailureAuth
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// QuickFailureWindow bounds how soon after open an abnormal reason-less
// close is still treated as a handshake rejection. Some gateway stacks cut
// unauthorized sockets without a close frame, which surfaces as code 1006
// almost immediately.
const QuickFailureWindow = 2 * time.Second

// authReasonKeywords are matched case-insensitively against close reasons.
var authReasonKeywords = []string{
	"auth",
	"unauthorized",
	"forbidden",
	"401",
	"403",
	"invalid token",
	"token expired",
}

// Classify inspects a close code, its reason text, and how long the
// connection had been open, and decides whether the loss looks like a
// credential rejection or an ordinary network failure.
func Classify(code int, reason string, sinceOpen time.Duration) FailureKind {
	if code == websocket.ClosePolicyViolation {
		return FailureAuth
	}
	if code >= 4000 && code <= 4999 {
		return FailureAuth
	}
	lower := strings.ToLower(reason)
	for _, kw := range authReasonKeywords {
		if strings.Contains(lower, kw) {
			return FailureAuth
		}
	}
	if code == websocket.CloseAbnormalClosure && reason == "" && sinceOpen <= QuickFailureWindow {
		return FailureAuth
	}
	return FailureTransient
}

// ClassifyDialError decides what a failed handshake means. Unlike an
// established connection, a rejected dial carries the HTTP status of the
// upgrade response, so a 401 or 403 is a definitive credential rejection.
// status is 0 when the dial never produced a response.
func ClassifyDialError(err error, status int) FailureKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	}
	if err != nil {
		lower := strings.ToLower(err.Error())
		for _, kw := range authReasonKeywords {
			if strings.Contains(lower, kw) {
				return FailureAuth
			}
		}
	}
	return FailureTransient
}
