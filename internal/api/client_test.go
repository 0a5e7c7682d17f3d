package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"log/slog"

	"github.com/tablekit/poslink/internal/auth"
)

func testTokens(token string) auth.TokenSource {
	return auth.Static(auth.Credential{
		Token:        token,
		UserID:       "user-1",
		RestaurantID: "rest-1",
	})
}

// TestNewClient tests client construction with various options.
func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://api.example.com", testTokens("tok"))

		if c.baseURL != "https://api.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://api.example.com")
		}
		if c.httpClient.Timeout != 10*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 10*time.Second)
		}
		if c.maxRetries != 3 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 3)
		}
		if c.retryBackoff != time.Second {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, time.Second)
		}
		if c.logger == nil {
			t.Error("logger should not be nil")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		customClient := &http.Client{Timeout: 3 * time.Second}
		c := NewClient("https://api.example.com", testTokens("tok"),
			WithTimeout(15*time.Second),
			WithRetries(5, 500*time.Millisecond),
			WithLogger(logger),
			WithHTTPClient(customClient),
		)
		if c.httpClient != customClient {
			t.Error("custom HTTP client not set")
		}
		if c.maxRetries != 5 {
			t.Errorf("maxRetries = %d, want %d", c.maxRetries, 5)
		}
		if c.retryBackoff != 500*time.Millisecond {
			t.Errorf("retryBackoff = %v, want %v", c.retryBackoff, 500*time.Millisecond)
		}
		if c.logger != logger {
			t.Error("logger not set correctly")
		}
	})
}

// TestAPIError tests the APIError type.
func TestAPIError(t *testing.T) {
	t.Run("Error method", func(t *testing.T) {
		err := &APIError{
			StatusCode: 404,
			Message:    "Not Found",
		}
		expected := "api error 404: Not Found"
		if err.Error() != expected {
			t.Errorf("Error() = %q, want %q", err.Error(), expected)
		}
	})

	t.Run("IsRetryable", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{500, true},
			{502, true},
			{503, true},
			{429, true},
			{400, false},
			{401, false},
			{403, false},
			{404, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsRetryable(); got != tt.expected {
				t.Errorf("IsRetryable() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})

	t.Run("IsAuthFailure", func(t *testing.T) {
		tests := []struct {
			code     int
			expected bool
		}{
			{401, true},
			{403, true},
			{400, false},
			{500, false},
		}

		for _, tt := range tests {
			err := &APIError{StatusCode: tt.code}
			if got := err.IsAuthFailure(); got != tt.expected {
				t.Errorf("IsAuthFailure() for status %d = %v, want %v", tt.code, got, tt.expected)
			}
		}
	})
}

// TestActiveOrders tests the active-orders endpoint wrapper.
func TestActiveOrders(t *testing.T) {
	t.Run("successful fetch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/api/v1/orders/active" {
				t.Errorf("path = %q, want %q", r.URL.Path, "/api/v1/orders/active")
			}
			if got := r.URL.Query().Get("restaurant_id"); got != "rest-1" {
				t.Errorf("restaurant_id = %q, want %q", got, "rest-1")
			}
			if got := r.Header.Get("Authorization"); got != "Bearer tok" {
				t.Errorf("Authorization header = %q, want %q", got, "Bearer tok")
			}

			resp := ActiveOrdersResponse{
				Orders: []Order{
					{ID: "ord-1", RestaurantID: "rest-1", Status: "pending", TotalCents: 2350},
					{ID: "ord-2", RestaurantID: "rest-1", Status: "preparing"},
				},
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		c := NewClient(server.URL, testTokens("tok"))
		orders, err := c.ActiveOrders(context.Background(), "rest-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 2 {
			t.Fatalf("got %d orders, want 2", len(orders))
		}
		if orders[0].ID != "ord-1" {
			t.Errorf("orders[0].ID = %q, want %q", orders[0].ID, "ord-1")
		}
		if orders[0].TotalCents != 2350 {
			t.Errorf("orders[0].TotalCents = %d, want %d", orders[0].TotalCents, 2350)
		}
	})

	t.Run("missing restaurant id", func(t *testing.T) {
		c := NewClient("http://unused", testTokens("tok"))
		if _, err := c.ActiveOrders(context.Background(), ""); err == nil {
			t.Fatal("expected error for empty restaurant id")
		}
	})

	t.Run("401 is not retried", func(t *testing.T) {
		var requests atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		c := NewClient(server.URL, testTokens("expired"), WithRetries(3, 10*time.Millisecond))
		_, err := c.ActiveOrders(context.Background(), "rest-1")
		if err == nil {
			t.Fatal("expected error, got nil")
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected *APIError, got %T", err)
		}
		if !apiErr.IsAuthFailure() {
			t.Errorf("IsAuthFailure() = false, want true")
		}
		if got := requests.Load(); got != 1 {
			t.Errorf("server saw %d requests, want 1", got)
		}
	})

	t.Run("5xx is retried", func(t *testing.T) {
		var requests atomic.Int64
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if requests.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(ActiveOrdersResponse{})
		}))
		defer server.Close()

		c := NewClient(server.URL, testTokens("tok"), WithRetries(3, 5*time.Millisecond))
		orders, err := c.ActiveOrders(context.Background(), "rest-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(orders) != 0 {
			t.Errorf("got %d orders, want 0", len(orders))
		}
		if got := requests.Load(); got != 3 {
			t.Errorf("server saw %d requests, want 3", got)
		}
	})

	t.Run("refreshed token takes effect per request", func(t *testing.T) {
		var seen []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = append(seen, r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(ActiveOrdersResponse{})
		}))
		defer server.Close()

		token := "first"
		source := auth.TokenSourceFunc(func(ctx context.Context) (auth.Credential, error) {
			return auth.Credential{Token: token, UserID: "u1", RestaurantID: "rest-1"}, nil
		})

		c := NewClient(server.URL, source)
		if _, err := c.ActiveOrders(context.Background(), "rest-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		token = "second"
		if _, err := c.ActiveOrders(context.Background(), "rest-1"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(seen) != 2 || seen[0] != "Bearer first" || seen[1] != "Bearer second" {
			t.Errorf("Authorization headers = %v, want [Bearer first, Bearer second]", seen)
		}
	})

	t.Run("context cancellation", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			json.NewEncoder(w).Encode(ActiveOrdersResponse{})
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		c := NewClient(server.URL, testTokens("tok"))
		if _, err := c.ActiveOrders(ctx, "rest-1"); err == nil {
			t.Fatal("expected error from cancelled context")
		}
	})
}
