// Package api provides the REST client for the order backend.
//
// The connectivity layer uses it for the polling fallback: when the socket
// path is unavailable, active orders are fetched over plain HTTP and
// replayed as business events. The bearer token is fetched from the token
// source per request, so a refreshed credential takes effect without
// rebuilding the client.
package api
