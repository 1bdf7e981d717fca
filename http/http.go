// Package http is the HTTP face of the payment protocol: header codecs for
// the three payment headers, the seller-side payment gate middleware, the
// buyer-side paying client, and the client the gate uses to reach a
// facilitator.
package http

import (
	"context"
	"net/http"
)

// Get performs a GET with automatic payment handling.
func Get(ctx context.Context, url string, client *PaymentClient) (*http.Response, error) {
	return client.GetWithPayment(ctx, url)
}

// Post performs a POST with automatic payment handling.
func Post(ctx context.Context, url string, contentType string, body []byte, client *PaymentClient) (*http.Response, error) {
	return client.PostWithPayment(ctx, url, contentType, body)
}
