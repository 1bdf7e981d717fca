// Package paylog records settled payments. The log is an audit trail, not a
// ledger: writers treat failures as non-fatal and never block delivery of a
// paid response on a successful write.
package paylog

import (
	"context"
	"time"
)

// Settlement is one settled payment against one endpoint.
type Settlement struct {
	ID               string            `json:"id"`
	Endpoint         string            `json:"endpoint"`
	Payer            string            `json:"payer"`
	Asset            string            `json:"asset"`
	Amount           string            `json:"amount"`
	TxHash           string            `json:"tx_hash"`
	RequestMetadata  map[string]string `json:"request_metadata,omitempty"`
	ResponseMetadata map[string]string `json:"response_metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// Store persists settlements.
type Store interface {
	// Record writes one settlement.
	Record(ctx context.Context, s Settlement) error

	// Recent returns up to limit settlements, newest first.
	Recent(ctx context.Context, limit int) ([]Settlement, error)
}
