package payments

import (
	"context"
	"errors"
)

// ErrGatewayNotConfigured is returned by DeclineGateway
var ErrGatewayNotConfigured = errors.New("payment gateway not configured")

// ChargeRequest is one off-session charge against a stored payment source
type ChargeRequest struct {
	UserID         string
	Reference      string
	IdempotencyKey string
	AmountCents    int64
	Currency       string
	CustomerRef    string
	SourceToken    string
	Description    string
}

// ChargeResponse is the processor's answer. A decline is a normal response,
// not an error.
type ChargeResponse struct {
	Approved      bool
	TransactionID string
	DeclineReason string
}

// Gateway charges stored payment sources
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error)
}

// DeclineGateway declines every charge. It is used when no processor is configured.
type DeclineGateway struct{}

// Charge always fails with ErrGatewayNotConfigured
func (DeclineGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	return nil, ErrGatewayNotConfigured
}
