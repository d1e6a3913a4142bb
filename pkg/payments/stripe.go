package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v82"
)

// StripeGateway charges saved cards with off-session PaymentIntents
type StripeGateway struct {
	client *stripe.Client
}

// StripeOption configures the Stripe API backend
type StripeOption func(*stripe.BackendConfig)

// WithStripeURL points the gateway at another API host
func WithStripeURL(url string) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.URL = stripe.String(url)
	}
}

// WithStripeLogger routes the client's own logging through logger
func WithStripeLogger(logger *logrus.Logger) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.LeveledLogger = logger
	}
}

// WithStripeNetworkRetries sets how often the client retries failed requests
func WithStripeNetworkRetries(n int64) StripeOption {
	return func(cfg *stripe.BackendConfig) {
		cfg.MaxNetworkRetries = stripe.Int64(n)
	}
}

// NewStripeGateway creates a StripeGateway with the given secret key
func NewStripeGateway(apiKey string, opts ...StripeOption) *StripeGateway {
	cfg := &stripe.BackendConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	client := stripe.NewClient(apiKey, stripe.WithBackends(stripe.NewBackendsWithConfig(cfg)))
	return &StripeGateway{client: client}
}

// Charge creates and confirms a PaymentIntent for the stored payment method.
// Card declines are returned as an unapproved response; other API failures as errors.
func (g *StripeGateway) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(req.SourceToken),
		OffSession:    stripe.Bool(true),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	if req.CustomerRef != "" {
		params.Customer = stripe.String(req.CustomerRef)
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("reference", req.Reference)

	pi, err := g.client.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			reason := string(stripeErr.DeclineCode)
			if reason == "" {
				reason = stripeErr.Msg
			}
			return &ChargeResponse{Approved: false, DeclineReason: reason}, nil
		}
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return &ChargeResponse{
			Approved:      false,
			TransactionID: pi.ID,
			DeclineReason: fmt.Sprintf("payment intent %s", pi.Status),
		}, nil
	}
	return &ChargeResponse{Approved: true, TransactionID: pi.ID}, nil
}
