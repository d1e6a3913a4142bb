package payments

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/monedita/pkg/billing"
)

// SourceDetails describes a tokenized card handed over by the checkout flow
type SourceDetails struct {
	Token        string `json:"token"`
	CustomerRef  string `json:"customer_ref,omitempty"`
	CardBrand    string `json:"card_brand,omitempty"`
	CardLastFour string `json:"card_last_four,omitempty"`
}

// Validate checks the required fields
func (d SourceDetails) Validate() error {
	if strings.TrimSpace(d.Token) == "" {
		return fmt.Errorf("payment source token is required")
	}
	if d.CardLastFour != "" && len(d.CardLastFour) != 4 {
		return fmt.Errorf("card_last_four must be 4 digits")
	}
	return nil
}

// RegisterSource stores or replaces the user's payment source as active
func (s *RecurringService) RegisterSource(ctx context.Context, userID string, details SourceDetails) (*billing.PaymentSource, error) {
	if err := details.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	source := &billing.PaymentSource{
		UserID:       userID,
		Token:        details.Token,
		CustomerRef:  details.CustomerRef,
		CardBrand:    details.CardBrand,
		CardLastFour: details.CardLastFour,
		Status:       billing.PaymentSourceActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.SavePaymentSource(ctx, source); err != nil {
		return nil, fmt.Errorf("failed to save payment source: %w", err)
	}
	return source, nil
}

// CancelSource stops the source from being charged. The record is kept.
func (s *RecurringService) CancelSource(ctx context.Context, userID string) error {
	if err := s.store.UpdatePaymentSourceStatus(ctx, userID, billing.PaymentSourceCancelled); err != nil {
		return fmt.Errorf("failed to cancel payment source: %w", err)
	}
	return nil
}

// ReactivateSource makes a cancelled source chargeable again
func (s *RecurringService) ReactivateSource(ctx context.Context, userID string) error {
	if err := s.store.UpdatePaymentSourceStatus(ctx, userID, billing.PaymentSourceActive); err != nil {
		return fmt.Errorf("failed to reactivate payment source: %w", err)
	}
	return nil
}
