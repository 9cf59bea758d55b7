package booking

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Payments is the hold/capture/release surface the coordinator drives
// around a booking's lifecycle.
type Payments interface {
	Hold(ctx context.Context, amountMinor int64, currency string) (string, error)
	Capture(ctx context.Context, holdID string) error
	Release(ctx context.Context, holdID string) error
}

// StripePayments is a thin wrapper around stripe-go for PaymentIntent
// hold/capture/cancel flows.
type StripePayments struct{}

// NewStripePayments initializes the stripe client with the given API key.
func NewStripePayments(apiKey string) *StripePayments {
	stripe.Key = apiKey
	return &StripePayments{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
// It returns the PaymentIntent ID on success.
func (s *StripePayments) Hold(ctx context.Context, amountMinor int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripePayments) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

// Release cancels the hold on a PaymentIntent.
func (s *StripePayments) Release(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
