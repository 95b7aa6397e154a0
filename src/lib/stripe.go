package lib

import (
	"context"
	"fmt"
	"log"
	"rentals/src/types"

	"github.com/stripe/stripe-go/v82"
)

func NewStripeClient(apiKey string) *stripe.Client {
	return stripe.NewClient(apiKey)
}

// StripeGateway places deposit holds as manual-capture PaymentIntents and
// charges rentals as automatically captured ones.
type StripeGateway struct {
	sc *stripe.Client
}

func NewStripeGateway(sc *stripe.Client) *StripeGateway {
	return &StripeGateway{sc: sc}
}

func (g *StripeGateway) Authorize(ctx context.Context, req PaymentRequest) (string, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(int64(req.Amount)),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentMethod),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Confirm:       stripe.Bool(true),
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error authorizing hold: %s\n", err.Error())
		return "", err
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresCapture {
		return "", fmt.Errorf("payment intent %s is %s, expected requires_capture", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Capture(ctx context.Context, holdRef string, amount types.Money, idempotencyKey string) (string, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(int64(amount)),
	}
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := g.sc.V1PaymentIntents.Capture(ctx, holdRef, params)
	if err != nil {
		log.Printf("[Stripe] Error capturing %s: %s\n", holdRef, err.Error())
		return "", err
	}
	return pi.ID, nil
}

func (g *StripeGateway) Release(ctx context.Context, holdRef string, idempotencyKey string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.SetIdempotencyKey(idempotencyKey)
	_, err := g.sc.V1PaymentIntents.Cancel(ctx, holdRef, params)
	if err != nil {
		log.Printf("[Stripe] Error releasing %s: %s\n", holdRef, err.Error())
	}
	return err
}

func (g *StripeGateway) Charge(ctx context.Context, req PaymentRequest) (string, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:        stripe.Int64(int64(req.Amount)),
		Currency:      stripe.String(req.Currency),
		PaymentMethod: stripe.String(req.PaymentMethod),
		Confirm:       stripe.Bool(true),
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	pi, err := g.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error charging: %s\n", err.Error())
		return "", err
	}
	if pi.Status == stripe.PaymentIntentStatusCanceled || pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
		return "", fmt.Errorf("payment intent %s is %s", pi.ID, pi.Status)
	}
	return pi.ID, nil
}

func (g *StripeGateway) Refund(ctx context.Context, paymentRef string, amount types.Money, idempotencyKey string, metadata map[string]string) (string, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(paymentRef),
		Amount:        stripe.Int64(int64(amount)),
	}
	params.SetIdempotencyKey(idempotencyKey)
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	r, err := g.sc.V1Refunds.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error refunding %s: %s\n", paymentRef, err.Error())
		return "", err
	}
	return r.ID, nil
}

func (g *StripeGateway) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferCreateParams{
		Amount:      stripe.Int64(int64(req.Amount)),
		Currency:    stripe.String(req.Currency),
		Destination: stripe.String(req.Destination),
	}
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	t, err := g.sc.V1Transfers.Create(ctx, params)
	if err != nil {
		log.Printf("[Stripe] Error creating transfer to %s: %s\n", req.Destination, err.Error())
		return "", err
	}
	return t.ID, nil
}
