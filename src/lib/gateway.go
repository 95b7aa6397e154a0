package lib

import (
	"context"
	"rentals/src/types"
)

type PaymentRequest struct {
	Amount         types.Money
	Currency       string
	PaymentMethod  string
	IdempotencyKey string
	Metadata       map[string]string
}

type TransferRequest struct {
	Destination    string
	Amount         types.Money
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentGateway is the external processor. Every call carries an
// idempotency key so callers can retry safely.
type PaymentGateway interface {
	Authorize(ctx context.Context, req PaymentRequest) (holdRef string, err error)
	Capture(ctx context.Context, holdRef string, amount types.Money, idempotencyKey string) (string, error)
	Release(ctx context.Context, holdRef string, idempotencyKey string) error
	Charge(ctx context.Context, req PaymentRequest) (paymentRef string, err error)
	Refund(ctx context.Context, paymentRef string, amount types.Money, idempotencyKey string, metadata map[string]string) (refundRef string, err error)
	Transfer(ctx context.Context, req TransferRequest) (transferRef string, err error)
}
