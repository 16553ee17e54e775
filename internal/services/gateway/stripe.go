package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// StripeGateway is the production processor slot. It refuses to operate
// without credentials instead of silently falling back to the mock.
type StripeGateway struct {
	Client    *http.Client
	SecretKey string
}

func NewStripeGateway() *StripeGateway {
	return &StripeGateway{
		Client:    &http.Client{Timeout: 15 * time.Second},
		SecretKey: os.Getenv("STRIPE_SECRET_KEY"),
	}
}

func (g *StripeGateway) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if g.SecretKey == "" {
		return PaymentResult{}, errors.New("stripe gateway selected but STRIPE_SECRET_KEY is not set")
	}
	// TODO: create and confirm a PaymentIntent once the Stripe account is provisioned.
	return PaymentResult{}, errors.New("stripe integration not implemented")
}

func (g *StripeGateway) RefundPayment(ctx context.Context, gatewayTxID string, amount decimal.Decimal) (RefundResult, error) {
	if g.SecretKey == "" {
		return RefundResult{}, errors.New("stripe gateway selected but STRIPE_SECRET_KEY is not set")
	}
	return RefundResult{}, errors.New("stripe integration not implemented")
}
