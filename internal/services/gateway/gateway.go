package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest is what the platform hands to a payment processor when a
// client funds a job or tops up a wallet.
type PaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Method      string
	Description string
}

type PaymentResult struct {
	Success       bool
	TransactionID string
	Message       string
}

type RefundResult struct {
	Success  bool
	RefundID string
	Message  string
}

// Gateway abstracts the payment processor. A non-success result means the
// charge cleanly did not happen and no compensation is needed. A returned
// error means the outcome is indeterminate: the caller must surface it for
// reconciliation, never retry automatically.
type Gateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	RefundPayment(ctx context.Context, gatewayTxID string, amount decimal.Decimal) (RefundResult, error)
}

// New selects the gateway implementation from configuration at startup.
func New(provider string, successRate float64, latency time.Duration) Gateway {
	switch provider {
	case "stripe":
		return NewStripeGateway()
	case "chapa":
		return NewChapaGateway()
	default:
		return NewMockGateway(successRate, latency)
	}
}
