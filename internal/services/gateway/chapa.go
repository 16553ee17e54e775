package gateway

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// ChapaGateway targets the Chapa processor (ETB settlement). Same contract as
// StripeGateway: fail closed when unconfigured.
type ChapaGateway struct {
	Client    *http.Client
	SecretKey string
	BaseURL   string
}

func NewChapaGateway() *ChapaGateway {
	return &ChapaGateway{
		Client:    &http.Client{Timeout: 15 * time.Second},
		SecretKey: os.Getenv("CHAPA_SECRET_KEY"),
		BaseURL:   "https://api.chapa.co/v1",
	}
}

func (g *ChapaGateway) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if g.SecretKey == "" {
		return PaymentResult{}, errors.New("chapa gateway selected but CHAPA_SECRET_KEY is not set")
	}
	return PaymentResult{}, errors.New("chapa integration not implemented")
}

func (g *ChapaGateway) RefundPayment(ctx context.Context, gatewayTxID string, amount decimal.Decimal) (RefundResult, error) {
	if g.SecretKey == "" {
		return RefundResult{}, errors.New("chapa gateway selected but CHAPA_SECRET_KEY is not set")
	}
	return RefundResult{}, errors.New("chapa integration not implemented")
}
