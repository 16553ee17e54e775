package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MockGateway simulates an external processor: a fixed artificial delay, then
// success with a configurable probability (0.9 in the default setup). Refunds
// always succeed and are idempotent.
type MockGateway struct {
	SuccessRate float64
	Latency     time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewMockGateway(successRate float64, latency time.Duration) *MockGateway {
	return &MockGateway{
		SuccessRate: successRate,
		Latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *MockGateway) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if err := g.wait(ctx); err != nil {
		return PaymentResult{}, err
	}

	if !g.roll() {
		return PaymentResult{Success: false, Message: "Payment failed - mock decline"}, nil
	}

	return PaymentResult{
		Success:       true,
		TransactionID: fmt.Sprintf("mock_tx_%d_%s", time.Now().UnixMilli(), g.suffix()),
		Message:       "Payment processed successfully",
	}, nil
}

func (g *MockGateway) RefundPayment(ctx context.Context, gatewayTxID string, amount decimal.Decimal) (RefundResult, error) {
	if err := g.wait(ctx); err != nil {
		return RefundResult{}, err
	}

	return RefundResult{
		Success:  true,
		RefundID: fmt.Sprintf("mock_refund_%d", time.Now().UnixMilli()),
		Message:  "Refund processed successfully",
	}, nil
}

// wait blocks for the simulated processing delay. A cancelled or expired
// context counts as a failed call.
func (g *MockGateway) wait(ctx context.Context) error {
	if g.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(g.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (g *MockGateway) roll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < g.SuccessRate
}

func (g *MockGateway) suffix() string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	g.mu.Lock()
	defer g.mu.Unlock()
	b := make([]byte, 9)
	for i := range b {
		b[i] = letters[g.rng.Intn(len(letters))]
	}
	return string(b)
}
