package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/gateway"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
	"github.com/prasetyow/freelance_market_be/internal/services/wallet"
)

type stubGateway struct {
	paySuccess    bool
	payErr        error
	refundSuccess bool
	refundErr     error
	payCalls      int
	refundCalls   int
}

func (g *stubGateway) ProcessPayment(ctx context.Context, req gateway.PaymentRequest) (gateway.PaymentResult, error) {
	g.payCalls++
	if g.payErr != nil {
		return gateway.PaymentResult{}, g.payErr
	}
	if !g.paySuccess {
		return gateway.PaymentResult{Success: false, Message: "card declined"}, nil
	}
	return gateway.PaymentResult{Success: true, TransactionID: fmt.Sprintf("tx_%d", g.payCalls)}, nil
}

func (g *stubGateway) RefundPayment(ctx context.Context, gatewayTxID string, amount decimal.Decimal) (gateway.RefundResult, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return gateway.RefundResult{}, g.refundErr
	}
	if !g.refundSuccess {
		return gateway.RefundResult{Success: false, Message: "refund rejected"}, nil
	}
	return gateway.RefundResult{Success: true, RefundID: fmt.Sprintf("rf_%d", g.refundCalls)}, nil
}

type recordingPublisher struct {
	events []notify.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev notify.Event) {
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) typesFor(userID uuid.UUID) []models.NotificationType {
	var out []models.NotificationType
	for _, ev := range p.events {
		if ev.UserID == userID {
			out = append(out, ev.Type)
		}
	}
	return out
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Job{},
		&models.Bid{},
		&models.Contract{},
		&models.Transaction{},
		&models.Notification{},
	))
	return db
}

type fixture struct {
	svc        *Service
	db         *gorm.DB
	gw         *stubGateway
	pub        *recordingPublisher
	client     models.User
	freelancer models.User
	job        models.Job
	contract   models.Contract
}

// newFixture seeds a client, a freelancer and a job whose bid was already
// accepted at 1000.
func newFixture(t *testing.T, feePercent string) *fixture {
	t.Helper()
	db := openTestDB(t)
	gw := &stubGateway{paySuccess: true, refundSuccess: true}
	pub := &recordingPublisher{}
	fee, err := decimal.NewFromString(feePercent)
	require.NoError(t, err)
	svc := NewService(db, gw, wallet.NewService(), pub, fee, time.Second)

	client := models.User{Name: "Client", Email: "client@example.com", Password: "x", Role: models.RoleClient, IsActive: true}
	freelancer := models.User{Name: "Dev", Email: "dev@example.com", Password: "x", Role: models.RoleFreelancer, IsActive: true}
	require.NoError(t, db.Create(&client).Error)
	require.NoError(t, db.Create(&freelancer).Error)

	bidID := uuid.New()
	now := time.Now()
	job := models.Job{
		Title:       "Build an API",
		Description: "REST backend",
		ClientID:    client.ID,
		Budget:      models.Budget{Type: models.BudgetFixed, Fixed: decimal.NewFromInt(1200)},
		Duration:    models.DurationOneTwoWeeks,
		Status:      models.JobStatusInProgress,
		SelectedFreelancer: models.SelectedFreelancer{
			FreelancerID: &freelancer.ID,
			BidID:        &bidID,
			AcceptedAt:   &now,
		},
	}
	require.NoError(t, db.Create(&job).Error)

	contract := models.Contract{
		JobID:        job.ID,
		ClientID:     client.ID,
		FreelancerID: freelancer.ID,
		BidID:        bidID,
		Terms:        models.ContractTerms{Price: decimal.NewFromInt(1000)},
		Status:       models.ContractStatusActive,
	}
	require.NoError(t, db.Create(&contract).Error)

	return &fixture{svc: svc, db: db, gw: gw, pub: pub, client: client, freelancer: freelancer, job: job, contract: contract}
}

func (f *fixture) reloadJob(t *testing.T) models.Job {
	t.Helper()
	var job models.Job
	require.NoError(t, f.db.First(&job, "id = ?", f.job.ID).Error)
	return job
}

func (f *fixture) reloadUser(t *testing.T, id uuid.UUID) models.User {
	t.Helper()
	var u models.User
	require.NoError(t, f.db.First(&u, "id = ?", id).Error)
	return u
}

func (f *fixture) transactions(t *testing.T, userID uuid.UUID) []models.Transaction {
	t.Helper()
	var trxs []models.Transaction
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&trxs).Error)
	return trxs
}

func TestFundJob(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	job, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)
	require.True(t, job.Escrow.Funded)
	require.True(t, job.Escrow.Amount.Equal(decimal.NewFromInt(1000)))

	stored := f.reloadJob(t)
	require.True(t, stored.Escrow.Funded)
	require.False(t, stored.Escrow.Released)
	require.True(t, stored.Escrow.Amount.Equal(decimal.NewFromInt(1000)))

	trxs := f.transactions(t, f.client.ID)
	require.Len(t, trxs, 1)
	require.Equal(t, models.TrxEscrowHold, trxs[0].Type)
	require.True(t, trxs[0].Amount.Equal(decimal.NewFromInt(-1000)))
	require.Equal(t, models.TrxStatusCompleted, trxs[0].Status)

	md, err := trxs[0].DecodeMetadata()
	require.NoError(t, err)
	require.Equal(t, "tx_1", md.PaymentGatewayID)

	client := f.reloadUser(t, f.client.ID)
	require.True(t, client.Wallet.TotalSpent.Equal(decimal.NewFromInt(1000)))

	require.Equal(t, []models.NotificationType{models.NotifJobFunded}, f.pub.typesFor(f.freelancer.ID))
}

func TestFundOpenJobBeforeBidAccepted(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	open := models.Job{
		Title:       "Logo design",
		Description: "Brand refresh",
		ClientID:    f.client.ID,
		Budget:      models.Budget{Type: models.BudgetFixed, Fixed: decimal.NewFromInt(500)},
		Duration:    models.DurationOneTwoWeeks,
		Status:      models.JobStatusOpen,
	}
	require.NoError(t, f.db.Create(&open).Error)

	// No accepted bid, no contract: funding must still go through.
	job, err := f.svc.FundJob(ctx, open.ID, f.client.ID, decimal.NewFromInt(500), "card")
	require.NoError(t, err)
	require.True(t, job.Escrow.Funded)
	require.True(t, job.Escrow.Amount.Equal(decimal.NewFromInt(500)))

	var stored models.Job
	require.NoError(t, f.db.First(&stored, "id = ?", open.ID).Error)
	require.True(t, stored.Escrow.Funded)
	require.Equal(t, models.JobStatusOpen, stored.Status)

	var hold models.Transaction
	require.NoError(t, f.db.First(&hold, "user_id = ? AND type = ?", f.client.ID, models.TrxEscrowHold).Error)
	require.True(t, hold.Amount.Equal(decimal.NewFromInt(-500)))

	// Nobody to notify yet.
	require.Empty(t, f.pub.events)
}

func TestFundJobRequiresPositiveAmount(t *testing.T) {
	f := newFixture(t, "10")

	_, err := f.svc.FundJob(context.Background(), f.job.ID, f.client.ID, decimal.Zero, "card")
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 0, f.gw.payCalls)
}

func TestFundJobDeclinedLeavesNoTrace(t *testing.T) {
	f := newFixture(t, "10")
	f.gw.paySuccess = false

	_, err := f.svc.FundJob(context.Background(), f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.ErrorIs(t, err, ErrPaymentDeclined)

	stored := f.reloadJob(t)
	require.False(t, stored.Escrow.Funded)
	require.Empty(t, f.transactions(t, f.client.ID))
	require.Empty(t, f.pub.events)
}

func TestFundJobGatewayErrorIsIndeterminate(t *testing.T) {
	f := newFixture(t, "10")
	f.gw.payErr = errors.New("connection reset")

	_, err := f.svc.FundJob(context.Background(), f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrPaymentDeclined)
	require.False(t, f.reloadJob(t).Escrow.Funded)
}

func TestFundJobTwiceRejected(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)

	_, err = f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.ErrorIs(t, err, ErrAlreadyFunded)
	// The second attempt must never reach the gateway.
	require.Equal(t, 1, f.gw.payCalls)
	require.Len(t, f.transactions(t, f.client.ID), 1)
}

func TestFundJobAuthorization(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.freelancer.ID, decimal.NewFromInt(1000), "card")
	require.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.svc.FundJob(ctx, uuid.New(), f.client.ID, decimal.NewFromInt(1000), "card")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseFunds(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)

	job, err := f.svc.ReleaseFunds(ctx, f.job.ID, f.client.ID)
	require.NoError(t, err)
	require.True(t, job.Escrow.Released)
	require.Equal(t, models.JobStatusCompleted, job.Status)

	stored := f.reloadJob(t)
	require.True(t, stored.Escrow.Released)
	require.Equal(t, models.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.Completion.CompletedAt)

	var contract models.Contract
	require.NoError(t, f.db.First(&contract, "job_id = ?", f.job.ID).Error)
	require.Equal(t, models.ContractStatusCompleted, contract.Status)

	// Payout plus fee must reconstruct the escrow amount exactly.
	trxs := f.transactions(t, f.freelancer.ID)
	require.Len(t, trxs, 2)
	require.Equal(t, models.TrxEscrowRelease, trxs[0].Type)
	require.Equal(t, models.TrxFee, trxs[1].Type)
	payout := trxs[0].Amount
	fee := trxs[1].Amount
	require.True(t, payout.Equal(decimal.NewFromInt(900)), "payout = %s", payout)
	require.True(t, fee.Equal(decimal.NewFromInt(100)), "fee = %s", fee)
	require.True(t, payout.Add(fee).Equal(decimal.NewFromInt(1000)))

	freelancer := f.reloadUser(t, f.freelancer.ID)
	require.True(t, freelancer.Wallet.Balance.Equal(decimal.NewFromInt(900)))
	require.True(t, freelancer.Wallet.TotalEarned.Equal(decimal.NewFromInt(900)))

	require.Equal(t, []models.NotificationType{models.NotifJobFunded, models.NotifPaymentReceived}, f.pub.typesFor(f.freelancer.ID))
	require.Equal(t, []models.NotificationType{models.NotifJobCompleted}, f.pub.typesFor(f.client.ID))
}

func TestReleaseUnfundedRejected(t *testing.T) {
	f := newFixture(t, "10")

	_, err := f.svc.ReleaseFunds(context.Background(), f.job.ID, f.client.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReleaseTwiceRejected(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)
	_, err = f.svc.ReleaseFunds(ctx, f.job.ID, f.client.ID)
	require.NoError(t, err)

	_, err = f.svc.ReleaseFunds(ctx, f.job.ID, f.client.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	// Still exactly one payout.
	var count int64
	f.db.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ?", f.freelancer.ID, models.TrxEscrowRelease).
		Count(&count)
	require.EqualValues(t, 1, count)
}

func TestZeroFeeReleasesFullAmount(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)
	_, err = f.svc.ReleaseFunds(ctx, f.job.ID, f.client.ID)
	require.NoError(t, err)

	trxs := f.transactions(t, f.freelancer.ID)
	require.Len(t, trxs, 2)
	require.Equal(t, models.TrxEscrowRelease, trxs[0].Type)
	require.True(t, trxs[0].Amount.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, models.TrxFee, trxs[1].Type)
	require.True(t, trxs[1].Amount.IsZero())
}

func TestRefundJob(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)

	job, err := f.svc.RefundJob(ctx, f.job.ID, f.client.ID)
	require.NoError(t, err)
	require.False(t, job.Escrow.Funded)
	require.Equal(t, models.JobStatusCancelled, job.Status)

	stored := f.reloadJob(t)
	require.False(t, stored.Escrow.Funded)
	require.True(t, stored.Escrow.Amount.Equal(decimal.Zero))
	require.Equal(t, models.JobStatusCancelled, stored.Status)

	var contract models.Contract
	require.NoError(t, f.db.First(&contract, "job_id = ?", f.job.ID).Error)
	require.Equal(t, models.ContractStatusCancelled, contract.Status)

	trxs := f.transactions(t, f.client.ID)
	require.Len(t, trxs, 2)
	require.Equal(t, models.TrxRefund, trxs[1].Type)
	require.True(t, trxs[1].Amount.Equal(decimal.NewFromInt(1000)))

	client := f.reloadUser(t, f.client.ID)
	require.True(t, client.Wallet.TotalSpent.Equal(decimal.Zero))
	require.True(t, client.Wallet.Balance.Equal(decimal.NewFromInt(1000)))

	require.Equal(t, []models.NotificationType{models.NotifJobFunded, models.NotifJobCancelled}, f.pub.typesFor(f.freelancer.ID))
}

func TestRefundAfterReleaseRejected(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)
	_, err = f.svc.ReleaseFunds(ctx, f.job.ID, f.client.ID)
	require.NoError(t, err)

	_, err = f.svc.RefundJob(ctx, f.job.ID, f.client.ID)
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, 0, f.gw.refundCalls)
}

func TestReleaseAfterRefundRejected(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)
	_, err = f.svc.RefundJob(ctx, f.job.ID, f.client.ID)
	require.NoError(t, err)

	_, err = f.svc.ReleaseFunds(ctx, f.job.ID, f.client.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestMilestoneFlow(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)

	ms := []models.Milestone{
		{Title: "Design", Amount: decimal.NewFromInt(400)},
		{Title: "Build", Amount: decimal.NewFromInt(600)},
	}
	contract, err := f.svc.CreateMilestoneEscrow(ctx, f.contract.ID, f.client.ID, ms)
	require.NoError(t, err)
	stored, err := contract.Milestones()
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.False(t, stored[0].Completed)

	contract, err = f.svc.ReleaseMilestone(ctx, f.contract.ID, f.client.ID, 0)
	require.NoError(t, err)
	require.Equal(t, models.ContractStatusActive, contract.Status)

	// 400 at 10% fee pays out 360.
	freelancer := f.reloadUser(t, f.freelancer.ID)
	require.True(t, freelancer.Wallet.Balance.Equal(decimal.NewFromInt(360)))

	_, err = f.svc.ReleaseMilestone(ctx, f.contract.ID, f.client.ID, 0)
	require.ErrorIs(t, err, ErrAlreadyCompleted)

	contract, err = f.svc.ReleaseMilestone(ctx, f.contract.ID, f.client.ID, 1)
	require.NoError(t, err)
	require.Equal(t, models.ContractStatusCompleted, contract.Status)

	job := f.reloadJob(t)
	require.True(t, job.Escrow.Released)
	require.Equal(t, models.JobStatusCompleted, job.Status)

	// 360 + 540 across both milestones.
	freelancer = f.reloadUser(t, f.freelancer.ID)
	require.True(t, freelancer.Wallet.Balance.Equal(decimal.NewFromInt(900)))
}

func TestMilestoneSumMustMatchPrice(t *testing.T) {
	f := newFixture(t, "10")

	_, err := f.svc.CreateMilestoneEscrow(context.Background(), f.contract.ID, f.client.ID, []models.Milestone{
		{Title: "Half", Amount: decimal.NewFromInt(400)},
	})
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestReleaseMilestoneOutOfRange(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)
	_, err = f.svc.CreateMilestoneEscrow(ctx, f.contract.ID, f.client.ID, []models.Milestone{
		{Title: "All", Amount: decimal.NewFromInt(1000)},
	})
	require.NoError(t, err)

	_, err = f.svc.ReleaseMilestone(ctx, f.contract.ID, f.client.ID, 3)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVerifyEscrowConditions(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	ready, err := f.svc.VerifyEscrowConditions(ctx, f.job.ID)
	require.NoError(t, err)
	require.False(t, ready, "unfunded escrow must not be ready")

	_, err = f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)

	ready, err = f.svc.VerifyEscrowConditions(ctx, f.job.ID)
	require.NoError(t, err)
	require.True(t, ready)

	// A disputed contract blocks release.
	require.NoError(t, f.db.Model(&models.Contract{}).
		Where("id = ?", f.contract.ID).
		Update("status", models.ContractStatusDisputed).Error)
	ready, err = f.svc.VerifyEscrowConditions(ctx, f.job.ID)
	require.NoError(t, err)
	require.False(t, ready)
}

func TestAutoReleaseIfReady(t *testing.T) {
	f := newFixture(t, "10")
	ctx := context.Background()

	_, err := f.svc.AutoReleaseIfReady(ctx, f.job.ID)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.FundJob(ctx, f.job.ID, f.client.ID, decimal.NewFromInt(1000), "card")
	require.NoError(t, err)

	job, err := f.svc.AutoReleaseIfReady(ctx, f.job.ID)
	require.NoError(t, err)
	require.True(t, job.Escrow.Released)
}
