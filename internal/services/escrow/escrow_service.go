package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/gateway"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
	"github.com/prasetyow/freelance_market_be/internal/services/wallet"
)

// Service owns every movement of escrowed funds. All mutations run inside a
// single DB transaction so the job escrow flags, the ledger rows and the
// wallet balances never drift apart. Gateway calls happen BEFORE the local
// transaction: a declined charge leaves no trace, a charge that succeeded but
// failed to commit locally surfaces as a ReconciliationError.
type Service struct {
	DB             *gorm.DB
	Gateway        gateway.Gateway
	Wallet         *wallet.Service
	Notify         notify.Publisher
	FeePercent     decimal.Decimal
	GatewayTimeout time.Duration
}

func NewService(db *gorm.DB, gw gateway.Gateway, w *wallet.Service, pub notify.Publisher, feePercent decimal.Decimal, gatewayTimeout time.Duration) *Service {
	if gatewayTimeout <= 0 {
		gatewayTimeout = 30 * time.Second
	}
	return &Service{
		DB:             db,
		Gateway:        gw,
		Wallet:         w,
		Notify:         pub,
		FeePercent:     feePercent,
		GatewayTimeout: gatewayTimeout,
	}
}

// platformFee computes the cut on amount. The freelancer payout is always
// amount minus this value, so payout plus fee reconstructs amount exactly.
func (s *Service) platformFee(amount decimal.Decimal) decimal.Decimal {
	if s.FeePercent.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(s.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
}

func (s *Service) publish(ctx context.Context, ev notify.Event) {
	if s.Notify != nil {
		s.Notify.Publish(ctx, ev)
	}
}

// FundJob charges the client and places the amount in the job's escrow.
// Funding does not wait for bid acceptance: a client can fund an open job
// before choosing a freelancer. Funding is one-shot per job: a second call
// fails with ErrAlreadyFunded and never reaches the gateway.
func (s *Service) FundJob(ctx context.Context, jobID, clientID uuid.UUID, amount decimal.Decimal, method string) (*models.Job, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidState
	}

	var job models.Job
	if err := s.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, ErrNotAuthorized
	}
	if job.Escrow.Funded {
		return nil, ErrAlreadyFunded
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	result, err := s.Gateway.ProcessPayment(gwCtx, gateway.PaymentRequest{
		Amount:      amount,
		Currency:    "USD",
		Method:      method,
		Description: fmt.Sprintf("Escrow funding for job %s", job.Title),
	})
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, result.Message)
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND escrow_funded = ?", jobID, false).
			Updates(map[string]interface{}{
				"escrow_funded": true,
				"escrow_amount": amount,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyFunded
		}

		trx := models.Transaction{
			UserID:      clientID,
			Type:        models.TrxEscrowHold,
			Amount:      amount.Neg(),
			Description: fmt.Sprintf("Escrow hold for job: %s", job.Title),
			Status:      models.TrxStatusCompleted,
			CompletedAt: timePtr(time.Now()),
		}
		if err := trx.EncodeMetadata(models.TransactionMetadata{
			JobID:            &job.ID,
			PaymentGatewayID: result.TransactionID,
		}); err != nil {
			return err
		}
		if err := tx.Create(&trx).Error; err != nil {
			return err
		}

		return s.Wallet.AddSpent(tx, clientID, amount)
	})
	if err != nil {
		if err == ErrAlreadyFunded {
			return nil, err
		}
		// The charge went through but our records did not.
		return nil, &ReconciliationError{GatewayTransactionID: result.TransactionID, Err: err}
	}

	job.Escrow.Funded = true
	job.Escrow.Amount = amount

	if job.SelectedFreelancer.FreelancerID != nil {
		s.publish(ctx, notify.Event{
			Type:    models.NotifJobFunded,
			UserID:  *job.SelectedFreelancer.FreelancerID,
			Title:   "Job Funded",
			Message: fmt.Sprintf("Escrow for %q has been funded. You can start working.", job.Title),
			Data:    map[string]interface{}{"job_id": job.ID, "amount": amount},
		})
	}
	return &job, nil
}

// ReleaseFunds pays the freelancer out of a funded escrow and completes the
// job. Release and refund are mutually exclusive: once released the escrow
// can never be refunded, and vice versa.
func (s *Service) ReleaseFunds(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := s.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, ErrNotAuthorized
	}
	if !job.Escrow.Funded || job.Escrow.Released {
		return nil, ErrInvalidState
	}
	if job.SelectedFreelancer.FreelancerID == nil {
		return nil, ErrInvalidState
	}
	freelancerID := *job.SelectedFreelancer.FreelancerID

	amount := job.Escrow.Amount
	fee := s.platformFee(amount)
	payout := amount.Sub(fee)
	now := time.Now()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND escrow_funded = ? AND escrow_released = ?", jobID, true, false).
			Updates(map[string]interface{}{
				"escrow_released":         true,
				"status":                  models.JobStatusCompleted,
				"completion_completed_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidState
		}

		if err := tx.Model(&models.Contract{}).
			Where("job_id = ? AND status = ?", jobID, models.ContractStatusActive).
			Updates(map[string]interface{}{
				"status":       models.ContractStatusCompleted,
				"completed_at": now,
			}).Error; err != nil {
			return err
		}

		release := models.Transaction{
			UserID:      freelancerID,
			Type:        models.TrxEscrowRelease,
			Amount:      payout,
			Description: fmt.Sprintf("Payment for job: %s", job.Title),
			Status:      models.TrxStatusCompleted,
			CompletedAt: timePtr(now),
		}
		if err := release.EncodeMetadata(models.TransactionMetadata{JobID: &job.ID, PlatformFee: fee}); err != nil {
			return err
		}
		if err := tx.Create(&release).Error; err != nil {
			return err
		}

		// The fee row records platform revenue as a positive amount; it
		// never moves the freelancer's wallet, which only sees the payout.
		feeTrx := models.Transaction{
			UserID:      freelancerID,
			Type:        models.TrxFee,
			Amount:      fee,
			Description: fmt.Sprintf("Platform fee for job: %s", job.Title),
			Status:      models.TrxStatusCompleted,
			CompletedAt: timePtr(now),
		}
		if err := feeTrx.EncodeMetadata(models.TransactionMetadata{JobID: &job.ID}); err != nil {
			return err
		}
		if err := tx.Create(&feeTrx).Error; err != nil {
			return err
		}

		return s.Wallet.CreditEarnings(tx, freelancerID, payout)
	})
	if err != nil {
		return nil, err
	}

	job.Escrow.Released = true
	job.Status = models.JobStatusCompleted
	job.Completion.CompletedAt = &now

	s.publish(ctx, notify.Event{
		Type:    models.NotifPaymentReceived,
		UserID:  freelancerID,
		Title:   "Payment Received",
		Message: fmt.Sprintf("You received %s for %q.", payout.StringFixed(2), job.Title),
		Data:    map[string]interface{}{"job_id": job.ID, "amount": payout},
	})
	s.publish(ctx, notify.Event{
		Type:    models.NotifJobCompleted,
		UserID:  clientID,
		Title:   "Job Completed",
		Message: fmt.Sprintf("Payment for %q has been released.", job.Title),
		Data:    map[string]interface{}{"job_id": job.ID},
	})
	return &job, nil
}

// RefundJob reverses a funded, unreleased escrow back to the client and
// cancels the job. The refund is issued against the original gateway charge.
func (s *Service) RefundJob(ctx context.Context, jobID, clientID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := s.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if job.ClientID != clientID {
		return nil, ErrNotAuthorized
	}
	if !job.Escrow.Funded || job.Escrow.Released {
		return nil, ErrInvalidState
	}
	amount := job.Escrow.Amount

	gatewayTxID, err := s.holdGatewayTxID(ctx, jobID, clientID)
	if err != nil {
		return nil, err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.GatewayTimeout)
	defer cancel()
	result, err := s.Gateway.RefundPayment(gwCtx, gatewayTxID, amount)
	if err != nil {
		return nil, fmt.Errorf("payment gateway: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: %s", ErrPaymentDeclined, result.Message)
	}

	now := time.Now()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND escrow_funded = ? AND escrow_released = ?", jobID, true, false).
			Updates(map[string]interface{}{
				"escrow_funded": false,
				"escrow_amount": decimal.Zero,
				"status":        models.JobStatusCancelled,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidState
		}

		if err := tx.Model(&models.Contract{}).
			Where("job_id = ? AND status = ?", jobID, models.ContractStatusActive).
			Update("status", models.ContractStatusCancelled).Error; err != nil {
			return err
		}

		trx := models.Transaction{
			UserID:      clientID,
			Type:        models.TrxRefund,
			Amount:      amount,
			Description: fmt.Sprintf("Refund for cancelled job: %s", job.Title),
			Status:      models.TrxStatusCompleted,
			CompletedAt: timePtr(now),
		}
		if err := trx.EncodeMetadata(models.TransactionMetadata{
			JobID:            &job.ID,
			PaymentGatewayID: result.RefundID,
		}); err != nil {
			return err
		}
		if err := tx.Create(&trx).Error; err != nil {
			return err
		}

		return s.Wallet.RefundSpend(tx, clientID, amount)
	})
	if err != nil {
		return nil, &ReconciliationError{GatewayTransactionID: result.RefundID, Err: err}
	}

	job.Escrow.Funded = false
	job.Escrow.Amount = decimal.Zero
	job.Status = models.JobStatusCancelled

	if job.SelectedFreelancer.FreelancerID != nil {
		s.publish(ctx, notify.Event{
			Type:    models.NotifJobCancelled,
			UserID:  *job.SelectedFreelancer.FreelancerID,
			Title:   "Job Cancelled",
			Message: fmt.Sprintf("The job %q was cancelled and its escrow refunded.", job.Title),
			Data:    map[string]interface{}{"job_id": job.ID},
		})
	}
	return &job, nil
}

// holdGatewayTxID finds the gateway charge ID recorded on the escrow_hold
// ledger entry for this job.
func (s *Service) holdGatewayTxID(ctx context.Context, jobID, clientID uuid.UUID) (string, error) {
	var trxs []models.Transaction
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND type = ? AND status = ?", clientID, models.TrxEscrowHold, models.TrxStatusCompleted).
		Order("created_at DESC").
		Find(&trxs).Error; err != nil {
		return "", err
	}
	for i := range trxs {
		md, err := trxs[i].DecodeMetadata()
		if err != nil {
			continue
		}
		if md.JobID != nil && *md.JobID == jobID {
			return md.PaymentGatewayID, nil
		}
	}
	return "", fmt.Errorf("%w: escrow hold record for job", ErrNotFound)
}

// CreateMilestoneEscrow splits a funded contract into milestones. The
// milestone amounts must sum to the contract price exactly.
func (s *Service) CreateMilestoneEscrow(ctx context.Context, contractID, clientID uuid.UUID, milestones []models.Milestone) (*models.Contract, error) {
	if len(milestones) == 0 {
		return nil, ErrInvalidState
	}

	var contract models.Contract
	if err := s.DB.WithContext(ctx).First(&contract, "id = ?", contractID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if contract.ClientID != clientID {
		return nil, ErrNotAuthorized
	}
	if contract.Status != models.ContractStatusActive {
		return nil, ErrInvalidState
	}

	total := decimal.Zero
	for i := range milestones {
		if milestones[i].Amount.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidState
		}
		milestones[i].Completed = false
		total = total.Add(milestones[i].Amount)
	}
	if !total.Equal(contract.Terms.Price) {
		return nil, fmt.Errorf("%w: milestone amounts must sum to the contract price", ErrInvalidState)
	}

	if err := contract.SetMilestones(milestones); err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(&contract).
		Update("terms_milestones", contract.Terms.Milestones).Error; err != nil {
		return nil, err
	}
	return &contract, nil
}

// ReleaseMilestone pays out one milestone of a funded contract. Releasing the
// final milestone completes the contract and the job. A milestone can only be
// released once.
func (s *Service) ReleaseMilestone(ctx context.Context, contractID, clientID uuid.UUID, index int) (*models.Contract, error) {
	var contract models.Contract
	now := time.Now()

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&contract, "id = ?", contractID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if contract.ClientID != clientID {
			return ErrNotAuthorized
		}
		if contract.Status != models.ContractStatusActive {
			return ErrInvalidState
		}

		var job models.Job
		if err := tx.First(&job, "id = ?", contract.JobID).Error; err != nil {
			return err
		}
		if !job.Escrow.Funded || job.Escrow.Released {
			return ErrInvalidState
		}

		milestones, err := contract.Milestones()
		if err != nil {
			return err
		}
		if index < 0 || index >= len(milestones) {
			return ErrNotFound
		}
		if milestones[index].Completed {
			return ErrAlreadyCompleted
		}
		milestones[index].Completed = true
		if err := contract.SetMilestones(milestones); err != nil {
			return err
		}

		amount := milestones[index].Amount
		fee := s.platformFee(amount)
		payout := amount.Sub(fee)

		release := models.Transaction{
			UserID:      contract.FreelancerID,
			Type:        models.TrxEscrowRelease,
			Amount:      payout,
			Description: fmt.Sprintf("Milestone payment: %s", milestones[index].Title),
			Status:      models.TrxStatusCompleted,
			CompletedAt: timePtr(now),
		}
		if err := release.EncodeMetadata(models.TransactionMetadata{
			JobID:       &contract.JobID,
			ContractID:  &contract.ID,
			PlatformFee: fee,
		}); err != nil {
			return err
		}
		if err := tx.Create(&release).Error; err != nil {
			return err
		}

		feeTrx := models.Transaction{
			UserID:      contract.FreelancerID,
			Type:        models.TrxFee,
			Amount:      fee,
			Description: fmt.Sprintf("Platform fee for milestone: %s", milestones[index].Title),
			Status:      models.TrxStatusCompleted,
			CompletedAt: timePtr(now),
		}
		if err := feeTrx.EncodeMetadata(models.TransactionMetadata{
			JobID:      &contract.JobID,
			ContractID: &contract.ID,
		}); err != nil {
			return err
		}
		if err := tx.Create(&feeTrx).Error; err != nil {
			return err
		}

		if err := s.Wallet.CreditEarnings(tx, contract.FreelancerID, payout); err != nil {
			return err
		}

		allDone := true
		for i := range milestones {
			if !milestones[i].Completed {
				allDone = false
				break
			}
		}

		updates := map[string]interface{}{"terms_milestones": contract.Terms.Milestones}
		if allDone {
			updates["status"] = models.ContractStatusCompleted
			updates["completed_at"] = now
			contract.Status = models.ContractStatusCompleted
			contract.CompletedAt = &now

			if err := tx.Model(&models.Job{}).
				Where("id = ? AND escrow_funded = ? AND escrow_released = ?", contract.JobID, true, false).
				Updates(map[string]interface{}{
					"escrow_released":         true,
					"status":                  models.JobStatusCompleted,
					"completion_completed_at": now,
				}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&models.Contract{}).Where("id = ?", contract.ID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	milestones, _ := contract.Milestones()
	s.publish(ctx, notify.Event{
		Type:    models.NotifPaymentReceived,
		UserID:  contract.FreelancerID,
		Title:   "Milestone Payment",
		Message: fmt.Sprintf("Milestone %q has been released.", milestones[index].Title),
		Data:    map[string]interface{}{"contract_id": contract.ID, "milestone": index},
	})
	return &contract, nil
}

// VerifyEscrowConditions reports whether a job is ready for automatic
// release: escrow funded and unreleased, contract not disputed, and every
// milestone (if any were defined) completed.
func (s *Service) VerifyEscrowConditions(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var job models.Job
	if err := s.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, ErrNotFound
		}
		return false, err
	}
	if !job.Escrow.Funded || job.Escrow.Released {
		return false, nil
	}

	var contract models.Contract
	if err := s.DB.WithContext(ctx).First(&contract, "job_id = ?", jobID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, nil
		}
		return false, err
	}
	if contract.Status == models.ContractStatusDisputed || contract.Status == models.ContractStatusCancelled {
		return false, nil
	}

	milestones, err := contract.Milestones()
	if err != nil {
		return false, err
	}
	for i := range milestones {
		if !milestones[i].Completed {
			return false, nil
		}
	}
	return true, nil
}

// AutoReleaseIfReady releases escrow on the client's behalf when all release
// conditions hold. Used by scheduled completion checks, not client requests.
func (s *Service) AutoReleaseIfReady(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	ready, err := s.VerifyEscrowConditions(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrInvalidState
	}

	var job models.Job
	if err := s.DB.WithContext(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return s.ReleaseFunds(ctx, jobID, job.ClientID)
}

func timePtr(t time.Time) *time.Time { return &t }
