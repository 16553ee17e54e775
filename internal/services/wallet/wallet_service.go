package wallet

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// Service mutates user wallet columns. Every method expects to run inside the
// caller's DB transaction so wallet moves commit or roll back together with
// the ledger rows and status flips that caused them.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// CreditEarnings adds released escrow funds to a freelancer: balance and
// totalEarned both grow by amount.
func (s *Service) CreditEarnings(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount to credit must be greater than zero")
	}

	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_balance":      gorm.Expr("wallet_balance + ?", amount),
			"wallet_total_earned": gorm.Expr("wallet_total_earned + ?", amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user not found for id %s", userID)
	}
	return nil
}

// RefundSpend reverses a client's escrow hold: balance grows by amount and
// totalSpent shrinks by the same amount.
func (s *Service) RefundSpend(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount to refund must be greater than zero")
	}

	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_balance":     gorm.Expr("wallet_balance + ?", amount),
			"wallet_total_spent": gorm.Expr("wallet_total_spent - ?", amount),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user not found for id %s", userID)
	}
	return nil
}

// AddSpent bumps the client's lifetime spend counter when escrow is funded.
// The money moved through the gateway, not the platform balance.
func (s *Service) AddSpent(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount must be greater than zero")
	}

	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("wallet_total_spent", gorm.Expr("wallet_total_spent + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user not found for id %s", userID)
	}
	return nil
}

// Credit adds a deposit to the platform balance.
func (s *Service) Credit(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount to credit must be greater than zero")
	}

	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("wallet_balance", gorm.Expr("wallet_balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("user not found for id %s", userID)
	}
	return nil
}

// Debit removes funds from the platform balance. The WHERE guard doubles as a
// compare-and-swap: a concurrent debit that would overdraw affects zero rows.
func (s *Service) Debit(tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errors.New("amount to debit must be greater than zero")
	}

	result := tx.Model(&models.User{}).
		Where("id = ? AND wallet_balance >= ?", userID, amount).
		Update("wallet_balance", gorm.Expr("wallet_balance - ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}
