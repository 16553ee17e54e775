package handlers

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/escrow"
	"github.com/prasetyow/freelance_market_be/internal/services/gateway"
	"github.com/prasetyow/freelance_market_be/internal/services/wallet"
)

type PaymentHandler struct {
	DB      *gorm.DB
	Escrow  *escrow.Service
	Wallet  *wallet.Service
	Gateway gateway.Gateway
}

func NewPaymentHandler(db *gorm.DB, esc *escrow.Service, w *wallet.Service, gw gateway.Gateway) *PaymentHandler {
	return &PaymentHandler{DB: db, Escrow: esc, Wallet: w, Gateway: gw}
}

// escrowError maps service sentinels onto HTTP responses. Reconciliation
// failures surface as 502 so callers know not to retry blindly.
func escrowError(c *fiber.Ctx, err error) error {
	var recon *escrow.ReconciliationError
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return notFound(c, "Not found")
	case errors.Is(err, escrow.ErrNotAuthorized):
		return forbidden(c, "Access denied")
	case errors.Is(err, escrow.ErrAlreadyFunded):
		return badRequest(c, "Escrow is already funded")
	case errors.Is(err, escrow.ErrAlreadyCompleted):
		return badRequest(c, "Milestone already released")
	case errors.Is(err, escrow.ErrPaymentDeclined):
		return badRequest(c, "Payment was declined")
	case errors.Is(err, escrow.ErrInvalidState):
		return badRequest(c, "Operation not allowed in the current state")
	case errors.As(err, &recon):
		log.Printf("payment: RECONCILIATION REQUIRED gateway_tx=%s: %v", recon.GatewayTransactionID, recon.Err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": "Payment processed but could not be recorded. Support has been alerted.",
		})
	default:
		log.Printf("payment: %v", err)
		return serverError(c, "Payment operation failed")
	}
}

type FundReq struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"payment_method"`
}

func (h *PaymentHandler) FundJob(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var req FundReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return badRequest(c, "Amount must be greater than zero")
	}
	if req.Method == "" {
		req.Method = "card"
	}

	job, err := h.Escrow.FundJob(c.Context(), jobID, clientID, req.Amount, req.Method)
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Escrow funded",
		"data":    job,
	})
}

func (h *PaymentHandler) ReleaseFunds(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	job, err := h.Escrow.ReleaseFunds(c.Context(), jobID, clientID)
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Funds released",
		"data":    job,
	})
}

func (h *PaymentHandler) RefundJob(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	job, err := h.Escrow.RefundJob(c.Context(), jobID, clientID)
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Escrow refunded",
		"data":    job,
	})
}

type MilestonesReq struct {
	Milestones []struct {
		Title   string          `json:"title"`
		Amount  decimal.Decimal `json:"amount"`
		DueDate *time.Time      `json:"due_date"`
	} `json:"milestones"`
}

func (h *PaymentHandler) CreateMilestones(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	contractID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid contract ID")
	}

	var req MilestonesReq
	if err := c.BodyParser(&req); err != nil || len(req.Milestones) == 0 {
		return badRequest(c, "Milestones are required")
	}

	ms := make([]models.Milestone, 0, len(req.Milestones))
	for _, m := range req.Milestones {
		ms = append(ms, models.Milestone{
			Title:   m.Title,
			Amount:  m.Amount,
			DueDate: m.DueDate,
		})
	}

	contract, err := h.Escrow.CreateMilestoneEscrow(c.Context(), contractID, clientID, ms)
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Milestones created",
		"data":    contract,
	})
}

func (h *PaymentHandler) ReleaseMilestone(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	contractID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid contract ID")
	}
	index, err := c.ParamsInt("index")
	if err != nil || index < 0 {
		return badRequest(c, "Invalid milestone index")
	}

	contract, err := h.Escrow.ReleaseMilestone(c.Context(), contractID, clientID, index)
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Milestone released",
		"data":    contract,
	})
}

// GetWallet returns the caller's balances plus their most recent ledger rows.
func (h *PaymentHandler) GetWallet(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var u models.User
	if err := h.DB.First(&u, "id = ?", userID).Error; err != nil {
		return notFound(c, "User not found")
	}

	var recent []models.Transaction
	if err := h.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(20).
		Find(&recent).Error; err != nil {
		return serverError(c, "Failed to fetch wallet")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"wallet":       u.Wallet,
			"transactions": recent,
		},
	})
}

// GetTransactions lists the caller's ledger entries, newest first.
func (h *PaymentHandler) GetTransactions(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := h.DB.Model(&models.Transaction{}).Where("user_id = ?", userID)
	if t := c.Query("type"); t != "" {
		q = q.Where("type = ?", t)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return serverError(c, "Failed to fetch transactions")
	}

	var trxs []models.Transaction
	if err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&trxs).Error; err != nil {
		return serverError(c, "Failed to fetch transactions")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    trxs,
		"meta": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

type DepositReq struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
}

// Deposit tops up the wallet through the gateway.
func (h *PaymentHandler) Deposit(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req DepositReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return badRequest(c, "Amount must be greater than zero")
	}
	if req.Method == "" {
		req.Method = "card"
	}

	result, err := h.Gateway.ProcessPayment(c.Context(), gateway.PaymentRequest{
		Amount:      req.Amount,
		Currency:    "USD",
		Method:      req.Method,
		Description: "Wallet deposit",
	})
	if err != nil {
		log.Printf("payment: deposit gateway error for %s: %v", userID, err)
		return serverError(c, "Payment gateway unavailable")
	}
	if !result.Success {
		return badRequest(c, "Payment was declined")
	}

	var trx models.Transaction
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		trx = models.Transaction{
			UserID:      userID,
			Type:        models.TrxDeposit,
			Amount:      req.Amount,
			Description: "Wallet deposit",
			Status:      models.TrxStatusCompleted,
			CompletedAt: &now,
		}
		if err := trx.EncodeMetadata(models.TransactionMetadata{PaymentGatewayID: result.TransactionID}); err != nil {
			return err
		}
		if err := tx.Create(&trx).Error; err != nil {
			return err
		}
		return h.Wallet.Credit(tx, userID, req.Amount)
	})
	if err != nil {
		log.Printf("payment: RECONCILIATION REQUIRED gateway_tx=%s: %v", result.TransactionID, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"success": false,
			"message": "Payment processed but could not be recorded. Support has been alerted.",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Deposit successful",
		"data":    trx,
	})
}

type WithdrawReq struct {
	Amount decimal.Decimal `json:"amount"`
}

// Withdraw debits the wallet. Fails on insufficient balance before any
// ledger row is written.
func (h *PaymentHandler) Withdraw(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req WithdrawReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return badRequest(c, "Amount must be greater than zero")
	}

	var trx models.Transaction
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := h.Wallet.Debit(tx, userID, req.Amount); err != nil {
			return err
		}
		now := time.Now()
		trx = models.Transaction{
			UserID:      userID,
			Type:        models.TrxWithdrawal,
			Amount:      req.Amount.Neg(),
			Description: fmt.Sprintf("Withdrawal of %s", req.Amount.StringFixed(2)),
			Status:      models.TrxStatusCompleted,
			CompletedAt: &now,
		}
		return tx.Create(&trx).Error
	})
	if errors.Is(err, wallet.ErrInsufficientBalance) {
		return badRequest(c, "Insufficient balance")
	}
	if err != nil {
		return serverError(c, "Withdrawal failed")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Withdrawal successful",
		"data":    trx,
	})
}
