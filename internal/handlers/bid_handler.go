package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/fraud"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
)

type BidHandler struct {
	DB     *gorm.DB
	Notify notify.Publisher
	Fraud  *fraud.Service
}

func NewBidHandler(db *gorm.DB, pub notify.Publisher, fr *fraud.Service) *BidHandler {
	return &BidHandler{DB: db, Notify: pub, Fraud: fr}
}

type BidReq struct {
	Proposal      string          `json:"proposal"`
	Price         decimal.Decimal `json:"price"`
	EstimatedTime struct {
		Value int    `json:"value"`
		Unit  string `json:"unit"`
	} `json:"estimated_time"`
}

func (r *BidReq) validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(r.Proposal) == "" {
		errs.Add("proposal", "Proposal is required")
	}
	if r.Price.LessThanOrEqual(decimal.Zero) {
		errs.Add("price", "Price must be greater than zero")
	}
	if r.EstimatedTime.Value <= 0 {
		errs.Add("estimated_time", "Estimated time is required")
	}
	if !models.ValidTimeUnit(models.TimeUnit(r.EstimatedTime.Unit)) {
		errs.Add("estimated_time", "Invalid time unit")
	}
	return errs
}

// CreateBid places a proposal on an open job. One bid per freelancer per job,
// never on your own job. Each bid also triggers a risk re-score of the bidder.
func (h *BidHandler) CreateBid(c *fiber.Ctx) error {
	freelancerID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("jobId"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var req BidReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if errs := req.validate(); len(errs) > 0 {
		return validationFail(c, errs)
	}

	var job models.Job
	if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return notFound(c, "Job not found")
	}
	if job.Status != models.JobStatusOpen {
		return badRequest(c, "Job is not accepting bids")
	}
	if job.ClientID == freelancerID {
		return badRequest(c, "Cannot bid on your own job")
	}

	var existing models.Bid
	if err := h.DB.Where("job_id = ? AND freelancer_id = ?", jobID, freelancerID).
		First(&existing).Error; err == nil {
		return badRequest(c, "You already bid on this job")
	} else if err != gorm.ErrRecordNotFound {
		return serverError(c, "Server error")
	}

	bid := models.Bid{
		JobID:        jobID,
		FreelancerID: freelancerID,
		Proposal:     strings.TrimSpace(req.Proposal),
		Price:        req.Price,
		EstimatedTime: models.EstimatedTime{
			Value: req.EstimatedTime.Value,
			Unit:  models.TimeUnit(req.EstimatedTime.Unit),
		},
		Status: models.BidStatusPending,
	}
	if err := h.DB.Create(&bid).Error; err != nil {
		// The unique index catches the lost race on duplicate bids.
		return badRequest(c, "Failed to place bid")
	}

	if h.Notify != nil {
		h.Notify.Publish(c.Context(), notify.Event{
			Type:    models.NotifNewBid,
			UserID:  job.ClientID,
			Title:   "New Bid",
			Message: "A new bid arrived on \"" + job.Title + "\".",
			Data:    map[string]interface{}{"job_id": jobID, "bid_id": bid.ID},
		})
	}
	if h.Fraud != nil {
		h.Fraud.DetectBidManipulation(c.Context(), jobID, freelancerID)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Bid placed",
		"data":    bid,
	})
}

// ListJobBids shows all bids on a job. Only the job owner sees them.
func (h *BidHandler) ListJobBids(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("jobId"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var job models.Job
	if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return notFound(c, "Job not found")
	}
	if job.ClientID != userID {
		return forbidden(c, "Not your job")
	}

	var bids []models.Bid
	if err := h.DB.Preload("Freelancer").
		Where("job_id = ?", jobID).
		Order("created_at ASC").
		Find(&bids).Error; err != nil {
		return serverError(c, "Failed to fetch bids")
	}

	return c.JSON(fiber.Map{"success": true, "data": bids})
}

func (h *BidHandler) MyBids(c *fiber.Ctx) error {
	freelancerID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var bids []models.Bid
	if err := h.DB.Preload("Job").
		Where("freelancer_id = ?", freelancerID).
		Order("created_at DESC").
		Find(&bids).Error; err != nil {
		return serverError(c, "Failed to fetch bids")
	}

	return c.JSON(fiber.Map{"success": true, "data": bids})
}

// UpdateBid edits a pending bid. Accepted or rejected bids are frozen.
func (h *BidHandler) UpdateBid(c *fiber.Ctx) error {
	freelancerID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	bidID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid bid ID")
	}

	var req BidReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if errs := req.validate(); len(errs) > 0 {
		return validationFail(c, errs)
	}

	var bid models.Bid
	if err := h.DB.First(&bid, "id = ?", bidID).Error; err != nil {
		return notFound(c, "Bid not found")
	}
	if bid.FreelancerID != freelancerID {
		return forbidden(c, "Not your bid")
	}
	if bid.Status != models.BidStatusPending {
		return badRequest(c, "Only pending bids can be edited")
	}

	bid.Proposal = strings.TrimSpace(req.Proposal)
	bid.Price = req.Price
	bid.EstimatedTime = models.EstimatedTime{
		Value: req.EstimatedTime.Value,
		Unit:  models.TimeUnit(req.EstimatedTime.Unit),
	}
	if err := h.DB.Save(&bid).Error; err != nil {
		return serverError(c, "Failed to update bid")
	}

	return c.JSON(fiber.Map{"success": true, "data": bid})
}

// WithdrawBid removes a pending bid.
func (h *BidHandler) WithdrawBid(c *fiber.Ctx) error {
	freelancerID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	bidID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid bid ID")
	}

	res := h.DB.Where("id = ? AND freelancer_id = ? AND status = ?",
		bidID, freelancerID, models.BidStatusPending).
		Delete(&models.Bid{})
	if res.Error != nil {
		return serverError(c, "Failed to withdraw bid")
	}
	if res.RowsAffected == 0 {
		return badRequest(c, "Bid cannot be withdrawn")
	}

	return c.JSON(fiber.Map{"success": true, "message": "Bid withdrawn"})
}
