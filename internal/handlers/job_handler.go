package handlers

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/notify"
)

type JobHandler struct {
	DB         *gorm.DB
	Notify     notify.Publisher
	FeePercent decimal.Decimal
}

func NewJobHandler(db *gorm.DB, pub notify.Publisher, feePercent decimal.Decimal) *JobHandler {
	return &JobHandler{DB: db, Notify: pub, FeePercent: feePercent}
}

type JobReq struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	SkillsRequired []string `json:"skills_required"`
	Budget         struct {
		Type  string          `json:"type"`
		Fixed decimal.Decimal `json:"fixed"`
		Min   decimal.Decimal `json:"min"`
		Max   decimal.Decimal `json:"max"`
	} `json:"budget"`
	Duration   string `json:"duration"`
	Visibility string `json:"visibility"`
}

func (r *JobReq) validate() FieldErrors {
	errs := FieldErrors{}
	if strings.TrimSpace(r.Title) == "" {
		errs.Add("title", "Title is required")
	}
	if strings.TrimSpace(r.Description) == "" {
		errs.Add("description", "Description is required")
	}
	switch models.BudgetType(r.Budget.Type) {
	case models.BudgetFixed:
		if r.Budget.Fixed.LessThanOrEqual(decimal.Zero) {
			errs.Add("budget", "Fixed budget must be greater than zero")
		}
	case models.BudgetHourly:
		if r.Budget.Min.LessThanOrEqual(decimal.Zero) || r.Budget.Max.LessThan(r.Budget.Min) {
			errs.Add("budget", "Hourly budget range is invalid")
		}
	default:
		errs.Add("budget", "Budget type must be fixed or hourly")
	}
	if !models.ValidDuration(models.JobDuration(r.Duration)) {
		errs.Add("duration", "Invalid duration")
	}
	return errs
}

func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req JobReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if errs := req.validate(); len(errs) > 0 {
		return validationFail(c, errs)
	}

	skills, _ := json.Marshal(req.SkillsRequired)
	visibility := req.Visibility
	if visibility != "private" {
		visibility = "public"
	}

	job := models.Job{
		Title:          strings.TrimSpace(req.Title),
		Description:    strings.TrimSpace(req.Description),
		ClientID:       clientID,
		SkillsRequired: datatypes.JSON(skills),
		Budget: models.Budget{
			Type:  models.BudgetType(req.Budget.Type),
			Fixed: req.Budget.Fixed,
			Min:   req.Budget.Min,
			Max:   req.Budget.Max,
		},
		Duration:   models.JobDuration(req.Duration),
		Visibility: visibility,
		Status:     models.JobStatusOpen,
	}
	if err := h.DB.Create(&job).Error; err != nil {
		return serverError(c, "Failed to create job")
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Job created",
		"data":    job,
	})
}

// ListJobs is the public browse endpoint. Filters: status, budget_type,
// duration, search on title. Paginated newest first.
func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	if page < 1 {
		page = 1
	}
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	q := h.DB.Model(&models.Job{}).Where("visibility = ?", "public")

	if status := c.Query("status", string(models.JobStatusOpen)); status != "all" {
		q = q.Where("status = ?", status)
	}
	if bt := c.Query("budget_type"); bt != "" {
		q = q.Where("budget_type = ?", bt)
	}
	if d := c.Query("duration"); d != "" {
		q = q.Where("duration = ?", d)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		q = q.Where("title LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return serverError(c, "Failed to fetch jobs")
	}

	var jobs []models.Job
	if err := q.Preload("Client").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return serverError(c, "Failed to fetch jobs")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    jobs,
		"meta": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var job models.Job
	if err := h.DB.Preload("Client").First(&job, "id = ?", jobID).Error; err != nil {
		return notFound(c, "Job not found")
	}

	var bidCount int64
	h.DB.Model(&models.Bid{}).Where("job_id = ?", jobID).Count(&bidCount)

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"job":       job,
			"bid_count": bidCount,
		},
	})
}

func (h *JobHandler) MyJobs(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var jobs []models.Job
	if err := h.DB.Where("client_id = ?", clientID).
		Order("created_at DESC").
		Find(&jobs).Error; err != nil {
		return serverError(c, "Failed to fetch jobs")
	}

	return c.JSON(fiber.Map{"success": true, "data": jobs})
}

// UpdateJob allows edits only while the job is still open.
func (h *JobHandler) UpdateJob(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var job models.Job
	if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return notFound(c, "Job not found")
	}
	if job.ClientID != clientID {
		return forbidden(c, "Not your job")
	}
	if job.Status != models.JobStatusOpen {
		return badRequest(c, "Only open jobs can be edited")
	}

	var req JobReq
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if errs := req.validate(); len(errs) > 0 {
		return validationFail(c, errs)
	}

	skills, _ := json.Marshal(req.SkillsRequired)
	job.Title = strings.TrimSpace(req.Title)
	job.Description = strings.TrimSpace(req.Description)
	job.SkillsRequired = datatypes.JSON(skills)
	job.Budget = models.Budget{
		Type:  models.BudgetType(req.Budget.Type),
		Fixed: req.Budget.Fixed,
		Min:   req.Budget.Min,
		Max:   req.Budget.Max,
	}
	job.Duration = models.JobDuration(req.Duration)

	if err := h.DB.Save(&job).Error; err != nil {
		return serverError(c, "Failed to update job")
	}
	return c.JSON(fiber.Map{"success": true, "data": job})
}

// DeleteJob cancels an open job. Funded or in-progress jobs must go through
// refund instead.
func (h *JobHandler) DeleteJob(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	res := h.DB.Model(&models.Job{}).
		Where("id = ? AND client_id = ? AND status = ? AND escrow_funded = ?",
			jobID, clientID, models.JobStatusOpen, false).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		return serverError(c, "Failed to cancel job")
	}
	if res.RowsAffected == 0 {
		return badRequest(c, "Job cannot be cancelled")
	}
	return c.JSON(fiber.Map{"success": true, "message": "Job cancelled"})
}

// AcceptBid moves the job to in-progress, rejects every sibling bid and
// creates the contract, all in one transaction. The job status guard makes
// concurrent accepts race-safe: exactly one wins.
func (h *JobHandler) AcceptBid(c *fiber.Ctx) error {
	clientID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var req struct {
		BidID string `json:"bid_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	bidID, err := uuid.Parse(req.BidID)
	if err != nil {
		return badRequest(c, "Invalid bid ID")
	}

	var job models.Job
	if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
		return notFound(c, "Job not found")
	}
	if job.ClientID != clientID {
		return forbidden(c, "Not your job")
	}
	if job.Status != models.JobStatusOpen {
		return badRequest(c, "Job is not open")
	}

	var bid models.Bid
	if err := h.DB.First(&bid, "id = ? AND job_id = ?", bidID, jobID).Error; err != nil {
		return notFound(c, "Bid not found")
	}
	if bid.Status != models.BidStatusPending {
		return badRequest(c, "Bid is not pending")
	}

	platformFee := decimal.Zero
	if !h.FeePercent.IsZero() {
		platformFee = bid.Price.Mul(h.FeePercent).Div(decimal.NewFromInt(100)).Round(2)
	}

	now := time.Now()
	var contract models.Contract

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", jobID, models.JobStatusOpen).
			Updates(map[string]interface{}{
				"status":                 models.JobStatusInProgress,
				"selected_freelancer_id": bid.FreelancerID,
				"selected_bid_id":        bid.ID,
				"selected_accepted_at":   now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&models.Bid{}).
			Where("id = ?", bid.ID).
			Update("status", models.BidStatusAccepted).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Bid{}).
			Where("job_id = ? AND id <> ? AND status = ?", jobID, bid.ID, models.BidStatusPending).
			Update("status", models.BidStatusRejected).Error; err != nil {
			return err
		}

		contract = models.Contract{
			JobID:        jobID,
			ClientID:     clientID,
			FreelancerID: bid.FreelancerID,
			BidID:        bid.ID,
			Terms: models.ContractTerms{
				Price:         bid.Price,
				EstimatedTime: bid.EstimatedTime,
			},
			PlatformFee: platformFee,
			Status:      models.ContractStatusActive,
			StartedAt:   now,
		}
		return tx.Create(&contract).Error
	})
	if err == gorm.ErrRecordNotFound {
		return badRequest(c, "Job is not open")
	}
	if err != nil {
		log.Printf("job: accept bid %s failed: %v", bidID, err)
		return serverError(c, "Failed to accept bid")
	}

	if h.Notify != nil {
		h.Notify.Publish(c.Context(), notify.Event{
			Type:    models.NotifBidAccepted,
			UserID:  bid.FreelancerID,
			Title:   "Bid Accepted",
			Message: "Your bid on \"" + job.Title + "\" was accepted.",
			Data:    map[string]interface{}{"job_id": jobID, "bid_id": bid.ID},
		})
		h.Notify.Publish(c.Context(), notify.Event{
			Type:    models.NotifContractStarted,
			UserID:  bid.FreelancerID,
			Title:   "Contract Started",
			Message: "A contract for \"" + job.Title + "\" is now active.",
			Data:    map[string]interface{}{"contract_id": contract.ID},
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Bid accepted",
		"data":    contract,
	})
}

// GetContract returns the contract for a job, visible to its two parties.
func (h *JobHandler) GetContract(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	var contract models.Contract
	if err := h.DB.Preload("Freelancer").Preload("Client").
		First(&contract, "job_id = ?", jobID).Error; err != nil {
		return notFound(c, "Contract not found")
	}
	if contract.ClientID != userID && contract.FreelancerID != userID {
		return forbidden(c, "Access denied")
	}

	return c.JSON(fiber.Map{"success": true, "data": contract})
}

// StartExpiryWorker closes open jobs whose expiry date passed. Runs hourly.
func (h *JobHandler) StartExpiryWorker() {
	ticker := time.NewTicker(1 * time.Hour)
	go func() {
		for range ticker.C {
			h.expireJobs()
		}
	}()
}

func (h *JobHandler) expireJobs() {
	res := h.DB.Model(&models.Job{}).
		Where("status = ? AND expires_at <= ?", models.JobStatusOpen, time.Now()).
		Update("status", models.JobStatusCancelled)
	if res.Error != nil {
		log.Printf("[ExpiryWorker] failed to expire jobs: %v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("[ExpiryWorker] expired %d open jobs", res.RowsAffected)
	}
}
