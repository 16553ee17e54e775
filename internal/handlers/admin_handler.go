package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/services/fraud"
)

// AdminHandler exposes the moderation surface. Every route behind it
// requires the admin role.
type AdminHandler struct {
	DB    *gorm.DB
	Fraud *fraud.Service
}

func NewAdminHandler(db *gorm.DB, fr *fraud.Service) *AdminHandler {
	return &AdminHandler{DB: db, Fraud: fr}
}

// GetUserRisk runs the fraud heuristics against one account on demand.
func (h *AdminHandler) GetUserRisk(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	analysis, err := h.Fraud.AnalyzeUser(c.Context(), userID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return notFound(c, "User not found")
		}
		return serverError(c, "Risk analysis failed")
	}

	return c.JSON(fiber.Map{"success": true, "data": analysis})
}

// GetJobBidPatterns scans one job's bids for coordinated groups.
func (h *AdminHandler) GetJobBidPatterns(c *fiber.Ctx) error {
	jobID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid job ID")
	}

	analysis, err := h.Fraud.AnalyzeBidPatterns(c.Context(), jobID)
	if err != nil {
		return serverError(c, "Bid pattern scan failed")
	}
	return c.JSON(fiber.Map{"success": true, "data": analysis})
}

// ListFlagged returns accounts flagged for review.
func (h *AdminHandler) ListFlagged(c *fiber.Ctx) error {
	users, err := h.Fraud.FlaggedUsers(c.Context())
	if err != nil {
		return serverError(c, "Failed to fetch flagged users")
	}
	return c.JSON(fiber.Map{"success": true, "data": users})
}

type ReviewReq struct {
	Reason string `json:"reason"`
}

// FlagUser flags an account manually, outside the scoring pipeline.
func (h *AdminHandler) FlagUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	var req ReviewReq
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Reason) == "" {
		return badRequest(c, "Reason is required")
	}

	if err := h.Fraud.TriggerManualReview(c.Context(), userID, strings.TrimSpace(req.Reason)); err != nil {
		if err == gorm.ErrRecordNotFound {
			return notFound(c, "User not found")
		}
		return serverError(c, "Failed to flag user")
	}

	return c.JSON(fiber.Map{"success": true, "message": "User flagged for review"})
}

// UnflagUser clears a flag after review.
func (h *AdminHandler) UnflagUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	res := h.DB.Model(&models.User{}).
		Where("id = ? AND is_flagged = ?", userID, true).
		Updates(map[string]interface{}{
			"is_flagged":  false,
			"flag_reason": "",
		})
	if res.Error != nil {
		return serverError(c, "Failed to clear flag")
	}
	if res.RowsAffected == 0 {
		return notFound(c, "Flagged user not found")
	}

	return c.JSON(fiber.Map{"success": true, "message": "Flag cleared"})
}

// SuspendUser deactivates an account. Suspended users cannot log in.
func (h *AdminHandler) SuspendUser(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid user ID")
	}

	res := h.DB.Model(&models.User{}).
		Where("id = ? AND role <> ?", userID, models.RoleAdmin).
		Update("is_active", false)
	if res.Error != nil {
		return serverError(c, "Failed to suspend user")
	}
	if res.RowsAffected == 0 {
		return notFound(c, "User not found")
	}

	return c.JSON(fiber.Map{"success": true, "message": "User suspended"})
}
