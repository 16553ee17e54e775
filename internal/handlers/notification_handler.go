package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
)

type NotificationHandler struct {
	DB *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{DB: db}
}

// List returns the caller's notifications newest first, with the unread
// count in the meta block.
func (h *NotificationHandler) List(c *fiber.Ctx) error {
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

	q := h.DB.Model(&models.Notification{}).Where("user_id = ?", userID)
	if c.QueryBool("unread") {
		q = q.Where("read = ?", false)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return serverError(c, "Failed to fetch notifications")
	}

	var unread int64
	h.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&unread)

	var notifs []models.Notification
	if err := q.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&notifs).Error; err != nil {
		return serverError(c, "Failed to fetch notifications")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    notifs,
		"meta": fiber.Map{
			"page":   page,
			"limit":  limit,
			"total":  total,
			"unread": unread,
		},
	})
}

func (h *NotificationHandler) MarkRead(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	notifID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid notification ID")
	}

	res := h.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read = ?", notifID, userID, false).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": time.Now(),
		})
	if res.Error != nil {
		return serverError(c, "Failed to mark notification")
	}
	if res.RowsAffected == 0 {
		return notFound(c, "Notification not found")
	}

	return c.JSON(fiber.Map{"success": true})
}

func (h *NotificationHandler) MarkAllRead(c *fiber.Ctx) error {
	userID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	if err := h.DB.Model(&models.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Updates(map[string]interface{}{
			"read":    true,
			"read_at": time.Now(),
		}).Error; err != nil {
		return serverError(c, "Failed to mark notifications")
	}

	return c.JSON(fiber.Map{"success": true})
}
