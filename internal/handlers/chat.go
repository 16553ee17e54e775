package handlers

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/realtime"
)

type ChatHandler struct {
	DB  *gorm.DB
	Hub *realtime.Hub
	RDB *redis.Client
}

func NewChatHandler(db *gorm.DB, hub *realtime.Hub, rdb *redis.Client) *ChatHandler {
	return &ChatHandler{DB: db, Hub: hub, RDB: rdb}
}

// CreateOrGetConversation opens a channel with a freelancer, optionally
// pinned to a job. Reuses the existing conversation for the same pair.
func (h *ChatHandler) CreateOrGetConversation(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var req struct {
		FreelancerID *string `json:"freelancer_id"`
		JobID        *string `json:"job_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request")
	}

	var freelancerID uuid.UUID
	var clientID uuid.UUID
	var jobID *uuid.UUID

	if req.JobID != nil {
		id, err := uuid.Parse(*req.JobID)
		if err != nil {
			return badRequest(c, "Invalid job ID")
		}
		jobID = &id
	}

	if req.FreelancerID != nil {
		id, err := uuid.Parse(*req.FreelancerID)
		if err != nil {
			return badRequest(c, "Invalid freelancer ID")
		}
		freelancerID = id
		clientID = userUUID
	} else if jobID != nil {
		// A freelancer opening a conversation from a job reaches its owner.
		var job models.Job
		if err := h.DB.First(&job, "id = ?", jobID).Error; err != nil {
			return notFound(c, "Job not found")
		}
		clientID = job.ClientID
		freelancerID = userUUID
	} else {
		return badRequest(c, "freelancer_id or job_id required")
	}

	var conv models.Conversation
	err = h.DB.
		Where("client_id = ? AND freelancer_id = ?", clientID, freelancerID).
		Order("updated_at DESC").
		First(&conv).Error

	created := false
	if err == gorm.ErrRecordNotFound {
		now := time.Now()
		conv = models.Conversation{
			ClientID:      clientID,
			FreelancerID:  freelancerID,
			JobID:         jobID,
			LastMessageAt: &now,
		}
		if err := h.DB.Create(&conv).Error; err != nil {
			log.Println("chat: error creating conversation:", err)
			return serverError(c, "Failed to create conversation")
		}
		created = true
	} else if err != nil {
		log.Println("chat: error fetching conversation:", err)
		return serverError(c, "Failed to fetch conversation")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"created": created,
		"data":    conv,
	})
}

type UserMini struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type MessageMini struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Type           string    `json:"type"`
	Text           string    `json:"text"`
	IsRead         bool      `json:"is_read"`
	CreatedAt      time.Time `json:"created_at"`
}

type ConversationOut struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	FreelancerID  string     `json:"freelancer_id"`
	JobID         *uuid.UUID `json:"job_id,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	UnreadCount   int64      `json:"unread_count"`

	Client      *UserMini    `json:"client,omitempty"`
	Freelancer  *UserMini    `json:"freelancer,omitempty"`
	LastMessage *MessageMini `json:"last_message,omitempty"`
}

// GetConversations lists the caller's conversations with unread counts and
// last message previews, most recent activity first.
func (h *ChatHandler) GetConversations(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var convs []models.Conversation
	if err := h.DB.
		Preload("Client").
		Preload("Freelancer").
		Where("client_id = ? OR freelancer_id = ?", userUUID, userUUID).
		Order("last_message_at DESC").
		Find(&convs).Error; err != nil {
		log.Println("chat: error fetching conversations:", err)
		return serverError(c, "Failed to fetch conversations")
	}

	out := make([]ConversationOut, 0, len(convs))
	for _, conv := range convs {
		var unreadCount int64
		h.DB.Model(&models.Message{}).
			Where("conversation_id = ? AND sender_id != ? AND is_read = false", conv.ID, userUUID).
			Count(&unreadCount)

		var last models.Message
		var lastPtr *MessageMini
		if err := h.DB.
			Where("conversation_id = ?", conv.ID).
			Order("created_at DESC").
			Limit(1).
			First(&last).Error; err == nil {
			lastPtr = &MessageMini{
				ID:             last.ID.String(),
				ConversationID: last.ConversationID.String(),
				SenderID:       last.SenderID.String(),
				Type:           last.Type,
				Text:           last.Text,
				IsRead:         last.IsRead,
				CreatedAt:      last.CreatedAt,
			}
		}

		var clientMini *UserMini
		if conv.Client != nil {
			clientMini = &UserMini{ID: conv.Client.ID.String(), Name: conv.Client.Name}
		}
		var freelancerMini *UserMini
		if conv.Freelancer != nil {
			freelancerMini = &UserMini{ID: conv.Freelancer.ID.String(), Name: conv.Freelancer.Name}
		}

		out = append(out, ConversationOut{
			ID:            conv.ID.String(),
			ClientID:      conv.ClientID.String(),
			FreelancerID:  conv.FreelancerID.String(),
			JobID:         conv.JobID,
			LastMessageAt: conv.LastMessageAt,
			UnreadCount:   unreadCount,
			Client:        clientMini,
			Freelancer:    freelancerMini,
			LastMessage:   lastPtr,
		})
	}

	return c.JSON(fiber.Map{"success": true, "data": out})
}

// GetUnreadTotal counts unread messages across all of the caller's
// conversations.
func (h *ChatHandler) GetUnreadTotal(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}

	var count int64
	err = h.DB.Model(&models.Message{}).
		Joins("JOIN conversations ON messages.conversation_id = conversations.id").
		Where("(conversations.client_id = ? OR conversations.freelancer_id = ?) AND messages.sender_id != ? AND messages.is_read = false",
			userUUID, userUUID, userUUID).
		Count(&count).Error
	if err != nil {
		return serverError(c, "Failed to count unread messages")
	}

	return c.JSON(fiber.Map{"success": true, "data": count})
}

// GetMessages returns a conversation's messages oldest first and marks the
// other side's messages read.
func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid conversation ID")
	}

	var conv models.Conversation
	if err := h.DB.First(&conv, "id = ?", convUUID).Error; err != nil {
		return notFound(c, "Conversation not found")
	}
	if conv.ClientID != userUUID && conv.FreelancerID != userUUID {
		return forbidden(c, "Access denied")
	}

	var messages []models.Message
	if err := h.DB.
		Where("conversation_id = ?", convUUID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		log.Println("chat: error fetching messages:", err)
		return serverError(c, "Failed to fetch messages")
	}

	if err := h.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND is_read = false", convUUID, userUUID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": time.Now(),
		}).Error; err != nil {
		log.Println("chat: error marking messages as read:", err)
	}

	return c.JSON(fiber.Map{"success": true, "data": messages})
}

// MarkAsRead marks the other side's messages in a conversation as read.
func (h *ChatHandler) MarkAsRead(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid conversation ID")
	}

	var conv models.Conversation
	if err := h.DB.First(&conv, "id = ?", convUUID).Error; err != nil {
		return notFound(c, "Conversation not found")
	}
	if conv.ClientID != userUUID && conv.FreelancerID != userUUID {
		return forbidden(c, "Access denied")
	}

	if err := h.DB.Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id != ? AND is_read = false", convUUID, userUUID).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": time.Now(),
		}).Error; err != nil {
		log.Println("chat: error marking messages as read:", err)
		return serverError(c, "Failed to mark messages as read")
	}

	return c.JSON(fiber.Map{"success": true})
}

// SendMessage persists the message, bumps the conversation and pushes the
// message to both parties over the hub. Redis carries a copy for other
// instances.
func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	userUUID, err := getUserUUID(c)
	if err != nil {
		return unauthorized(c)
	}
	convUUID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return badRequest(c, "Invalid conversation ID")
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return badRequest(c, "Text is required")
	}

	var conv models.Conversation
	if err := h.DB.First(&conv, "id = ?", convUUID).Error; err != nil {
		return notFound(c, "Conversation not found")
	}
	if conv.ClientID != userUUID && conv.FreelancerID != userUUID {
		return forbidden(c, "Access denied")
	}

	msg := models.Message{
		ConversationID: convUUID,
		SenderID:       userUUID,
		Text:           req.Text,
		Type:           "text",
	}
	if err := h.DB.Create(&msg).Error; err != nil {
		log.Println("chat: error creating message:", err)
		return serverError(c, "Failed to send message")
	}

	_ = h.DB.Model(&models.Conversation{}).
		Where("id = ?", conv.ID).
		Update("last_message_at", msg.CreatedAt).Error

	h.Hub.SendToConversation(conv.ClientID, conv.FreelancerID, fiber.Map{
		"type":    "new_message",
		"message": msg,
	})

	recipientID := conv.ClientID
	if userUUID == conv.ClientID {
		recipientID = conv.FreelancerID
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"type":            "chat_message",
		"conversation_id": convUUID.String(),
		"sender_id":       userUUID.String(),
		"text":            req.Text,
	})
	if h.RDB != nil {
		h.RDB.Publish(context.Background(), "notifications:"+recipientID.String(), payload)
	}

	return c.JSON(fiber.Map{"success": true, "data": msg})
}

// WebSocketHandler attaches a connection to the hub and keeps it alive
// until the peer goes away.
func (h *ChatHandler) WebSocketHandler(c *websocket.Conn) {
	userID := c.Query("user_id")
	if userID == "" {
		log.Println("websocket: user_id parameter missing")
		c.Close()
		return
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		log.Println("websocket: invalid user_id:", userID)
		c.Close()
		return
	}

	client := &realtime.Client{
		ID:     uuid.New().String(),
		UserID: userUUID,
		Conn:   realtime.NewWebSocketConn(c),
		Send:   make(chan []byte, 256),
	}

	h.Hub.RegisterClient(client)
	defer h.Hub.UnregisterClient(client)

	go func() {
		for msg := range client.Send {
			if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Println("websocket: write error:", err)
				return
			}
		}
	}()

	for {
		var payload map[string]interface{}
		if err := c.ReadJSON(&payload); err != nil {
			break
		}
		if msgType, ok := payload["type"].(string); ok && msgType == "pong" {
			continue
		}
	}
}
