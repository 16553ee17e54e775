package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/prasetyow/freelance_market_be/internal/models"
	"github.com/prasetyow/freelance_market_be/internal/realtime"
)

// Event is what the core emits toward the notification/messaging subsystem.
type Event struct {
	Type    models.NotificationType `json:"type"`
	UserID  uuid.UUID               `json:"user_id"`
	Title   string                  `json:"title"`
	Message string                  `json:"message"`
	Data    map[string]interface{}  `json:"data,omitempty"`
}

// Publisher is the fire-and-forget channel the financial core talks to.
// Delivery failure must never roll back a financial mutation, so Publish
// returns nothing.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

const redisChannel = "notifications"

// Notifier persists the notification, pushes it to live websocket clients and
// publishes it on Redis for other instances. Every step is best-effort.
type Notifier struct {
	DB  *gorm.DB
	Hub *realtime.Hub
	RDB *redis.Client
}

func New(db *gorm.DB, hub *realtime.Hub, rdb *redis.Client) *Notifier {
	return &Notifier{DB: db, Hub: hub, RDB: rdb}
}

func (n *Notifier) Publish(ctx context.Context, ev Event) {
	notif := models.Notification{
		UserID:  ev.UserID,
		Type:    ev.Type,
		Title:   ev.Title,
		Message: ev.Message,
	}
	if len(ev.Data) > 0 {
		if raw, err := json.Marshal(ev.Data); err == nil {
			notif.Data = datatypes.JSON(raw)
		}
	}

	if err := n.DB.WithContext(ctx).Create(&notif).Error; err != nil {
		log.Printf("notify: failed to persist %s for %s: %v", ev.Type, ev.UserID, err)
	}

	if n.Hub != nil {
		n.Hub.SendToUser(ev.UserID, map[string]interface{}{
			"type":         "notification",
			"notification": notif,
		})
	}

	if n.RDB != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			if err := n.RDB.Publish(ctx, redisChannel, payload).Err(); err != nil {
				log.Printf("notify: redis publish failed: %v", err)
			}
		}
	}
}
