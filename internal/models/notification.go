package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type NotificationType string

const (
	NotifNewBid          NotificationType = "new_bid"
	NotifBidAccepted     NotificationType = "bid_accepted"
	NotifJobFunded       NotificationType = "job_funded"
	NotifMessage         NotificationType = "message"
	NotifJobCompleted    NotificationType = "job_completed"
	NotifJobCancelled    NotificationType = "job_cancelled"
	NotifPaymentReceived NotificationType = "payment_received"
	NotifContractStarted NotificationType = "contract_started"
	NotifAdminAlert      NotificationType = "admin_alert"
)

type Notification struct {
	ID     uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID        `gorm:"type:uuid;not null;index:idx_notif_user_created" json:"user_id"`
	Type   NotificationType `gorm:"type:varchar(20);not null" json:"type"`

	Title   string         `gorm:"not null" json:"title"`
	Message string         `gorm:"type:text;not null" json:"message"`
	Data    datatypes.JSON `json:"data,omitempty"`

	Read   bool       `gorm:"default:false;index" json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_notif_user_created" json:"created_at"`
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return
}
