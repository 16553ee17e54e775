package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
)

// Wallet holds platform balances. All money is decimal, never float.
type Wallet struct {
	Balance     decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"balance"`
	TotalEarned decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"total_earned"`
	TotalSpent  decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"total_spent"`
}

type User struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name  string    `gorm:"not null" json:"name"`
	Email string    `gorm:"uniqueIndex;not null" json:"email"`
	Phone string    `gorm:"type:varchar(30)" json:"phone"`

	Password string `gorm:"not null" json:"-"`
	Role     Role   `gorm:"type:varchar(20);not null;index" json:"role"`
	IsActive bool   `gorm:"default:true" json:"is_active"`

	Wallet Wallet `gorm:"embedded;embeddedPrefix:wallet_" json:"wallet"`

	// Fraud signals
	IsFlagged   bool       `gorm:"default:false;index" json:"is_flagged"`
	FlagReason  string     `gorm:"type:text" json:"flag_reason,omitempty"`
	LastLoginIP string     `gorm:"type:varchar(45);index" json:"-"`
	LastLogin   *time.Time `json:"last_login,omitempty"`
	LoginCount  int        `gorm:"default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return
}
