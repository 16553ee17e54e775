package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type BidStatus string

const (
	BidStatusPending  BidStatus = "pending"
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRejected BidStatus = "rejected"
)

type TimeUnit string

const (
	UnitHours  TimeUnit = "hours"
	UnitDays   TimeUnit = "days"
	UnitWeeks  TimeUnit = "weeks"
	UnitMonths TimeUnit = "months"
)

func ValidTimeUnit(u TimeUnit) bool {
	switch u {
	case UnitHours, UnitDays, UnitWeeks, UnitMonths:
		return true
	}
	return false
}

type EstimatedTime struct {
	Value int      `json:"value"`
	Unit  TimeUnit `gorm:"type:varchar(10)" json:"unit"`
}

// Bid is a freelancer's proposal on a job. One bid per freelancer per job.
type Bid struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bid_job_freelancer" json:"job_id"`
	FreelancerID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_bid_job_freelancer" json:"freelancer_id"`

	Proposal      string          `gorm:"type:text;not null" json:"proposal"`
	Price         decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"price"`
	EstimatedTime EstimatedTime   `gorm:"embedded;embeddedPrefix:estimated_time_" json:"estimated_time"`

	Status BidStatus `gorm:"type:varchar(10);default:'pending';index" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Job        *Job  `gorm:"foreignKey:JobID" json:"job,omitempty"`
	Freelancer *User `gorm:"foreignKey:FreelancerID" json:"freelancer,omitempty"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) (err error) {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return
}
