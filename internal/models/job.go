package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusInProgress JobStatus = "in-progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

type BudgetType string

const (
	BudgetFixed  BudgetType = "fixed"
	BudgetHourly BudgetType = "hourly"
)

type JobDuration string

const (
	DurationLessThanWeek JobDuration = "less-than-week"
	DurationOneTwoWeeks  JobDuration = "1-2 weeks"
	DurationTwoFourWeeks JobDuration = "2-4 weeks"
	DurationOneThreeMo   JobDuration = "1-3 months"
	DurationThreePlusMo  JobDuration = "3+ months"
)

func ValidDuration(d JobDuration) bool {
	switch d {
	case DurationLessThanWeek, DurationOneTwoWeeks, DurationTwoFourWeeks, DurationOneThreeMo, DurationThreePlusMo:
		return true
	}
	return false
}

type Budget struct {
	Type  BudgetType      `gorm:"type:varchar(10)" json:"type"`
	Fixed decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"fixed,omitempty"`
	Min   decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"min,omitempty"`
	Max   decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"max,omitempty"`
}

// Escrow is the funds-hold sub-record embedded in a job.
// Invariant: Released implies Funded was true at release time.
type Escrow struct {
	Funded   bool            `gorm:"default:false" json:"funded"`
	Amount   decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"amount"`
	Released bool            `gorm:"default:false" json:"released"`
}

// SelectedFreelancer is set exactly once, when a bid is accepted.
type SelectedFreelancer struct {
	FreelancerID *uuid.UUID `gorm:"type:uuid;index" json:"freelancer_id,omitempty"`
	BidID        *uuid.UUID `gorm:"type:uuid" json:"bid_id,omitempty"`
	AcceptedAt   *time.Time `json:"accepted_at,omitempty"`
}

type Completion struct {
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ClientRating *int       `json:"client_rating,omitempty"`
	ClientReview string     `gorm:"type:text" json:"client_review,omitempty"`
}

type Job struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	ClientID    uuid.UUID `gorm:"type:uuid;not null;index" json:"client_id"`

	SkillsRequired datatypes.JSON `json:"skills_required"`
	Budget         Budget         `gorm:"embedded;embeddedPrefix:budget_" json:"budget"`
	Duration       JobDuration    `gorm:"type:varchar(20);not null" json:"duration"`
	Visibility     string         `gorm:"type:varchar(10);default:'public'" json:"visibility"`

	Status JobStatus `gorm:"type:varchar(20);default:'open';index" json:"status"`
	Escrow Escrow    `gorm:"embedded;embeddedPrefix:escrow_" json:"escrow"`

	SelectedFreelancer SelectedFreelancer `gorm:"embedded;embeddedPrefix:selected_" json:"selected_freelancer"`
	Completion         Completion         `gorm:"embedded;embeddedPrefix:completion_" json:"completion"`

	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Client *User `gorm:"foreignKey:ClientID" json:"client,omitempty"`
}

func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.ExpiresAt.IsZero() {
		j.ExpiresAt = time.Now().AddDate(0, 0, 30)
	}
	return
}
