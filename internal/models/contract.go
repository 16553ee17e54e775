package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ContractStatus string

const (
	ContractStatusActive    ContractStatus = "active"
	ContractStatusCompleted ContractStatus = "completed"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusDisputed  ContractStatus = "disputed"
)

// Milestone is a partial, independently releasable portion of the contract price.
type Milestone struct {
	Title     string          `json:"title"`
	Amount    decimal.Decimal `json:"amount"`
	DueDate   *time.Time      `json:"due_date,omitempty"`
	Completed bool            `json:"completed"`
}

type ContractTerms struct {
	Price         decimal.Decimal `gorm:"type:decimal(19,4)" json:"price"`
	EstimatedTime EstimatedTime   `gorm:"embedded;embeddedPrefix:estimated_time_" json:"estimated_time"`
	Milestones    datatypes.JSON  `json:"milestones,omitempty"`
}

// Contract binds client, freelancer, job and the accepted bid. Created exactly
// once per accepted bid, never deleted. The reference fields are immutable.
type Contract struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`
	ClientID     uuid.UUID `gorm:"type:uuid;not null;index" json:"client_id"`
	FreelancerID uuid.UUID `gorm:"type:uuid;not null;index" json:"freelancer_id"`
	BidID        uuid.UUID `gorm:"type:uuid;not null" json:"bid_id"`

	Terms       ContractTerms   `gorm:"embedded;embeddedPrefix:terms_" json:"terms"`
	PlatformFee decimal.Decimal `gorm:"type:decimal(19,4);default:0" json:"platform_fee"`

	Status      ContractStatus `gorm:"type:varchar(10);default:'active';index" json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Job        *Job  `gorm:"foreignKey:JobID" json:"job,omitempty"`
	Client     *User `gorm:"foreignKey:ClientID" json:"client,omitempty"`
	Freelancer *User `gorm:"foreignKey:FreelancerID" json:"freelancer,omitempty"`
}

func (ct *Contract) BeforeCreate(tx *gorm.DB) (err error) {
	if ct.ID == uuid.Nil {
		ct.ID = uuid.New()
	}
	if ct.StartedAt.IsZero() {
		ct.StartedAt = time.Now()
	}
	return
}

// Milestones decodes the JSON milestone list. An empty column yields nil.
func (ct *Contract) Milestones() ([]Milestone, error) {
	if len(ct.Terms.Milestones) == 0 {
		return nil, nil
	}
	var ms []Milestone
	if err := json.Unmarshal(ct.Terms.Milestones, &ms); err != nil {
		return nil, err
	}
	return ms, nil
}

func (ct *Contract) SetMilestones(ms []Milestone) error {
	raw, err := json.Marshal(ms)
	if err != nil {
		return err
	}
	ct.Terms.Milestones = datatypes.JSON(raw)
	return nil
}
