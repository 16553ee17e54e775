package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TrxDeposit       TransactionType = "deposit"
	TrxWithdrawal    TransactionType = "withdrawal"
	TrxEscrowHold    TransactionType = "escrow_hold"
	TrxEscrowRelease TransactionType = "escrow_release"
	TrxRefund        TransactionType = "refund"
	TrxFee           TransactionType = "fee"
)

type TransactionStatus string

const (
	TrxStatusPending   TransactionStatus = "pending"
	TrxStatusCompleted TransactionStatus = "completed"
	TrxStatusFailed    TransactionStatus = "failed"
	TrxStatusCancelled TransactionStatus = "cancelled"
)

// TransactionMetadata is the structured payload stored in the metadata column.
type TransactionMetadata struct {
	JobID            *uuid.UUID      `json:"job_id,omitempty"`
	ContractID       *uuid.UUID      `json:"contract_id,omitempty"`
	PaymentGatewayID string          `json:"payment_gateway_id,omitempty"`
	PlatformFee      decimal.Decimal `json:"platform_fee,omitempty"`
}

// Transaction is an append-only ledger entry. Amounts are signed: negative for
// an outgoing hold on the client, positive for incoming credit. Never mutated
// after reaching completed.
type Transaction struct {
	ID     uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID uuid.UUID       `gorm:"type:uuid;not null;index" json:"user_id"`
	Type   TransactionType `gorm:"type:varchar(20);not null" json:"type"`

	Amount      decimal.Decimal `gorm:"type:decimal(19,4);not null" json:"amount"`
	Currency    string          `gorm:"type:varchar(3);default:'USD'" json:"currency"`
	Description string          `gorm:"type:text" json:"description"`
	Metadata    datatypes.JSON  `json:"metadata,omitempty"`

	Status      TransactionStatus `gorm:"type:varchar(10);default:'pending';index" json:"status"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`

	User *User `gorm:"foreignKey:UserID" json:"-"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) (err error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return
}

// DecodeMetadata unpacks the metadata column; empty metadata yields zero value.
func (t *Transaction) DecodeMetadata() (TransactionMetadata, error) {
	var md TransactionMetadata
	if len(t.Metadata) == 0 {
		return md, nil
	}
	err := json.Unmarshal(t.Metadata, &md)
	return md, err
}

// EncodeMetadata packs md into the metadata column.
func (t *Transaction) EncodeMetadata(md TransactionMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	t.Metadata = datatypes.JSON(raw)
	return nil
}
