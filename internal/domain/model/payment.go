package model

import (
	"database/sql/driver"
	"time"
)

// PaymentStatus represents the lifecycle stage of a scheduled payment
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSuccess   PaymentStatus = "success"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// Terminal reports whether no further transition is possible from s.
// Success is not terminal because it may still become Refunded.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

// Scan implements sql.Scanner interface
func (s *PaymentStatus) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*s = PaymentStatus(v)
	case []byte:
		*s = PaymentStatus(v)
	default:
		*s = PaymentStatusPending
	}
	return nil
}

// Value implements driver.Valuer interface
func (s PaymentStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// ScheduledPayment is a single future-dated payment owned by the engine.
// Records are never deleted.
type ScheduledPayment struct {
	ID             int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID string            `gorm:"size:100;not null;index" json:"subscription_id"`
	Payer          string            `gorm:"size:100;not null;index" json:"payer"`
	Payee          string            `gorm:"size:100;not null" json:"payee"`
	Amount         int64             `gorm:"not null" json:"amount"`
	PaymentMethod  PaymentMethodType `gorm:"size:32;not null" json:"payment_method"`
	ScheduledAt    uint64            `gorm:"not null;index" json:"scheduled_at"`
	Status         PaymentStatus     `gorm:"size:20;not null;index" json:"status"`
	RetryCount     int               `gorm:"not null;default:0" json:"retry_count"`
	LastRetryAt    uint64            `json:"last_retry_at"`
	NextRetryAt    uint64            `json:"next_retry_at"`
	CreatedAt      uint64            `gorm:"column:created_at_tick;not null;autoCreateTime:false" json:"created_at"`
	ProcessedAt    uint64            `json:"processed_at"`
	FeeCharged     int64             `gorm:"not null;default:0" json:"fee_charged"`
	ExternalTxRef  *string           `gorm:"size:200" json:"external_tx_ref,omitempty"`
	FailureReason  *string           `json:"failure_reason,omitempty"`
	Version        int64             `gorm:"not null;default:0" json:"version"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for GORM
func (ScheduledPayment) TableName() string {
	return "scheduled_payments"
}

// PaymentExecution is the audit record of one execution attempt,
// successful or not. Keyed by (payment_id, attempt_number).
type PaymentExecution struct {
	PaymentID     int64   `gorm:"primaryKey;autoIncrement:false" json:"payment_id"`
	AttemptNumber int     `gorm:"primaryKey;autoIncrement:false" json:"attempt_number"`
	ExecutedAt    uint64  `gorm:"not null" json:"executed_at"`
	AmountCharged int64   `gorm:"not null" json:"amount_charged"`
	FeeCharged    int64   `gorm:"not null" json:"fee_charged"`
	Success       bool    `gorm:"not null" json:"success"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	ExternalTxRef *string `gorm:"size:200" json:"external_tx_ref,omitempty"`
}

// TableName specifies the table name for GORM
func (PaymentExecution) TableName() string {
	return "payment_executions"
}
