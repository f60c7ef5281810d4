package model

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// PaymentMethodType enumerates how a payment is funded
type PaymentMethodType string

const (
	PaymentMethodDirectTransfer PaymentMethodType = "direct_transfer"
	PaymentMethodEscrow         PaymentMethodType = "escrow"
	PaymentMethodAutoDebit      PaymentMethodType = "auto_debit"
)

// Valid reports whether t is one of the known method types.
func (t PaymentMethodType) Valid() bool {
	switch t {
	case PaymentMethodDirectTransfer, PaymentMethodEscrow, PaymentMethodAutoDebit:
		return true
	}
	return false
}

// ParsePaymentMethodType accepts the snake_case names as well as the
// CamelCase spelling used by older clients ("DirectTransfer").
func ParsePaymentMethodType(s string) (PaymentMethodType, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch strings.ReplaceAll(normalized, "_", "") {
	case "directtransfer":
		return PaymentMethodDirectTransfer, nil
	case "escrow":
		return PaymentMethodEscrow, nil
	case "autodebit":
		return PaymentMethodAutoDebit, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// Scan implements sql.Scanner interface
func (t *PaymentMethodType) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*t = PaymentMethodType(v)
	case []byte:
		*t = PaymentMethodType(v)
	default:
		return fmt.Errorf("unsupported payment method type %T", src)
	}
	return nil
}

// Value implements driver.Valuer interface
func (t PaymentMethodType) Value() (driver.Value, error) {
	return string(t), nil
}

// PaymentMethod is a payer's registered funding source.
// MethodIndex starts at 1 per payer.
type PaymentMethod struct {
	Payer                 string            `gorm:"primaryKey;size:100" json:"payer"`
	MethodIndex           int               `gorm:"primaryKey;autoIncrement:false" json:"method_index"`
	MethodType            PaymentMethodType `gorm:"size:32;not null" json:"method_type"`
	IsDefault             bool              `gorm:"not null;default:false" json:"is_default"`
	IsActive              bool              `gorm:"not null;default:true" json:"is_active"`
	EscrowBalance         int64             `gorm:"not null;default:0" json:"escrow_balance"`
	AutoRechargeEnabled   bool              `gorm:"not null;default:false" json:"auto_recharge_enabled"`
	AutoRechargeThreshold int64             `gorm:"not null;default:0" json:"auto_recharge_threshold"`
	AutoRechargeAmount    int64             `gorm:"not null;default:0" json:"auto_recharge_amount"`
	CreatedAt             uint64            `gorm:"column:created_at_tick;not null;autoCreateTime:false" json:"created_at"`
	LastUsed              uint64            `json:"last_used"`
}

// TableName specifies the table name for GORM
func (PaymentMethod) TableName() string {
	return "payment_methods"
}

// NeedsRecharge reports whether the escrow balance has dropped below the
// auto-recharge threshold.
func (m *PaymentMethod) NeedsRecharge() bool {
	return m.AutoRechargeEnabled && m.AutoRechargeAmount > 0 && m.EscrowBalance < m.AutoRechargeThreshold
}
