package model

// HistoryKind classifies a transaction history entry
type HistoryKind string

const (
	HistoryKindPayment HistoryKind = "payment"
	HistoryKindRetry   HistoryKind = "retry"
	HistoryKindRefund  HistoryKind = "refund"
	HistoryKindCancel  HistoryKind = "cancel"
	HistoryKindMethod  HistoryKind = "method"
)

// HistoryEntry is one line of a payer's append-only audit trail.
// Sequence starts at 1 per payer.
type HistoryEntry struct {
	Payer           string        `gorm:"primaryKey;size:100" json:"payer"`
	Sequence        int64         `gorm:"primaryKey;autoIncrement:false" json:"sequence"`
	PaymentID       int64         `gorm:"index" json:"payment_id"`
	Kind            HistoryKind   `gorm:"size:20;not null" json:"kind"`
	Amount          int64         `gorm:"not null" json:"amount"`
	LoggedAt        uint64        `gorm:"not null" json:"logged_at"`
	ResultingStatus PaymentStatus `gorm:"size:20" json:"resulting_status"`
}

// TableName specifies the table name for GORM
func (HistoryEntry) TableName() string {
	return "transaction_history"
}
