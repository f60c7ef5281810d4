package model

// RefundStatus represents the outcome of a refund
type RefundStatus string

const (
	RefundStatusProcessed RefundStatus = "processed"
)

// Refund is created once per successful refund call and never modified.
type Refund struct {
	ID             int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID      int64        `gorm:"not null;uniqueIndex" json:"payment_id"`
	SubscriptionID string       `gorm:"size:100;not null;index" json:"subscription_id"`
	Requester      string       `gorm:"size:100;not null" json:"requester"`
	OriginalAmount int64        `gorm:"not null" json:"original_amount"`
	RefundAmount   int64        `gorm:"not null" json:"refund_amount"`
	FeeRefunded    int64        `gorm:"not null" json:"fee_refunded"`
	Reason         string       `json:"reason"`
	Status         RefundStatus `gorm:"size:20;not null" json:"status"`
	RequestedAt    uint64       `gorm:"not null" json:"requested_at"`
	ProcessedAt    uint64       `gorm:"not null" json:"processed_at"`
	ApprovedBy     string       `gorm:"size:100" json:"approved_by"`
	ExternalTxRef  *string      `gorm:"size:200" json:"external_tx_ref,omitempty"`
}

// TableName specifies the table name for GORM
func (Refund) TableName() string {
	return "refunds"
}
