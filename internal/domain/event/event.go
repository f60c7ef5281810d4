package event

import "context"

// Type names an engine event
type Type string

const (
	PaymentScheduled      Type = "payment.scheduled"
	PaymentExecuted       Type = "payment.executed"
	PaymentRetryScheduled Type = "payment.retry_scheduled"
	PaymentFailed         Type = "payment.failed"
	PaymentCancelled      Type = "payment.cancelled"
	PaymentRefunded       Type = "payment.refunded"
	MethodRegistered      Type = "method.registered"
	MethodDeactivated     Type = "method.deactivated"
	EscrowDeposited       Type = "escrow.deposited"
	SettingsChanged       Type = "settings.changed"
)

// Envelope is published once per committed mutation.
type Envelope struct {
	ID             string                 `json:"id"`
	Type           Type                   `json:"type"`
	PaymentID      int64                  `json:"payment_id,omitempty"`
	Payer          string                 `json:"payer,omitempty"`
	SubscriptionID string                 `json:"subscription_id,omitempty"`
	Amount         int64                  `json:"amount,omitempty"`
	Tick           uint64                 `json:"tick"`
	Data           map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers engine events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }
