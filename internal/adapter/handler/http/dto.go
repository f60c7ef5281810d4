package http

// SchedulePaymentRequest is the body of POST /payments
type SchedulePaymentRequest struct {
	SubscriptionID string `json:"subscription_id" validate:"required,max=100"`
	Payee          string `json:"payee" validate:"required,max=100"`
	Amount         int64  `json:"amount"`
	PaymentMethod  string `json:"payment_method" validate:"required"`
	ScheduledAt    uint64 `json:"scheduled_at"`
}

// ReportFailureRequest is the body of POST /payments/:id/failures
type ReportFailureRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// RefundPaymentRequest is the body of POST /payments/:id/refunds
type RefundPaymentRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason" validate:"max=500"`
}

// RegisterMethodRequest is the body of POST /methods
type RegisterMethodRequest struct {
	MethodType            string `json:"method_type" validate:"required"`
	IsDefault             bool   `json:"is_default"`
	AutoRechargeEnabled   bool   `json:"auto_recharge_enabled"`
	AutoRechargeThreshold int64  `json:"auto_recharge_threshold" validate:"gte=0"`
	AutoRechargeAmount    int64  `json:"auto_recharge_amount" validate:"gte=0"`
}

// DepositRequest is the body of POST /methods/:index/deposit
type DepositRequest struct {
	Amount int64 `json:"amount"`
}

// SetFeeRequest is the body of PUT /admin/settings/fee
type SetFeeRequest struct {
	PlatformFeeBps int64 `json:"platform_fee_bps"`
}

// SetRetryRequest is the body of PUT /admin/settings/retry. Omitted
// fields keep their current value.
type SetRetryRequest struct {
	Enabled     *bool   `json:"enabled"`
	MaxAttempts *int    `json:"max_attempts"`
	Delay       *uint64 `json:"delay"`
}

// SetRefundWindowRequest is the body of PUT /admin/settings/refund-window
type SetRefundWindowRequest struct {
	RefundWindow uint64 `json:"refund_window"`
}

// AdvanceClockRequest is the body of POST /admin/clock/advance
type AdvanceClockRequest struct {
	Ticks uint64 `json:"ticks" validate:"required"`
}
