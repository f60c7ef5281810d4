package model

// BasisPoints is 100% expressed in bps.
const BasisPoints int64 = 10000

// SubscriptionAnalytics accumulates per-subscription payment statistics.
// TotalPayments == SuccessfulPayments + FailedPayments at all times.
type SubscriptionAnalytics struct {
	SubscriptionID       string `gorm:"primaryKey;size:100" json:"subscription_id"`
	TotalPayments        int64  `gorm:"not null;default:0" json:"total_payments"`
	SuccessfulPayments   int64  `gorm:"not null;default:0" json:"successful_payments"`
	FailedPayments       int64  `gorm:"not null;default:0" json:"failed_payments"`
	TotalAmountPaid      int64  `gorm:"not null;default:0" json:"total_amount_paid"`
	TotalFeesPaid        int64  `gorm:"not null;default:0" json:"total_fees_paid"`
	TotalRefunds         int64  `gorm:"not null;default:0" json:"total_refunds"`
	TotalRefundedAmount  int64  `gorm:"not null;default:0" json:"total_refunded_amount"`
	AveragePaymentAmount int64  `gorm:"not null;default:0" json:"average_payment_amount"`
	SuccessRateBps       int64  `gorm:"not null;default:0" json:"success_rate_bps"`
	LastPaymentAt        uint64 `json:"last_payment_at"`
}

// TableName specifies the table name for GORM
func (SubscriptionAnalytics) TableName() string {
	return "subscription_analytics"
}

// RecordSuccess adds a successful execution of amount with fee at tick now.
func (a *SubscriptionAnalytics) RecordSuccess(amount, fee int64, now uint64) {
	a.TotalPayments++
	a.SuccessfulPayments++
	a.TotalAmountPaid += amount
	a.TotalFeesPaid += fee
	a.LastPaymentAt = now
	a.recompute()
}

// RecordFailure adds one failed execution attempt.
func (a *SubscriptionAnalytics) RecordFailure() {
	a.TotalPayments++
	a.FailedPayments++
	a.recompute()
}

// RecordRefund adds a processed refund of amount.
func (a *SubscriptionAnalytics) RecordRefund(amount int64) {
	a.TotalRefunds++
	a.TotalRefundedAmount += amount
}

func (a *SubscriptionAnalytics) recompute() {
	if a.TotalPayments == 0 {
		a.AveragePaymentAmount = 0
		a.SuccessRateBps = 0
		return
	}
	a.AveragePaymentAmount = a.TotalAmountPaid / a.TotalPayments
	a.SuccessRateBps = a.SuccessfulPayments * BasisPoints / a.TotalPayments
}

// PayerStats accumulates per-payer statistics.
// TotalPaymentsMade == SuccessfulPaymentCount + FailedPaymentCount.
type PayerStats struct {
	Payer                  string `gorm:"primaryKey;size:100" json:"payer"`
	TotalPaymentsMade      int64  `gorm:"not null;default:0" json:"total_payments_made"`
	SuccessfulPaymentCount int64  `gorm:"not null;default:0" json:"successful_payment_count"`
	FailedPaymentCount     int64  `gorm:"not null;default:0" json:"failed_payment_count"`
	TotalAmountSpent       int64  `gorm:"not null;default:0" json:"total_amount_spent"`
	TotalFeesPaid          int64  `gorm:"not null;default:0" json:"total_fees_paid"`
	TotalRefundsReceived   int64  `gorm:"not null;default:0" json:"total_refunds_received"`
	DefaultPaymentMethod   int    `gorm:"not null;default:0" json:"default_payment_method"`
	ReliabilityScoreBps    int64  `gorm:"not null;default:0" json:"reliability_score_bps"`
}

// TableName specifies the table name for GORM
func (PayerStats) TableName() string {
	return "payer_stats"
}

// RecordSuccess adds a successful execution of amount with fee.
func (s *PayerStats) RecordSuccess(amount, fee int64) {
	s.TotalPaymentsMade++
	s.SuccessfulPaymentCount++
	s.TotalAmountSpent += amount
	s.TotalFeesPaid += fee
	s.recompute()
}

// RecordFailure adds one failed execution attempt.
func (s *PayerStats) RecordFailure() {
	s.TotalPaymentsMade++
	s.FailedPaymentCount++
	s.recompute()
}

// RecordRefund adds one refund received.
func (s *PayerStats) RecordRefund() {
	s.TotalRefundsReceived++
}

// recompute sets the reliability score. A payer without any successful
// payment scores 0.
func (s *PayerStats) recompute() {
	attempts := s.SuccessfulPaymentCount + s.FailedPaymentCount
	if s.SuccessfulPaymentCount == 0 || attempts == 0 {
		s.ReliabilityScoreBps = 0
		return
	}
	s.ReliabilityScoreBps = s.SuccessfulPaymentCount * BasisPoints / attempts
}

// GlobalStats accumulates engine-wide statistics in a single row.
type GlobalStats struct {
	ID                 int64 `gorm:"primaryKey;autoIncrement:false" json:"-"`
	TotalPayments      int64 `gorm:"not null;default:0" json:"total_payments"`
	SuccessfulPayments int64 `gorm:"not null;default:0" json:"successful_payments"`
	FailedPayments     int64 `gorm:"not null;default:0" json:"failed_payments"`
	TotalVolume        int64 `gorm:"not null;default:0" json:"total_volume"`
	TotalFees          int64 `gorm:"not null;default:0" json:"total_fees"`
	TotalRefunds       int64 `gorm:"not null;default:0" json:"total_refunds"`
	TotalRefundVolume  int64 `gorm:"not null;default:0" json:"total_refund_volume"`
}

// TableName specifies the table name for GORM
func (GlobalStats) TableName() string {
	return "global_stats"
}

// GlobalStatsRowID is the primary key of the single global stats row.
const GlobalStatsRowID int64 = 1

func (g *GlobalStats) RecordSuccess(amount, fee int64) {
	g.TotalPayments++
	g.SuccessfulPayments++
	g.TotalVolume += amount
	g.TotalFees += fee
}

func (g *GlobalStats) RecordFailure() {
	g.TotalPayments++
	g.FailedPayments++
}

func (g *GlobalStats) RecordRefund(amount int64) {
	g.TotalRefunds++
	g.TotalRefundVolume += amount
}
