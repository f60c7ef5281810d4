package repository

import (
	"context"

	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
)

// Store is the single data-access layer of the engine. All mutations go
// through Transact; reads outside a transaction see committed state only.
type Store interface {
	// Transact runs fn inside one all-or-nothing unit of work. Nothing fn
	// writes is visible to other callers unless fn returns nil.
	Transact(ctx context.Context, fn func(tx Tx) error) error

	GetPayment(ctx context.Context, id int64) (*model.ScheduledPayment, error)
	ListDuePayments(ctx context.Context, now uint64, limit int) ([]*model.ScheduledPayment, error)
	GetExecution(ctx context.Context, paymentID int64, attempt int) (*model.PaymentExecution, error)
	ListExecutions(ctx context.Context, paymentID int64) ([]*model.PaymentExecution, error)
	GetRefund(ctx context.Context, id int64) (*model.Refund, error)
	GetPaymentMethod(ctx context.Context, payer string, index int) (*model.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, payer string) ([]*model.PaymentMethod, error)

	// Analytics reads return a zero-valued record for unknown keys.
	GetSubscriptionAnalytics(ctx context.Context, subscriptionID string) (*model.SubscriptionAnalytics, error)
	GetPayerStats(ctx context.Context, payer string) (*model.PayerStats, error)
	GetGlobalStats(ctx context.Context) (*model.GlobalStats, error)

	ListHistory(ctx context.Context, payer string, limit, offset int) ([]*model.HistoryEntry, error)

	// LoadSettings returns the settings row, or nil when not seeded yet.
	LoadSettings(ctx context.Context) (*model.EngineSettings, error)

	// Ready reports whether the backing storage is reachable.
	Ready(ctx context.Context) error
}

// Tx is the view of the store inside a unit of work. Lookups that miss
// return the domain ErrNotFound.
type Tx interface {
	// LockPayment loads the payment and holds its lock until the unit of
	// work ends, so the status check and the transition are one step.
	LockPayment(id int64) (*model.ScheduledPayment, error)
	// InsertPayment assigns the next payment id.
	InsertPayment(p *model.ScheduledPayment) error
	SavePayment(p *model.ScheduledPayment) error

	InsertExecution(e *model.PaymentExecution) error
	// InsertRefund assigns the next refund id.
	InsertRefund(r *model.Refund) error

	// LockPayerMethods holds a payer-wide lock on the payer's method set
	// until the unit of work ends. Take it before listing methods that are
	// about to change, and before any single method lock.
	LockPayerMethods(payer string) error
	// LockPaymentMethod loads a payer's method for update.
	LockPaymentMethod(payer string, index int) (*model.PaymentMethod, error)
	ListPaymentMethods(payer string) ([]*model.PaymentMethod, error)
	// InsertPaymentMethod assigns the payer's next method index, from 1.
	InsertPaymentMethod(m *model.PaymentMethod) error
	SavePaymentMethod(m *model.PaymentMethod) error

	// AppendHistory assigns the payer's next sequence number, from 1.
	AppendHistory(e *model.HistoryEntry) error

	// The analytics updaters apply fn to the current record, or to a zero
	// record keyed for the scope. Updates to one scope are serialized.
	UpdateSubscriptionAnalytics(subscriptionID string, fn func(a *model.SubscriptionAnalytics)) error
	UpdatePayerStats(payer string, fn func(s *model.PayerStats)) error
	UpdateGlobalStats(fn func(g *model.GlobalStats)) error

	// LoadSettings reads the settings row without locking it.
	LoadSettings() (*model.EngineSettings, error)
	// LockSettings reads the settings row for update. It returns
	// ErrNotFound, with the lock held, when the row is not seeded yet.
	LockSettings() (*model.EngineSettings, error)
	SaveSettings(s *model.EngineSettings) error
}
