package usecase_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memLedger "github.com/wekeepgrowing/semo-recurring/internal/adapter/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/adapter/repository/memory"
	"github.com/wekeepgrowing/semo-recurring/internal/clock"
	customErr "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/event"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	domainRepo "github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
)

const (
	admin  = "admin"
	driver = "driver"
	alice  = "alice"
	bob    = "bob"
	mallet = "mallet"
)

// MockPublisher is a mock implementation of event.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, e event.Envelope) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

// MockLedger is a mock implementation of ledger.Ledger
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) TransferValue(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(ledger.Receipt), args.Error(1)
}

func (m *MockLedger) ReverseValue(ctx context.Context, r ledger.Reversal) (ledger.Receipt, error) {
	args := m.Called(ctx, r)
	return args.Get(0).(ledger.Receipt), args.Error(1)
}

type fixture struct {
	engine *usecase.Engine
	clock  *clock.Logical
	ledger *memLedger.MemoryLedger
	store  *memory.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore(logger)
	ldg := memLedger.NewMemoryLedger("treasury", logger)
	clk := clock.NewLogical(1000)

	engine := usecase.NewEngine(store, ldg, clk, nil, logger, usecase.EngineOptions{DriverPrincipals: []string{driver}})
	_, err := engine.EnsureSettings(context.Background(), usecase.DefaultSettings(admin))
	require.NoError(t, err)

	return &fixture{engine: engine, clock: clk, ledger: ldg, store: store}
}

func (f *fixture) schedule(t *testing.T, payer, subscription string, amount int64, at uint64) int64 {
	t.Helper()
	id, err := f.engine.Schedule(context.Background(), payer, usecase.ScheduleRequest{
		SubscriptionID: subscription,
		Payee:          bob,
		Amount:         amount,
		Method:         model.PaymentMethodDirectTransfer,
		ScheduledAt:    at,
	})
	require.NoError(t, err)
	return id
}

// assertCounters checks total == successful + failed at every scope
func assertCounters(t *testing.T, f *fixture, subscription, payer string) {
	t.Helper()
	ctx := context.Background()

	sub, err := f.engine.GetSubscriptionAnalytics(ctx, subscription)
	require.NoError(t, err)
	assert.Equal(t, sub.TotalPayments, sub.SuccessfulPayments+sub.FailedPayments)

	stats, err := f.engine.GetPayerStats(ctx, payer)
	require.NoError(t, err)
	assert.Equal(t, stats.TotalPaymentsMade, stats.SuccessfulPaymentCount+stats.FailedPaymentCount)

	global, err := f.engine.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, global.TotalPayments, global.SuccessfulPayments+global.FailedPayments)
}

func TestPlatformFee(t *testing.T) {
	assert.Equal(t, int64(15_000), usecase.PlatformFee(1_000_000, 150))
	assert.Equal(t, int64(1_500_000), usecase.PlatformFee(100_000_000, 150))
	assert.Equal(t, int64(0), usecase.PlatformFee(66, 150))
	assert.Equal(t, int64(1), usecase.PlatformFee(67, 150))
	assert.Equal(t, int64(math.MaxInt64/10), usecase.PlatformFee(math.MaxInt64, 1000))
	assert.Equal(t, int64(0), usecase.PlatformFee(1_000_000, 0))
}

func TestProportionalFee(t *testing.T) {
	assert.Equal(t, int64(1_500_000), usecase.ProportionalFee(1_500_000, 100_000_000, 100_000_000))
	assert.Equal(t, int64(750_000), usecase.ProportionalFee(1_500_000, 50_000_000, 100_000_000))
	assert.Equal(t, int64(2), usecase.ProportionalFee(7, 1, 3))
	assert.Equal(t, int64(0), usecase.ProportionalFee(0, 1, 3))
}

func TestEngine_Schedule(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects invalid input without storing anything", func(t *testing.T) {
		f := newFixture(t)
		now := f.clock.Now()

		_, err := f.engine.Schedule(ctx, alice, usecase.ScheduleRequest{SubscriptionID: "sub-1", Payee: bob, Amount: 0, Method: model.PaymentMethodDirectTransfer, ScheduledAt: now})
		assert.ErrorIs(t, err, customErr.ErrInvalidAmount)

		_, err = f.engine.Schedule(ctx, alice, usecase.ScheduleRequest{SubscriptionID: "sub-1", Payee: bob, Amount: 10, Method: model.PaymentMethodDirectTransfer, ScheduledAt: now - 1})
		assert.ErrorIs(t, err, customErr.ErrInvalidSchedule)

		_, err = f.engine.Schedule(ctx, alice, usecase.ScheduleRequest{SubscriptionID: "sub-1", Payee: bob, Amount: 10, Method: "card", ScheduledAt: now})
		assert.ErrorIs(t, err, customErr.ErrInvalidPaymentMethod)

		_, err = f.engine.GetPayment(ctx, 1)
		assert.ErrorIs(t, err, customErr.ErrNotFound)
		history, err := f.engine.ListHistory(ctx, alice, 0, 0)
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("stores a pending payment and a history entry", func(t *testing.T) {
		f := newFixture(t)
		now := f.clock.Now()

		first := f.schedule(t, alice, "sub-1", 500, now)
		second := f.schedule(t, alice, "sub-1", 500, now+10)
		assert.Equal(t, int64(1), first)
		assert.Equal(t, int64(2), second)

		p, err := f.engine.GetPayment(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Equal(t, alice, p.Payer)
		assert.Equal(t, now, p.CreatedAt)
		assert.Zero(t, p.RetryCount)

		history, err := f.engine.ListHistory(ctx, alice, 0, 0)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, int64(1), history[0].Sequence)
		assert.Equal(t, int64(2), history[1].Sequence)
		assert.Equal(t, model.HistoryKindPayment, history[0].Kind)

		global, err := f.engine.GetGlobalStats(ctx)
		require.NoError(t, err)
		assert.Zero(t, global.TotalPayments)
	})
}

func TestEngine_ScheduleThenExecute(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Credit(alice, 100_000_000)

	id := f.schedule(t, alice, "sub-1", 100_000_000, f.clock.Now()+100)

	_, err := f.engine.Execute(ctx, id)
	assert.ErrorIs(t, err, customErr.ErrInvalidSchedule)

	due, err := f.engine.IsPaymentDue(ctx, id)
	require.NoError(t, err)
	assert.False(t, due)

	f.clock.Advance(100)
	due, err = f.engine.IsPaymentDue(ctx, id)
	require.NoError(t, err)
	assert.True(t, due)

	result, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), result.AmountCharged)
	assert.Equal(t, int64(1_500_000), result.FeeCharged)
	assert.Equal(t, 1, result.Attempt)
	assert.NotEmpty(t, result.ExternalTxRef)

	p, err := f.engine.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSuccess, p.Status)
	assert.Equal(t, f.clock.Now(), p.ProcessedAt)
	assert.Equal(t, int64(1_500_000), p.FeeCharged)

	sub, err := f.engine.GetSubscriptionAnalytics(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), sub.SuccessRateBps)
	assert.Equal(t, int64(100_000_000), sub.AveragePaymentAmount)
	assert.Equal(t, int64(1_500_000), sub.TotalFeesPaid)
	assert.Equal(t, f.clock.Now(), sub.LastPaymentAt)

	assert.Equal(t, int64(0), f.ledger.Balance(alice))
	assert.Equal(t, int64(98_500_000), f.ledger.Balance(bob))
	assert.Equal(t, int64(1_500_000), f.ledger.Balance("treasury"))

	executions, err := f.engine.ListExecutions(ctx, id)
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.True(t, executions[0].Success)

	assertCounters(t, f, "sub-1", alice)
}

func TestEngine_ExecuteExactlyOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("second execute returns invalid status", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 1_000)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		_, err := f.engine.Execute(ctx, id)
		require.NoError(t, err)
		_, err = f.engine.Execute(ctx, id)
		assert.ErrorIs(t, err, customErr.ErrInvalidStatus)
	})

	t.Run("concurrent executes charge once", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 10_000)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			successes int
		)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.engine.Execute(ctx, id); err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, customErr.ErrInvalidStatus)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, successes)
		assert.Equal(t, int64(9_000), f.ledger.Balance(alice))
		global, err := f.engine.GetGlobalStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), global.SuccessfulPayments)
	})

	t.Run("concurrent payments on one subscription keep counters consistent", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 1_000_000)
		ids := make([]int64, 40)
		for i := range ids {
			ids[i] = f.schedule(t, alice, "sub-1", 100, f.clock.Now())
		}

		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id int64) {
				defer wg.Done()
				if i%4 == 0 {
					_, err := f.engine.ReportFailure(ctx, driver, id, "card declined")
					assert.NoError(t, err)
					return
				}
				_, err := f.engine.Execute(ctx, id)
				assert.NoError(t, err)
			}(i, id)
		}
		wg.Wait()

		sub, err := f.engine.GetSubscriptionAnalytics(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(40), sub.TotalPayments)
		assert.Equal(t, int64(30), sub.SuccessfulPayments)
		assert.Equal(t, int64(10), sub.FailedPayments)
		assertCounters(t, f, "sub-1", alice)
	})
}

func TestEngine_ReportFailure(t *testing.T) {
	ctx := context.Background()

	t.Run("three failures exhaust retries", func(t *testing.T) {
		f := newFixture(t)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		// alice has no funds on the ledger
		_, err := f.engine.Execute(ctx, id)
		require.ErrorIs(t, err, customErr.ErrExecutionFailed)
		p, err := f.engine.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusPending, p.Status)
		assert.Zero(t, p.RetryCount)

		for attempt := 1; attempt <= 2; attempt++ {
			decision, err := f.engine.ReportFailure(ctx, driver, id, "insufficient funds")
			require.NoError(t, err)
			assert.True(t, decision.RetryScheduled)
			assert.Equal(t, attempt, decision.Attempt)
			assert.Equal(t, f.clock.Now()+usecase.DefaultRetryDelay, decision.NextRetryAt)

			due, err := f.engine.IsPaymentDue(ctx, id)
			require.NoError(t, err)
			assert.False(t, due)

			f.clock.Advance(usecase.DefaultRetryDelay)
			due, err = f.engine.IsPaymentDue(ctx, id)
			require.NoError(t, err)
			assert.True(t, due)
		}

		decision, err := f.engine.ReportFailure(ctx, driver, id, "insufficient funds")
		require.NoError(t, err)
		assert.False(t, decision.RetryScheduled)
		assert.Zero(t, decision.NextRetryAt)
		assert.Equal(t, model.PaymentStatusFailed, decision.Status)

		p, err = f.engine.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusFailed, p.Status)
		assert.Equal(t, 3, p.RetryCount)
		require.NotNil(t, p.FailureReason)

		_, err = f.engine.ReportFailure(ctx, driver, id, "again")
		assert.ErrorIs(t, err, customErr.ErrInvalidStatus)
		_, err = f.engine.Execute(ctx, id)
		assert.ErrorIs(t, err, customErr.ErrInvalidStatus)

		executions, err := f.engine.ListExecutions(ctx, id)
		require.NoError(t, err)
		require.Len(t, executions, 3)
		for i, e := range executions {
			assert.Equal(t, i+1, e.AttemptNumber)
			assert.False(t, e.Success)
			assert.Zero(t, e.FeeCharged)
			assert.Equal(t, int64(1_000), e.AmountCharged)
		}

		sub, err := f.engine.GetSubscriptionAnalytics(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), sub.FailedPayments)
		assert.Equal(t, int64(3), sub.TotalPayments)

		stats, err := f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.FailedPaymentCount)
		assert.Zero(t, stats.ReliabilityScoreBps)
		assertCounters(t, f, "sub-1", alice)
	})

	t.Run("only admin or driver may report", func(t *testing.T) {
		f := newFixture(t)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		_, err := f.engine.ReportFailure(ctx, mallet, id, "x")
		assert.ErrorIs(t, err, customErr.ErrOwnerOnly)
		_, err = f.engine.ReportFailure(ctx, alice, id, "x")
		assert.ErrorIs(t, err, customErr.ErrOwnerOnly)
		_, err = f.engine.ReportFailure(ctx, admin, 999, "x")
		assert.ErrorIs(t, err, customErr.ErrNotFound)

		decision, err := f.engine.ReportFailure(ctx, admin, id, "x")
		require.NoError(t, err)
		assert.True(t, decision.RetryScheduled)
	})

	t.Run("disabled retry system fails immediately", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.ToggleRetrySystem(ctx, admin, false)
		require.NoError(t, err)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		decision, err := f.engine.ReportFailure(ctx, driver, id, "declined")
		require.NoError(t, err)
		assert.False(t, decision.RetryScheduled)
		assert.Equal(t, model.PaymentStatusFailed, decision.Status)
	})

	t.Run("retry succeeds after delay", func(t *testing.T) {
		f := newFixture(t)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		_, err := f.engine.ReportFailure(ctx, driver, id, "declined")
		require.NoError(t, err)

		f.clock.Advance(usecase.DefaultRetryDelay)
		f.ledger.Credit(alice, 1_000)
		result, err := f.engine.Execute(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Attempt)

		p, err := f.engine.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusSuccess, p.Status)
		assert.Zero(t, p.NextRetryAt)
		assertCounters(t, f, "sub-1", alice)
	})
}

func TestEngine_ReliabilityScore(t *testing.T) {
	ctx := context.Background()

	t.Run("two failures then a success raise the score", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 1_000)
		id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())

		for i := 0; i < 2; i++ {
			_, err := f.engine.ReportFailure(ctx, driver, id, "declined")
			require.NoError(t, err)
		}
		before, err := f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, before.ReliabilityScoreBps)

		_, err = f.engine.Execute(ctx, id)
		require.NoError(t, err)
		after, err := f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Greater(t, after.ReliabilityScoreBps, before.ReliabilityScoreBps)
		assert.Equal(t, int64(3333), after.ReliabilityScoreBps)
	})

	t.Run("two successes and two failures score 5000", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 2_000)
		for i := 0; i < 2; i++ {
			id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now())
			_, err := f.engine.Execute(ctx, id)
			require.NoError(t, err)
		}
		for i := 0; i < 2; i++ {
			id := f.schedule(t, alice, "sub-2", 1_000, f.clock.Now())
			_, err := f.engine.ReportFailure(ctx, driver, id, "declined")
			require.NoError(t, err)
		}

		stats, err := f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(5000), stats.ReliabilityScoreBps)
		assertCounters(t, f, "sub-2", alice)
	})
}

func TestEngine_Refund(t *testing.T) {
	ctx := context.Background()

	executed := func(t *testing.T, f *fixture, amount int64) int64 {
		t.Helper()
		f.ledger.Credit(alice, amount)
		id := f.schedule(t, alice, "sub-1", amount, f.clock.Now())
		_, err := f.engine.Execute(ctx, id)
		require.NoError(t, err)
		return id
	}

	t.Run("full refund returns the whole fee", func(t *testing.T) {
		f := newFixture(t)
		id := executed(t, f, 100_000_000)

		refundID, err := f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 100_000_000, Reason: "duplicate"})
		require.NoError(t, err)

		r, err := f.engine.GetRefund(ctx, refundID)
		require.NoError(t, err)
		assert.Equal(t, int64(1_500_000), r.FeeRefunded)
		assert.Equal(t, int64(100_000_000), r.OriginalAmount)
		assert.Equal(t, alice, r.ApprovedBy)
		assert.Equal(t, model.RefundStatusProcessed, r.Status)

		p, err := f.engine.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusRefunded, p.Status)

		assert.Equal(t, int64(100_000_000), f.ledger.Balance(alice))
		assert.Zero(t, f.ledger.Balance(bob))
		assert.Zero(t, f.ledger.Balance("treasury"))

		sub, err := f.engine.GetSubscriptionAnalytics(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), sub.TotalRefunds)
		assert.Equal(t, int64(100_000_000), sub.TotalRefundedAmount)
		stats, err := f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.TotalRefundsReceived)
		global, err := f.engine.GetGlobalStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(100_000_000), global.TotalRefundVolume)

		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 1})
		assert.ErrorIs(t, err, customErr.ErrRefundNotAllowed)
	})

	t.Run("partial refund prorates the fee", func(t *testing.T) {
		f := newFixture(t)
		id := executed(t, f, 1_000_000)

		refundID, err := f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 333_333})
		require.NoError(t, err)
		r, err := f.engine.GetRefund(ctx, refundID)
		require.NoError(t, err)
		assert.Equal(t, int64(4_999), r.FeeRefunded)
	})

	t.Run("guards", func(t *testing.T) {
		f := newFixture(t)
		pending := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now()+50)
		id := executed(t, f, 1_000)

		_, err := f.engine.Refund(ctx, mallet, usecase.RefundRequest{PaymentID: id, Amount: 1_000})
		assert.ErrorIs(t, err, customErr.ErrUnauthorized)
		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: pending, Amount: 1_000})
		assert.ErrorIs(t, err, customErr.ErrRefundNotAllowed)
		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 1_001})
		assert.ErrorIs(t, err, customErr.ErrInvalidAmount)
		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 0})
		assert.ErrorIs(t, err, customErr.ErrInvalidAmount)
		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: 404, Amount: 1})
		assert.ErrorIs(t, err, customErr.ErrNotFound)

		p, err := f.engine.GetPayment(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusSuccess, p.Status)
	})

	t.Run("window boundary", func(t *testing.T) {
		f := newFixture(t)
		id := executed(t, f, 1_000)
		processedAt := f.clock.Now()

		require.NoError(t, f.clock.Set(processedAt+usecase.DefaultRefundWindow-1))
		eligible, err := f.engine.IsRefundEligible(ctx, id)
		require.NoError(t, err)
		assert.True(t, eligible)

		require.NoError(t, f.clock.Set(processedAt+usecase.DefaultRefundWindow))
		eligible, err = f.engine.IsRefundEligible(ctx, id)
		require.NoError(t, err)
		assert.True(t, eligible)

		require.NoError(t, f.clock.Set(processedAt+usecase.DefaultRefundWindow+1))
		eligible, err = f.engine.IsRefundEligible(ctx, id)
		require.NoError(t, err)
		assert.False(t, eligible)

		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 1_000})
		assert.ErrorIs(t, err, customErr.ErrRefundNotAllowed)
	})

	t.Run("ledger failure leaves the payment refundable", func(t *testing.T) {
		f := newFixture(t)
		id := executed(t, f, 1_000)
		f.ledger.Block(bob)

		_, err := f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 1_000})
		assert.ErrorIs(t, err, customErr.ErrExecutionFailed)

		f.ledger.Unblock(bob)
		_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 1_000})
		assert.NoError(t, err)
	})
}

func TestEngine_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.schedule(t, alice, "sub-1", 1_000, f.clock.Now()+10)

	err := f.engine.Cancel(ctx, mallet, id)
	assert.ErrorIs(t, err, customErr.ErrUnauthorized)

	require.NoError(t, f.engine.Cancel(ctx, alice, id))
	p, err := f.engine.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusCancelled, p.Status)

	assert.ErrorIs(t, f.engine.Cancel(ctx, alice, id), customErr.ErrInvalidStatus)

	f.clock.Advance(10)
	_, err = f.engine.Execute(ctx, id)
	assert.ErrorIs(t, err, customErr.ErrInvalidStatus)
	_, err = f.engine.Refund(ctx, alice, usecase.RefundRequest{PaymentID: id, Amount: 1})
	assert.ErrorIs(t, err, customErr.ErrRefundNotAllowed)

	history, err := f.engine.ListHistory(ctx, alice, 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.HistoryKindCancel, history[1].Kind)

	global, err := f.engine.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, global.TotalPayments)
}

func TestEngine_PaymentMethods(t *testing.T) {
	ctx := context.Background()

	t.Run("register assigns indexes and tracks the default", func(t *testing.T) {
		f := newFixture(t)

		first, err := f.engine.RegisterPaymentMethod(ctx, alice, usecase.RegisterMethodRequest{MethodType: model.PaymentMethodDirectTransfer, IsDefault: true})
		require.NoError(t, err)
		second, err := f.engine.RegisterPaymentMethod(ctx, alice, usecase.RegisterMethodRequest{MethodType: model.PaymentMethodAutoDebit, IsDefault: true})
		require.NoError(t, err)
		assert.Equal(t, 1, first)
		assert.Equal(t, 2, second)

		_, err = f.engine.RegisterPaymentMethod(ctx, alice, usecase.RegisterMethodRequest{MethodType: "card"})
		assert.ErrorIs(t, err, customErr.ErrInvalidPaymentMethod)

		methods, err := f.engine.ListPaymentMethods(ctx, alice)
		require.NoError(t, err)
		require.Len(t, methods, 2)
		assert.False(t, methods[0].IsDefault)
		assert.True(t, methods[1].IsDefault)

		stats, err := f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.DefaultPaymentMethod)

		require.NoError(t, f.engine.DeactivatePaymentMethod(ctx, alice, 2))
		stats, err = f.engine.GetPayerStats(ctx, alice)
		require.NoError(t, err)
		assert.Zero(t, stats.DefaultPaymentMethod)
		assert.ErrorIs(t, f.engine.DeactivatePaymentMethod(ctx, alice, 2), customErr.ErrInvalidPaymentMethod)
		assert.ErrorIs(t, f.engine.DeactivatePaymentMethod(ctx, bob, 1), customErr.ErrNotFound)
	})

	t.Run("escrow payments draw from the escrow balance", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 5_000)

		index, err := f.engine.RegisterPaymentMethod(ctx, alice, usecase.RegisterMethodRequest{
			MethodType:            model.PaymentMethodEscrow,
			IsDefault:             true,
			AutoRechargeEnabled:   true,
			AutoRechargeThreshold: 250,
			AutoRechargeAmount:    1_000,
		})
		require.NoError(t, err)

		m, err := f.engine.DepositEscrow(ctx, alice, index, 500)
		require.NoError(t, err)
		assert.Equal(t, int64(500), m.EscrowBalance)
		assert.Equal(t, int64(500), f.ledger.Balance(ledger.EscrowAccount(alice)))

		id, err := f.engine.Schedule(ctx, alice, usecase.ScheduleRequest{
			SubscriptionID: "sub-1", Payee: bob, Amount: 300, Method: model.PaymentMethodEscrow, ScheduledAt: f.clock.Now(),
		})
		require.NoError(t, err)
		_, err = f.engine.Execute(ctx, id)
		require.NoError(t, err)

		m, err = f.engine.GetPaymentMethod(ctx, alice, index)
		require.NoError(t, err)
		assert.Equal(t, int64(1_200), m.EscrowBalance)
		assert.Equal(t, f.clock.Now(), m.LastUsed)
		assert.Equal(t, int64(1_200), f.ledger.Balance(ledger.EscrowAccount(alice)))
		assert.Equal(t, int64(3_500), f.ledger.Balance(alice))
	})

	t.Run("escrow payment without escrow method fails execution", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Credit(alice, 5_000)
		id, err := f.engine.Schedule(ctx, alice, usecase.ScheduleRequest{
			SubscriptionID: "sub-1", Payee: bob, Amount: 300, Method: model.PaymentMethodEscrow, ScheduledAt: f.clock.Now(),
		})
		require.NoError(t, err)

		_, err = f.engine.Execute(ctx, id)
		assert.ErrorIs(t, err, customErr.ErrExecutionFailed)

		_, err = f.engine.DepositEscrow(ctx, alice, 1, 100)
		assert.ErrorIs(t, err, customErr.ErrNotFound)
	})
}

func TestEngine_Settings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.SetPlatformFee(ctx, mallet, 200)
	assert.ErrorIs(t, err, customErr.ErrOwnerOnly)
	_, err = f.engine.SetPlatformFee(ctx, admin, 1001)
	assert.ErrorIs(t, err, customErr.ErrInvalidAmount)
	_, err = f.engine.ToggleRetrySystem(ctx, driver, false)
	assert.ErrorIs(t, err, customErr.ErrOwnerOnly)

	s, err := f.engine.SetPlatformFee(ctx, admin, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), s.PlatformFeeBps)

	fee, err := f.engine.CalculateFee(ctx, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000), fee)

	_, err = f.engine.SetRetryPolicy(ctx, admin, 0, 10)
	assert.ErrorIs(t, err, customErr.ErrInvalidAmount)
	s, err = f.engine.SetRetryPolicy(ctx, admin, 5, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, s.MaxRetryAttempts)

	_, err = f.engine.UpdateRetrySettings(ctx, admin, usecase.RetrySettingsUpdate{Enabled: boolPtr(false), Delay: uint64Ptr(0)})
	assert.ErrorIs(t, err, customErr.ErrInvalidAmount)
	s, err = f.engine.GetSettings(ctx)
	require.NoError(t, err)
	assert.True(t, s.RetryEnabled, "a rejected update must not apply any field")
	assert.Equal(t, uint64(10), s.RetryDelay)

	s, err = f.engine.UpdateRetrySettings(ctx, admin, usecase.RetrySettingsUpdate{Enabled: boolPtr(false), MaxAttempts: intPtr(2)})
	require.NoError(t, err)
	assert.False(t, s.RetryEnabled)
	assert.Equal(t, 2, s.MaxRetryAttempts)
	assert.Equal(t, uint64(10), s.RetryDelay)

	s, err = f.engine.SetRefundWindow(ctx, admin, 20)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), s.RefundWindow)

	t.Run("seeding keeps existing settings", func(t *testing.T) {
		current, err := f.engine.EnsureSettings(ctx, usecase.DefaultSettings("someone-else"))
		require.NoError(t, err)
		assert.Equal(t, admin, current.Admin)
		assert.Equal(t, int64(1000), current.PlatformFeeBps)
	})
}

func TestEngine_LedgerFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	store := memory.NewStore(logger)
	clk := clock.NewLogical(10)
	ldg := new(MockLedger)
	publisher := new(MockPublisher)

	engine := usecase.NewEngine(store, ldg, clk, publisher, logger, usecase.EngineOptions{})
	_, err := engine.EnsureSettings(ctx, usecase.DefaultSettings(admin))
	require.NoError(t, err)

	publisher.On("Publish", mock.Anything, mock.MatchedBy(func(e event.Envelope) bool {
		return e.Type == event.PaymentScheduled && e.Payer == alice
	})).Return(nil).Once()

	id, err := engine.Schedule(ctx, alice, usecase.ScheduleRequest{SubscriptionID: "sub-1", Payee: bob, Amount: 100, Method: model.PaymentMethodAutoDebit, ScheduledAt: 10})
	require.NoError(t, err)

	ldg.On("TransferValue", mock.Anything, ledger.Transfer{
		From: alice, To: bob, Amount: 100, PlatformFee: 1, Reference: "payment-1-attempt-1",
	}).Return(ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeUnavailable, Message: "down"}).Once()

	_, err = engine.Execute(ctx, id)
	require.ErrorIs(t, err, customErr.ErrExecutionFailed)
	var ledgerErr *ledger.Error
	assert.ErrorAs(t, err, &ledgerErr)

	p, err := engine.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	executions, err := engine.ListExecutions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, executions)

	ldg.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func boolPtr(v bool) *bool       { return &v }
func intPtr(v int) *int          { return &v }
func uint64Ptr(v uint64) *uint64 { return &v }

// slowListStore widens the window between listing a payer's methods and
// changing them, so unserialized registrations would interleave.
type slowListStore struct {
	domainRepo.Store
}

func (s slowListStore) Transact(ctx context.Context, fn func(tx domainRepo.Tx) error) error {
	return s.Store.Transact(ctx, func(tx domainRepo.Tx) error {
		return fn(slowListTx{tx})
	})
}

type slowListTx struct {
	domainRepo.Tx
}

func (t slowListTx) ListPaymentMethods(payer string) ([]*model.PaymentMethod, error) {
	time.Sleep(20 * time.Millisecond)
	return t.Tx.ListPaymentMethods(payer)
}

func TestEngine_ConcurrentDefaultRegistration(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()
	store := memory.NewStore(logger)
	engine := usecase.NewEngine(slowListStore{store}, memLedger.NewMemoryLedger("treasury", logger), clock.NewLogical(1), nil, logger, usecase.EngineOptions{})
	_, err := engine.EnsureSettings(ctx, usecase.DefaultSettings(admin))
	require.NoError(t, err)

	_, err = engine.RegisterPaymentMethod(ctx, alice, usecase.RegisterMethodRequest{MethodType: model.PaymentMethodEscrow, IsDefault: true})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.RegisterPaymentMethod(ctx, alice, usecase.RegisterMethodRequest{MethodType: model.PaymentMethodEscrow, IsDefault: true})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	methods, err := engine.ListPaymentMethods(ctx, alice)
	require.NoError(t, err)
	require.Len(t, methods, 5)

	defaults := 0
	for _, m := range methods {
		if m.IsDefault {
			defaults++
		}
	}
	assert.Equal(t, 1, defaults)

	stats, err := engine.GetPayerStats(ctx, alice)
	require.NoError(t, err)
	assert.True(t, methods[stats.DefaultPaymentMethod-1].IsDefault)
}

func TestEngine_ClockResumesAfterRestart(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.ledger.Credit(alice, 1_000)

	id := f.schedule(t, alice, "sub-1", 1_000, 1000)
	_, err := f.engine.Execute(ctx, id)
	require.NoError(t, err)

	tick, err := f.engine.AdvanceClock(ctx, usecase.DefaultRefundWindow+1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000+usecase.DefaultRefundWindow+1), tick)

	restarted := usecase.NewEngine(f.store, f.ledger, clock.NewLogical(0), nil, zap.NewNop(), usecase.EngineOptions{})
	settings, err := restarted.EnsureSettings(ctx, usecase.DefaultSettings(admin))
	require.NoError(t, err)
	assert.Equal(t, tick, settings.CurrentTick)
	assert.Equal(t, tick, restarted.Now())

	eligible, err := restarted.IsRefundEligible(ctx, id)
	require.NoError(t, err)
	assert.False(t, eligible)

	_, err = restarted.Schedule(ctx, alice, usecase.ScheduleRequest{
		SubscriptionID: "sub-1", Payee: bob, Amount: 100, Method: model.PaymentMethodDirectTransfer, ScheduledAt: 1000,
	})
	assert.ErrorIs(t, err, customErr.ErrInvalidSchedule)

	t.Run("a later start tick is kept and stored", func(t *testing.T) {
		ahead := usecase.NewEngine(f.store, f.ledger, clock.NewLogical(tick+500), nil, zap.NewNop(), usecase.EngineOptions{})
		settings, err := ahead.EnsureSettings(ctx, usecase.DefaultSettings(admin))
		require.NoError(t, err)
		assert.Equal(t, tick+500, settings.CurrentTick)
		assert.Equal(t, tick+500, ahead.Now())
	})
}
