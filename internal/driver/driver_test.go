package driver

import (
	"context"
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
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/usecase"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
)

// MockEngine is a mock implementation of Engine
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) ListDuePayments(ctx context.Context, limit int) ([]*model.ScheduledPayment, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*model.ScheduledPayment), args.Error(1)
}

func (m *MockEngine) Execute(ctx context.Context, paymentID int64) (*usecase.ExecutionResult, error) {
	args := m.Called(ctx, paymentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.ExecutionResult), args.Error(1)
}

func (m *MockEngine) AdvanceClock(ctx context.Context, n uint64) (uint64, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockEngine) ReportFailure(ctx context.Context, caller string, paymentID int64, reason string) (*usecase.RetryDecision, error) {
	args := m.Called(ctx, caller, paymentID, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*usecase.RetryDecision), args.Error(1)
}

type fixture struct {
	engine *usecase.Engine
	ledger *memLedger.MemoryLedger
	driver *Driver
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	logger := zap.NewNop()
	store := memory.NewStore(logger)
	ldg := memLedger.NewMemoryLedger("treasury", logger)
	clk := clock.NewLogical(0)
	engine := usecase.NewEngine(store, ldg, clk, nil, logger, usecase.EngineOptions{DriverPrincipals: []string{"driver"}})
	_, err := engine.EnsureSettings(context.Background(), usecase.DefaultSettings("admin"))
	require.NoError(t, err)

	opts.Principal = "driver"
	return &fixture{engine: engine, ledger: ldg, driver: New(engine, opts, logger)}
}

func (f *fixture) schedule(t *testing.T, payer string, amount int64, at uint64) int64 {
	t.Helper()
	id, err := f.engine.Schedule(context.Background(), payer, usecase.ScheduleRequest{
		SubscriptionID: "sub-" + payer,
		Payee:          "merchant",
		Amount:         amount,
		Method:         model.PaymentMethodDirectTransfer,
		ScheduledAt:    at,
	})
	require.NoError(t, err)
	return id
}

func TestDriver_TickExecutesAndReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{TicksPerRun: 1, BatchSize: 10})
	f.ledger.Credit("alice", 1_000)

	paid := f.schedule(t, "alice", 1_000, 1)
	unpaid := f.schedule(t, "carol", 1_000, 1)
	later := f.schedule(t, "alice", 1_000, 50)

	report, err := f.driver.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickReport{Tick: 1, Due: 2, Executed: 1, Failed: 1, Retried: 1}, report)

	p, err := f.engine.GetPayment(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusSuccess, p.Status)

	p, err = f.engine.GetPayment(ctx, unpaid)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, uint64(1+usecase.DefaultRetryDelay), p.NextRetryAt)

	p, err = f.engine.GetPayment(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.Status)

	// nothing new until the retry delay elapses
	report, err = f.driver.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
}

func TestDriver_RetriesUntilExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{BatchSize: 10})
	id := f.schedule(t, "carol", 500, 0)

	var reports []TickReport
	for i := 0; i < usecase.DefaultMaxRetryAttempts; i++ {
		report, err := f.driver.Tick(ctx)
		require.NoError(t, err)
		reports = append(reports, report)
		_, err = f.engine.AdvanceClock(ctx, usecase.DefaultRetryDelay)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, reports[0].Retried)
	assert.Equal(t, 1, reports[1].Retried)
	assert.Equal(t, 1, reports[2].Exhausted)

	p, err := f.engine.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusFailed, p.Status)

	executions, err := f.engine.ListExecutions(ctx, id)
	require.NoError(t, err)
	assert.Len(t, executions, 3)
	for _, e := range executions {
		assert.False(t, e.Success)
	}
}

func TestDriver_SkipsStatusRaces(t *testing.T) {
	ctx := context.Background()
	engine := new(MockEngine)
	d := New(engine, Options{Principal: "driver", BatchSize: 5}, zap.NewNop())

	engine.On("ListDuePayments", ctx, 5).Return([]*model.ScheduledPayment{{ID: 1}, {ID: 2}}, nil)
	engine.On("Execute", ctx, int64(1)).Return(nil, apperrors.Detail(customErr.ErrInvalidStatus, "payment 1 is success"))
	engine.On("Execute", ctx, int64(2)).Return(&usecase.ExecutionResult{PaymentID: 2}, nil)

	report, err := d.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, TickReport{Due: 2, Executed: 1, Skipped: 1}, report)
	engine.AssertNotCalled(t, "AdvanceClock", mock.Anything, mock.Anything)
	engine.AssertNotCalled(t, "ReportFailure", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDriver_RateLimitHonorsContext(t *testing.T) {
	engine := new(MockEngine)
	d := New(engine, Options{Principal: "driver", RatePerSecond: 0.001}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	due := []*model.ScheduledPayment{{ID: 1}, {ID: 2}}
	engine.On("ListDuePayments", ctx, 0).Return(due, nil)
	engine.On("Execute", ctx, int64(1)).Return(&usecase.ExecutionResult{PaymentID: 1}, nil)

	report, err := d.Tick(ctx)
	assert.Error(t, err)
	assert.Equal(t, 1, report.Executed)
	engine.AssertNotCalled(t, "Execute", ctx, int64(2))
}

func TestDriver_ClockFailureStopsTick(t *testing.T) {
	ctx := context.Background()
	engine := new(MockEngine)
	d := New(engine, Options{Principal: "driver", TicksPerRun: 3}, zap.NewNop())

	engine.On("AdvanceClock", ctx, uint64(3)).Return(uint64(7), apperrors.NewAppError(apperrors.ErrInternal, "store down", nil))

	_, err := d.Tick(ctx)
	assert.Equal(t, apperrors.ErrInternal, apperrors.CodeOf(err))
	engine.AssertNotCalled(t, "ListDuePayments", mock.Anything, mock.Anything)
}

func TestRunner_InvalidSchedule(t *testing.T) {
	f := newFixture(t, Options{})
	r := NewRunner(f.driver, "not a schedule", zap.NewNop())
	assert.Error(t, r.Start(context.Background()))
}

func TestRunner_StartStop(t *testing.T) {
	f := newFixture(t, Options{TicksPerRun: 1})
	r := NewRunner(f.driver, "@every 1s", zap.NewNop())
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r.Stop(ctx)
	r.Stop(ctx)
}
