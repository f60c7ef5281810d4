package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	domainErrors "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
)

func insertPending(t *testing.T, s *Store, payer string, scheduledAt uint64) int64 {
	t.Helper()
	var id int64
	err := s.Transact(context.Background(), func(tx repository.Tx) error {
		p := &model.ScheduledPayment{
			SubscriptionID: "sub-1",
			Payer:          payer,
			Payee:          "bob",
			Amount:         100,
			PaymentMethod:  model.PaymentMethodDirectTransfer,
			ScheduledAt:    scheduledAt,
			Status:         model.PaymentStatusPending,
		}
		if err := tx.InsertPayment(p); err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	require.NoError(t, err)
	return id
}

func TestStore_TransactIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	id := insertPending(t, s, "alice", 10)

	boom := errors.New("boom")
	err := s.Transact(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPayment(id)
		if err != nil {
			return err
		}
		p.Status = model.PaymentStatusSuccess
		if err := tx.SavePayment(p); err != nil {
			return err
		}
		if err := tx.AppendHistory(&model.HistoryEntry{Payer: "alice", PaymentID: id, Kind: model.HistoryKindPayment}); err != nil {
			return err
		}
		if err := tx.UpdateGlobalStats(func(g *model.GlobalStats) { g.RecordSuccess(100, 1) }); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := s.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, p.Status)
	assert.Zero(t, p.Version)

	history, err := s.ListHistory(ctx, "alice", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	global, err := s.GetGlobalStats(ctx)
	require.NoError(t, err)
	assert.Zero(t, global.TotalPayments)
}

func TestStore_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	id := insertPending(t, s, "alice", 10)

	p, err := s.GetPayment(ctx, id)
	require.NoError(t, err)
	p.Status = model.PaymentStatusFailed

	again, err := s.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentStatusPending, again.Status)
}

func TestStore_ListDuePayments(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	early := insertPending(t, s, "alice", 10)
	late := insertPending(t, s, "alice", 50)
	retrying := insertPending(t, s, "alice", 10)

	err := s.Transact(ctx, func(tx repository.Tx) error {
		p, err := tx.LockPayment(retrying)
		if err != nil {
			return err
		}
		p.NextRetryAt = 40
		return tx.SavePayment(p)
	})
	require.NoError(t, err)

	due, err := s.ListDuePayments(ctx, 20, 0)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, early, due[0].ID)

	due, err = s.ListDuePayments(ctx, 50, 0)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, []int64{early, late, retrying}, []int64{due[0].ID, due[1].ID, due[2].ID})

	due, err = s.ListDuePayments(ctx, 50, 2)
	require.NoError(t, err)
	assert.Len(t, due, 2)
}

func TestStore_HistorySequencePerPayer(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())

	for _, payer := range []string{"alice", "bob", "alice", "alice"} {
		payer := payer
		err := s.Transact(ctx, func(tx repository.Tx) error {
			return tx.AppendHistory(&model.HistoryEntry{Payer: payer, Kind: model.HistoryKindMethod})
		})
		require.NoError(t, err)
	}

	alice, err := s.ListHistory(ctx, "alice", 0, 0)
	require.NoError(t, err)
	require.Len(t, alice, 3)
	assert.Equal(t, int64(3), alice[2].Sequence)

	page, err := s.ListHistory(ctx, "alice", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(2), page[0].Sequence)

	bob, err := s.ListHistory(ctx, "bob", 10, 0)
	require.NoError(t, err)
	require.Len(t, bob, 1)
	assert.Equal(t, int64(1), bob[0].Sequence)

	empty, err := s.ListHistory(ctx, "alice", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStore_DuplicateRecordsConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	id := insertPending(t, s, "alice", 10)

	insert := func() error {
		return s.Transact(ctx, func(tx repository.Tx) error {
			if err := tx.InsertExecution(&model.PaymentExecution{PaymentID: id, AttemptNumber: 1}); err != nil {
				return err
			}
			return tx.InsertRefund(&model.Refund{PaymentID: id})
		})
	}
	require.NoError(t, insert())

	err := insert()
	assert.Equal(t, apperrors.ErrConflict, apperrors.CodeOf(err))
}

func TestStore_LockedPaymentSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())
	id := insertPending(t, s, "alice", 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Transact(ctx, func(tx repository.Tx) error {
				p, err := tx.LockPayment(id)
				if err != nil {
					return err
				}
				p.RetryCount++
				if err := tx.SavePayment(p); err != nil {
					return err
				}
				return tx.UpdateSubscriptionAnalytics(p.SubscriptionID, func(a *model.SubscriptionAnalytics) {
					a.RecordFailure()
				})
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := s.GetPayment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 50, p.RetryCount)
	assert.Equal(t, int64(50), p.Version)

	a, err := s.GetSubscriptionAnalytics(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), a.FailedPayments)
	assert.Zero(t, s.locks.size())
}

func TestStore_PayerMethodLockIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())

	locked := make(chan struct{})
	proceed := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- s.Transact(ctx, func(tx repository.Tx) error {
			if err := tx.LockPayerMethods("alice"); err != nil {
				return err
			}
			close(locked)
			<-proceed
			return tx.InsertPaymentMethod(&model.PaymentMethod{Payer: "alice", MethodType: model.PaymentMethodEscrow, IsDefault: true})
		})
	}()
	<-locked

	seen := make(chan int, 1)
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- s.Transact(ctx, func(tx repository.Tx) error {
			if err := tx.LockPayerMethods("alice"); err != nil {
				return err
			}
			list, err := tx.ListPaymentMethods("alice")
			seen <- len(list)
			return err
		})
	}()

	// another payer is not blocked
	err := s.Transact(ctx, func(tx repository.Tx) error {
		return tx.LockPayerMethods("bob")
	})
	require.NoError(t, err)

	select {
	case <-seen:
		t.Fatal("second transaction listed methods while the payer lock was held")
	case <-time.After(20 * time.Millisecond):
	}

	close(proceed)
	require.NoError(t, <-firstDone)
	require.NoError(t, <-secondDone)
	assert.Equal(t, 1, <-seen)
	assert.Zero(t, s.locks.size())
}

func TestStore_MissingRecords(t *testing.T) {
	ctx := context.Background()
	s := NewStore(zap.NewNop())

	_, err := s.GetPayment(ctx, 1)
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
	_, err = s.GetRefund(ctx, 1)
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
	_, err = s.GetPaymentMethod(ctx, "alice", 1)
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)

	settings, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Nil(t, settings)

	stats, err := s.GetPayerStats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", stats.Payer)

	err = s.Transact(ctx, func(tx repository.Tx) error {
		_, err := tx.LockSettings()
		return err
	})
	assert.ErrorIs(t, err, domainErrors.ErrNotFound)
}
