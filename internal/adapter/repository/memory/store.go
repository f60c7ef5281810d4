// Package memory implements the engine store as in-process arenas keyed by
// id. Writes of a unit of work are staged and applied in one step at commit.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domainErrors "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

type executionKey struct {
	paymentID int64
	attempt   int
}

type methodKey struct {
	payer string
	index int
}

// Store is a repository.Store held entirely in memory
type Store struct {
	mu sync.RWMutex

	payments        map[int64]*model.ScheduledPayment
	executions      map[executionKey]*model.PaymentExecution
	refunds         map[int64]*model.Refund
	refundByPayment map[int64]int64
	methods         map[methodKey]*model.PaymentMethod
	methodCounters  map[string]int
	history         map[string][]*model.HistoryEntry
	subscriptions   map[string]*model.SubscriptionAnalytics
	payers          map[string]*model.PayerStats
	global          model.GlobalStats
	settings        *model.EngineSettings

	nextPaymentID int64
	nextRefundID  int64

	locks  *keyedLocks
	logger *zap.Logger
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		payments:        make(map[int64]*model.ScheduledPayment),
		executions:      make(map[executionKey]*model.PaymentExecution),
		refunds:         make(map[int64]*model.Refund),
		refundByPayment: make(map[int64]int64),
		methods:         make(map[methodKey]*model.PaymentMethod),
		methodCounters:  make(map[string]int),
		history:         make(map[string][]*model.HistoryEntry),
		subscriptions:   make(map[string]*model.SubscriptionAnalytics),
		payers:          make(map[string]*model.PayerStats),
		global:          model.GlobalStats{ID: model.GlobalStatsRowID},
		locks:           newKeyedLocks(),
		logger:          logger,
	}
}

// Transact runs fn in a unit of work. Record locks taken by fn are held
// until the staged writes are applied or discarded.
func (s *Store) Transact(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := newTx(s)
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) Ready(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) GetPayment(ctx context.Context, id int64) (*model.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "payment %d", id)
	}
	cp := *p
	return &cp, nil
}

// ListDuePayments returns pending payments executable at now, oldest id first.
func (s *Store) ListDuePayments(ctx context.Context, now uint64, limit int) ([]*model.ScheduledPayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	due := make([]*model.ScheduledPayment, 0)
	for _, p := range s.payments {
		if p.Status != model.PaymentStatusPending || now < p.ScheduledAt {
			continue
		}
		if p.NextRetryAt != 0 && now < p.NextRetryAt {
			continue
		}
		cp := *p
		due = append(due, &cp)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) GetExecution(ctx context.Context, paymentID int64, attempt int) (*model.PaymentExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[executionKey{paymentID, attempt}]
	if !ok {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "execution %d/%d", paymentID, attempt)
	}
	cp := *e
	return &cp, nil
}

func (s *Store) ListExecutions(ctx context.Context, paymentID int64) ([]*model.PaymentExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*model.PaymentExecution, 0)
	for attempt := 1; ; attempt++ {
		e, ok := s.executions[executionKey{paymentID, attempt}]
		if !ok {
			break
		}
		cp := *e
		list = append(list, &cp)
	}
	return list, nil
}

func (s *Store) GetRefund(ctx context.Context, id int64) (*model.Refund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.refunds[id]
	if !ok {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "refund %d", id)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetPaymentMethod(ctx context.Context, payer string, index int) (*model.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.methods[methodKey{payer, index}]
	if !ok {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "payment method %s/%d", payer, index)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) ListPaymentMethods(ctx context.Context, payer string) ([]*model.PaymentMethod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listMethodsLocked(payer), nil
}

func (s *Store) listMethodsLocked(payer string) []*model.PaymentMethod {
	list := make([]*model.PaymentMethod, 0)
	for index := 1; index <= s.methodCounters[payer]; index++ {
		if m, ok := s.methods[methodKey{payer, index}]; ok {
			cp := *m
			list = append(list, &cp)
		}
	}
	return list
}

func (s *Store) GetSubscriptionAnalytics(ctx context.Context, subscriptionID string) (*model.SubscriptionAnalytics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.subscriptions[subscriptionID]; ok {
		cp := *a
		return &cp, nil
	}
	return &model.SubscriptionAnalytics{SubscriptionID: subscriptionID}, nil
}

func (s *Store) GetPayerStats(ctx context.Context, payer string) (*model.PayerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if st, ok := s.payers[payer]; ok {
		cp := *st
		return &cp, nil
	}
	return &model.PayerStats{Payer: payer}, nil
}

func (s *Store) GetGlobalStats(ctx context.Context) (*model.GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := s.global
	return &cp, nil
}

// ListHistory returns a payer's entries in sequence order. A non-positive
// limit returns everything after offset.
func (s *Store) ListHistory(ctx context.Context, payer string, limit, offset int) ([]*model.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.history[payer]
	if offset < 0 {
		offset = 0
	}
	if offset >= len(entries) {
		return []*model.HistoryEntry{}, nil
	}
	entries = entries[offset:]
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	list := make([]*model.HistoryEntry, len(entries))
	for i, e := range entries {
		cp := *e
		list[i] = &cp
	}
	return list, nil
}

func (s *Store) LoadSettings(ctx context.Context) (*model.EngineSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.settings == nil {
		return nil, nil
	}
	cp := *s.settings
	return &cp, nil
}

// keyedLocks hands out one mutex per record key. An entry lives only while
// some transaction holds or waits for it.
type keyedLocks struct {
	mu sync.Mutex
	m  map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{m: make(map[string]*keyedLock)}
}

// acquire blocks until the lock for key is held
func (k *keyedLocks) acquire(key string) *keyedLock {
	k.mu.Lock()
	l, ok := k.m[key]
	if !ok {
		l = &keyedLock{}
		k.m[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return l
}

func (k *keyedLocks) release(key string, l *keyedLock) {
	l.mu.Unlock()

	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.m, key)
	}
	k.mu.Unlock()
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}

func paymentLockKey(id int64) string {
	return fmt.Sprintf("payment:%d", id)
}

func methodLockKey(payer string, index int) string {
	return fmt.Sprintf("method:%s:%d", payer, index)
}

func payerMethodsLockKey(payer string) string {
	return "methods:" + payer
}

const settingsLockKey = "settings"
