package memory

import (
	domainErrors "github.com/wekeepgrowing/semo-recurring/internal/domain/errors"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/model"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/repository"
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
	"go.uber.org/zap"
)

// tx stages writes until commit. Reads see committed state overlaid with
// the tx's own staged writes.
type tx struct {
	s *Store

	held     []heldLock
	heldKeys map[string]bool

	payments   map[int64]*model.ScheduledPayment
	executions map[executionKey]*model.PaymentExecution
	refunds    []*model.Refund
	methods    map[methodKey]*model.PaymentMethod
	history    []*model.HistoryEntry

	subscriptionFns []subscriptionUpdate
	payerFns        []payerUpdate
	globalFns       []func(g *model.GlobalStats)

	settings *model.EngineSettings
}

type heldLock struct {
	key  string
	lock *keyedLock
}

type subscriptionUpdate struct {
	id string
	fn func(a *model.SubscriptionAnalytics)
}

type payerUpdate struct {
	payer string
	fn    func(s *model.PayerStats)
}

var _ repository.Tx = (*tx)(nil)

func newTx(s *Store) *tx {
	return &tx{
		s:          s,
		heldKeys:   make(map[string]bool),
		payments:   make(map[int64]*model.ScheduledPayment),
		executions: make(map[executionKey]*model.PaymentExecution),
		methods:    make(map[methodKey]*model.PaymentMethod),
	}
}

func (t *tx) lock(key string) {
	if t.heldKeys[key] {
		return
	}
	l := t.s.locks.acquire(key)
	t.held = append(t.held, heldLock{key: key, lock: l})
	t.heldKeys[key] = true
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks.release(t.held[i].key, t.held[i].lock)
	}
	t.held = nil
}

func (t *tx) LockPayment(id int64) (*model.ScheduledPayment, error) {
	t.lock(paymentLockKey(id))

	if p, ok := t.payments[id]; ok {
		cp := *p
		return &cp, nil
	}

	t.s.mu.RLock()
	p, ok := t.s.payments[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "payment %d", id)
	}
	cp := *p
	return &cp, nil
}

func (t *tx) InsertPayment(p *model.ScheduledPayment) error {
	t.s.mu.Lock()
	t.s.nextPaymentID++
	p.ID = t.s.nextPaymentID
	t.s.mu.Unlock()

	t.lock(paymentLockKey(p.ID))
	cp := *p
	t.payments[p.ID] = &cp
	return nil
}

func (t *tx) SavePayment(p *model.ScheduledPayment) error {
	if !t.heldKeys[paymentLockKey(p.ID)] {
		return apperrors.NewAppError(apperrors.ErrInternal, "payment saved without lock", nil)
	}
	p.Version++
	cp := *p
	t.payments[p.ID] = &cp
	return nil
}

func (t *tx) InsertExecution(e *model.PaymentExecution) error {
	key := executionKey{e.PaymentID, e.AttemptNumber}
	if _, ok := t.executions[key]; ok {
		return apperrors.NewAppError(apperrors.ErrConflict, "duplicate execution attempt", nil)
	}
	t.s.mu.RLock()
	_, exists := t.s.executions[key]
	t.s.mu.RUnlock()
	if exists {
		return apperrors.NewAppError(apperrors.ErrConflict, "duplicate execution attempt", nil)
	}

	cp := *e
	t.executions[key] = &cp
	return nil
}

func (t *tx) InsertRefund(r *model.Refund) error {
	t.s.mu.Lock()
	_, exists := t.s.refundByPayment[r.PaymentID]
	if !exists {
		t.s.nextRefundID++
		r.ID = t.s.nextRefundID
	}
	t.s.mu.Unlock()
	if exists {
		return apperrors.NewAppError(apperrors.ErrConflict, "payment already refunded", nil)
	}

	cp := *r
	t.refunds = append(t.refunds, &cp)
	return nil
}

func (t *tx) LockPayerMethods(payer string) error {
	t.lock(payerMethodsLockKey(payer))
	return nil
}

func (t *tx) LockPaymentMethod(payer string, index int) (*model.PaymentMethod, error) {
	t.lock(methodLockKey(payer, index))

	key := methodKey{payer, index}
	if m, ok := t.methods[key]; ok {
		cp := *m
		return &cp, nil
	}

	t.s.mu.RLock()
	m, ok := t.s.methods[key]
	t.s.mu.RUnlock()
	if !ok {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "payment method %s/%d", payer, index)
	}
	cp := *m
	return &cp, nil
}

func (t *tx) ListPaymentMethods(payer string) ([]*model.PaymentMethod, error) {
	t.s.mu.RLock()
	list := t.s.listMethodsLocked(payer)
	count := t.s.methodCounters[payer]
	t.s.mu.RUnlock()

	byIndex := make(map[int]*model.PaymentMethod, len(list))
	for _, m := range list {
		byIndex[m.MethodIndex] = m
	}
	for key, m := range t.methods {
		if key.payer == payer {
			cp := *m
			byIndex[key.index] = &cp
		}
	}

	merged := make([]*model.PaymentMethod, 0, len(byIndex))
	for index := 1; index <= count; index++ {
		if m, ok := byIndex[index]; ok {
			merged = append(merged, m)
		}
	}
	return merged, nil
}

func (t *tx) InsertPaymentMethod(m *model.PaymentMethod) error {
	t.s.mu.Lock()
	t.s.methodCounters[m.Payer]++
	m.MethodIndex = t.s.methodCounters[m.Payer]
	t.s.mu.Unlock()

	t.lock(methodLockKey(m.Payer, m.MethodIndex))
	cp := *m
	t.methods[methodKey{m.Payer, m.MethodIndex}] = &cp
	return nil
}

func (t *tx) SavePaymentMethod(m *model.PaymentMethod) error {
	if !t.heldKeys[methodLockKey(m.Payer, m.MethodIndex)] {
		return apperrors.NewAppError(apperrors.ErrInternal, "payment method saved without lock", nil)
	}
	cp := *m
	t.methods[methodKey{m.Payer, m.MethodIndex}] = &cp
	return nil
}

// AppendHistory stages the entry; its sequence is assigned at commit.
func (t *tx) AppendHistory(e *model.HistoryEntry) error {
	cp := *e
	t.history = append(t.history, &cp)
	return nil
}

func (t *tx) UpdateSubscriptionAnalytics(subscriptionID string, fn func(a *model.SubscriptionAnalytics)) error {
	t.subscriptionFns = append(t.subscriptionFns, subscriptionUpdate{id: subscriptionID, fn: fn})
	return nil
}

func (t *tx) UpdatePayerStats(payer string, fn func(s *model.PayerStats)) error {
	t.payerFns = append(t.payerFns, payerUpdate{payer: payer, fn: fn})
	return nil
}

func (t *tx) UpdateGlobalStats(fn func(g *model.GlobalStats)) error {
	t.globalFns = append(t.globalFns, fn)
	return nil
}

func (t *tx) LoadSettings() (*model.EngineSettings, error) {
	if t.settings != nil {
		cp := *t.settings
		return &cp, nil
	}

	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if t.s.settings == nil {
		return nil, apperrors.Detail(domainErrors.ErrNotFound, "engine settings")
	}
	cp := *t.s.settings
	return &cp, nil
}

func (t *tx) LockSettings() (*model.EngineSettings, error) {
	t.lock(settingsLockKey)
	return t.LoadSettings()
}

func (t *tx) SaveSettings(s *model.EngineSettings) error {
	if !t.heldKeys[settingsLockKey] {
		return apperrors.NewAppError(apperrors.ErrInternal, "settings saved without lock", nil)
	}
	cp := *s
	cp.ID = model.SettingsRowID
	t.settings = &cp
	return nil
}

// commit applies every staged write while holding the store lock, so
// readers observe all of them or none.
func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for key := range t.executions {
		if _, ok := t.s.executions[key]; ok {
			return apperrors.NewAppError(apperrors.ErrConflict, "duplicate execution attempt", nil)
		}
	}
	for _, r := range t.refunds {
		if _, ok := t.s.refundByPayment[r.PaymentID]; ok {
			return apperrors.NewAppError(apperrors.ErrConflict, "payment already refunded", nil)
		}
	}

	for id, p := range t.payments {
		t.s.payments[id] = p
	}
	for key, e := range t.executions {
		t.s.executions[key] = e
	}
	for _, r := range t.refunds {
		t.s.refunds[r.ID] = r
		t.s.refundByPayment[r.PaymentID] = r.ID
	}
	for key, m := range t.methods {
		t.s.methods[key] = m
	}
	for _, e := range t.history {
		e.Sequence = int64(len(t.s.history[e.Payer]) + 1)
		t.s.history[e.Payer] = append(t.s.history[e.Payer], e)
	}

	for _, u := range t.subscriptionFns {
		a, ok := t.s.subscriptions[u.id]
		if !ok {
			a = &model.SubscriptionAnalytics{SubscriptionID: u.id}
			t.s.subscriptions[u.id] = a
		}
		u.fn(a)
	}
	for _, u := range t.payerFns {
		st, ok := t.s.payers[u.payer]
		if !ok {
			st = &model.PayerStats{Payer: u.payer}
			t.s.payers[u.payer] = st
		}
		u.fn(st)
	}
	for _, fn := range t.globalFns {
		fn(&t.s.global)
	}

	if t.settings != nil {
		t.s.settings = t.settings
	}

	if t.s.logger != nil && len(t.payments) > 0 {
		t.s.logger.Debug("Committed unit of work",
			zap.Int("payments", len(t.payments)),
			zap.Int("executions", len(t.executions)),
			zap.Int("history", len(t.history)))
	}
	return nil
}
