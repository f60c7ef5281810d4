package ledger

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"go.uber.org/zap"
)

// MemoryLedger keeps account balances in process. Platform fees accrue to
// the treasury account.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	blocked  map[string]bool
	receipts map[string]ledger.Receipt
	treasury string
	logger   *zap.Logger
}

var _ ledger.Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger(treasury string, logger *zap.Logger) *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[string]int64),
		blocked:  make(map[string]bool),
		receipts: make(map[string]ledger.Receipt),
		treasury: treasury,
		logger:   logger,
	}
}

// Credit adds funds to an account out of thin air
func (l *MemoryLedger) Credit(account string, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Balance returns the current balance of an account
func (l *MemoryLedger) Balance(account string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[account]
}

// Block makes every operation touching account fail as unavailable
func (l *MemoryLedger) Block(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocked[account] = true
}

func (l *MemoryLedger) Unblock(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocked, account)
}

// TransferValue debits From by Amount, credits To with Amount-PlatformFee
// and the treasury with PlatformFee. A repeated Reference returns the
// first receipt without moving value again.
func (l *MemoryLedger) TransferValue(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeUnavailable, Message: "context done", Err: err}
	}
	if t.Amount <= 0 || t.PlatformFee < 0 || t.PlatformFee > t.Amount {
		return ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeRejected, Message: "invalid amount"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.receipts[t.Reference]; ok && t.Reference != "" {
		return r, nil
	}
	if err := l.checkAccounts("transfer", t.From, t.To); err != nil {
		return ledger.Receipt{}, err
	}
	if l.balances[t.From] < t.Amount {
		return ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeInsufficientFunds, Message: t.From}
	}

	l.balances[t.From] -= t.Amount
	l.balances[t.To] += t.Amount - t.PlatformFee
	l.balances[l.treasury] += t.PlatformFee

	receipt := l.remember(t.Reference)
	l.logger.Debug("Ledger transfer",
		zap.String("from", t.From),
		zap.String("to", t.To),
		zap.Int64("amount", t.Amount),
		zap.Int64("platform_fee", t.PlatformFee),
		zap.String("reference", receipt.Reference))
	return receipt, nil
}

// ReverseValue debits From by Amount-FeeRefunded and the treasury by
// FeeRefunded, then credits To with Amount.
func (l *MemoryLedger) ReverseValue(ctx context.Context, r ledger.Reversal) (ledger.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, &ledger.Error{Op: "reverse", Code: ledger.CodeUnavailable, Message: "context done", Err: err}
	}
	if r.Amount <= 0 || r.FeeRefunded < 0 || r.FeeRefunded > r.Amount {
		return ledger.Receipt{}, &ledger.Error{Op: "reverse", Code: ledger.CodeRejected, Message: "invalid amount"}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rc, ok := l.receipts[r.Reference]; ok && r.Reference != "" {
		return rc, nil
	}
	if err := l.checkAccounts("reverse", r.From, r.To); err != nil {
		return ledger.Receipt{}, err
	}
	fromPayee := r.Amount - r.FeeRefunded
	if l.balances[r.From] < fromPayee {
		return ledger.Receipt{}, &ledger.Error{Op: "reverse", Code: ledger.CodeInsufficientFunds, Message: r.From}
	}
	if l.balances[l.treasury] < r.FeeRefunded {
		return ledger.Receipt{}, &ledger.Error{Op: "reverse", Code: ledger.CodeInsufficientFunds, Message: l.treasury}
	}

	l.balances[r.From] -= fromPayee
	l.balances[l.treasury] -= r.FeeRefunded
	l.balances[r.To] += r.Amount

	return l.remember(r.Reference), nil
}

func (l *MemoryLedger) checkAccounts(op string, accounts ...string) error {
	for _, a := range accounts {
		if a == "" {
			return &ledger.Error{Op: op, Code: ledger.CodeInvalidAccount, Message: "empty account"}
		}
		if l.blocked[a] {
			return &ledger.Error{Op: op, Code: ledger.CodeUnavailable, Message: a}
		}
	}
	return nil
}

func (l *MemoryLedger) remember(reference string) ledger.Receipt {
	receipt := ledger.Receipt{Reference: uuid.NewString()}
	if reference != "" {
		l.receipts[reference] = receipt
	}
	return receipt
}
