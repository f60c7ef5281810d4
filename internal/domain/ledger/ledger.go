// Package ledger defines the value-transfer collaborator. The engine never
// holds custody itself.
package ledger

import (
	"context"
	"fmt"
)

// Transfer moves Amount from From to To. PlatformFee is the part of Amount
// retained by the platform, so To receives Amount - PlatformFee.
type Transfer struct {
	From        string
	To          string
	Amount      int64
	PlatformFee int64
	// Reference is an idempotency key for the transfer
	Reference string
}

// Reversal returns Amount from the payee back to the payer. FeeRefunded is
// the part of Amount returned out of the platform's retained fee.
type Reversal struct {
	From        string
	To          string
	Amount      int64
	FeeRefunded int64
	OriginalRef string
	Reference   string
}

// Receipt identifies a completed ledger operation
type Receipt struct {
	Reference string
}

// Ledger moves value between accounts
type Ledger interface {
	TransferValue(ctx context.Context, t Transfer) (Receipt, error)
	ReverseValue(ctx context.Context, r Reversal) (Receipt, error)
}

// EscrowAccount is the ledger account holding a payer's escrow funds.
func EscrowAccount(payer string) string {
	return "escrow:" + payer
}

// Error is a failed ledger operation
type Error struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s failed [%s]: %s: %v", e.Op, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("ledger %s failed [%s]: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Ledger error codes
const (
	CodeInsufficientFunds = "insufficient_funds"
	CodeInvalidAccount    = "invalid_account"
	CodeUnavailable       = "unavailable"
	CodeRejected          = "rejected"
)
