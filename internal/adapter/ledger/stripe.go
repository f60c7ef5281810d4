package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/paymentintent"
	"github.com/stripe/stripe-go/v79/refund"
	"github.com/wekeepgrowing/semo-recurring/internal/domain/ledger"
	"go.uber.org/zap"
)

// StripeLedger settles transfers as Stripe destination charges. Payers are
// Stripe customer ids and payees connected account ids; the platform fee
// is the charge's application fee.
type StripeLedger struct {
	currency string
	logger   *zap.Logger
}

var _ ledger.Ledger = (*StripeLedger)(nil)

// NewStripeLedger configures the Stripe client key and returns a ledger
// charging in currency.
func NewStripeLedger(secretKey, currency string, logger *zap.Logger) *StripeLedger {
	stripe.Key = secretKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeLedger{
		currency: strings.ToLower(currency),
		logger:   logger,
	}
}

// TransferValue charges the customer's default payment method off-session
// and routes Amount-PlatformFee to the connected account.
func (s *StripeLedger) TransferValue(ctx context.Context, t ledger.Transfer) (ledger.Receipt, error) {
	if strings.HasPrefix(t.From, ledger.EscrowAccount("")) || strings.HasPrefix(t.To, ledger.EscrowAccount("")) {
		return ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeInvalidAccount, Message: "escrow accounts are not supported by stripe"}
	}

	cusParams := &stripe.CustomerParams{}
	cusParams.Context = ctx
	cus, err := customer.Get(t.From, cusParams)
	if err != nil {
		return ledger.Receipt{}, s.convertError("transfer", err)
	}
	if cus.InvoiceSettings == nil || cus.InvoiceSettings.DefaultPaymentMethod == nil {
		return ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeRejected, Message: "customer has no default payment method"}
	}

	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(t.Amount),
		Currency:             stripe.String(s.currency),
		Customer:             stripe.String(t.From),
		PaymentMethod:        stripe.String(cus.InvoiceSettings.DefaultPaymentMethod.ID),
		Confirm:              stripe.Bool(true),
		OffSession:           stripe.Bool(true),
		ApplicationFeeAmount: stripe.Int64(t.PlatformFee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(t.To),
		},
	}
	params.Context = ctx
	params.AddMetadata("reference", t.Reference)
	if t.Reference != "" {
		params.SetIdempotencyKey(t.Reference)
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return ledger.Receipt{}, s.convertError("transfer", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		s.logger.Warn("Stripe payment intent not settled",
			zap.String("payment_intent", pi.ID),
			zap.String("status", string(pi.Status)))
		return ledger.Receipt{}, &ledger.Error{Op: "transfer", Code: ledger.CodeRejected, Message: "payment intent " + string(pi.Status)}
	}

	s.logger.Info("Stripe transfer settled",
		zap.String("payment_intent", pi.ID),
		zap.String("customer", t.From),
		zap.String("destination", t.To),
		zap.Int64("amount", t.Amount),
		zap.Int64("application_fee", t.PlatformFee))
	return ledger.Receipt{Reference: pi.ID}, nil
}

// ReverseValue refunds part or all of the original payment intent,
// reversing the transfer and the application fee.
func (s *StripeLedger) ReverseValue(ctx context.Context, r ledger.Reversal) (ledger.Receipt, error) {
	if r.OriginalRef == "" {
		return ledger.Receipt{}, &ledger.Error{Op: "reverse", Code: ledger.CodeRejected, Message: "missing original payment intent"}
	}

	params := &stripe.RefundParams{
		PaymentIntent:        stripe.String(r.OriginalRef),
		Amount:               stripe.Int64(r.Amount),
		RefundApplicationFee: stripe.Bool(r.FeeRefunded > 0),
		ReverseTransfer:      stripe.Bool(true),
		Reason:               stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if r.Reference != "" {
		params.SetIdempotencyKey(r.Reference)
	}

	re, err := refund.New(params)
	if err != nil {
		return ledger.Receipt{}, s.convertError("reverse", err)
	}

	s.logger.Info("Stripe refund created",
		zap.String("refund", re.ID),
		zap.String("payment_intent", r.OriginalRef),
		zap.Int64("amount", r.Amount))
	return ledger.Receipt{Reference: re.ID}, nil
}

func (s *StripeLedger) convertError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := ledger.CodeRejected
		switch {
		case stripeErr.Code == stripe.ErrorCodeBalanceInsufficient,
			stripeErr.DeclineCode == stripe.DeclineCodeInsufficientFunds:
			code = ledger.CodeInsufficientFunds
		case stripeErr.Code == stripe.ErrorCodeResourceMissing:
			code = ledger.CodeInvalidAccount
		case stripeErr.HTTPStatusCode >= 500 || stripeErr.Type == stripe.ErrorTypeAPI:
			code = ledger.CodeUnavailable
		}
		return &ledger.Error{Op: op, Code: code, Message: stripeErr.Msg, Err: err}
	}
	return &ledger.Error{Op: op, Code: ledger.CodeUnavailable, Message: "stripe request failed", Err: err}
}
