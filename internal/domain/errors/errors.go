package errors

import (
	apperrors "github.com/wekeepgrowing/semo-recurring/pkg/errors"
)

var (
	// ErrInvalidAmount indicates a non-positive amount, a refund above the
	// original amount or a fee above the cap
	ErrInvalidAmount = apperrors.NewAppError(apperrors.ErrInvalidAmount, "invalid amount", nil)

	// ErrInvalidSchedule indicates a schedule in the past or an execution before it is due
	ErrInvalidSchedule = apperrors.NewAppError(apperrors.ErrInvalidSchedule, "invalid schedule", nil)

	// ErrInvalidPaymentMethod indicates an unknown or unusable payment method
	ErrInvalidPaymentMethod = apperrors.NewAppError(apperrors.ErrInvalidPaymentMethod, "invalid payment method", nil)

	// ErrOwnerOnly indicates an administrative operation called by someone else
	ErrOwnerOnly = apperrors.NewAppError(apperrors.ErrOwnerOnly, "caller is not the engine owner", nil)

	// ErrUnauthorized indicates the caller is not the payer of the payment
	ErrUnauthorized = apperrors.NewAppError(apperrors.ErrUnauthorized, "caller is not the payer", nil)

	// ErrInvalidStatus indicates the payment is not in the required status
	ErrInvalidStatus = apperrors.NewAppError(apperrors.ErrInvalidStatus, "invalid payment status", nil)

	// ErrRefundNotAllowed indicates the payment cannot be refunded (status or window)
	ErrRefundNotAllowed = apperrors.NewAppError(apperrors.ErrRefundNotAllowed, "refund not allowed", nil)

	// ErrNotFound indicates the referenced record does not exist
	ErrNotFound = apperrors.NewAppError(apperrors.ErrNotFound, "not found", nil)

	// ErrExecutionFailed indicates the ledger refused or failed to move value
	ErrExecutionFailed = apperrors.NewAppError(apperrors.ErrExecutionFailed, "value transfer failed", nil)
)
