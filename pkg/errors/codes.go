package errors

// 공통 에러 코드 정의
const (
	// 일반적인 에러 코드
	ErrInternal        = "INTERNAL"
	ErrNotFound        = "NOT_FOUND"
	ErrInvalidArgument = "INVALID_ARGUMENT"
	ErrUnauthenticated = "UNAUTHENTICATED"
	ErrUnauthorized    = "UNAUTHORIZED"
	ErrConflict        = "CONFLICT"
	ErrTimeout         = "TIMEOUT"
	ErrNotImplemented  = "NOT_IMPLEMENTED"

	// 결제 엔진 에러 코드
	ErrInvalidAmount        = "INVALID_AMOUNT"
	ErrInvalidSchedule      = "INVALID_SCHEDULE"
	ErrInvalidPaymentMethod = "INVALID_PAYMENT_METHOD"
	ErrOwnerOnly            = "OWNER_ONLY"
	ErrInvalidStatus        = "INVALID_STATUS"
	ErrRefundNotAllowed     = "REFUND_NOT_ALLOWED"
	ErrExecutionFailed      = "EXECUTION_FAILED"
)
