package errors

import (
	"go.uber.org/zap"
)

// clientCodes는 호출자 잘못으로 발생하는 에러 코드입니다. Warn 레벨로 기록합니다.
var clientCodes = map[string]bool{
	ErrNotFound:             true,
	ErrInvalidArgument:      true,
	ErrUnauthenticated:      true,
	ErrUnauthorized:         true,
	ErrConflict:             true,
	ErrInvalidAmount:        true,
	ErrInvalidSchedule:      true,
	ErrInvalidPaymentMethod: true,
	ErrOwnerOnly:            true,
	ErrInvalidStatus:        true,
	ErrRefundNotAllowed:     true,
}

// LogError는 에러를 구조화된 로그로 기록합니다
func LogError(logger *zap.Logger, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}

	allFields := make([]zap.Field, 0, len(fields)+2)
	allFields = append(allFields, zap.Error(err))

	// AppError에서 추가 정보 추출
	var appErr *AppError
	if As(err, &appErr) {
		allFields = append(allFields, zap.String("error_code", appErr.Code()))
	}

	allFields = append(allFields, fields...)

	if appErr != nil && clientCodes[appErr.Code()] {
		logger.Warn(msg, allFields...)
		return
	}
	logger.Error(msg, allFields...)
}
