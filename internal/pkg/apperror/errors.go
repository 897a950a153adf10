package apperror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden          ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest         ErrorCode = "BAD_REQUEST"
	ErrCodeConflict           ErrorCode = "CONFLICT"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation         ErrorCode = "VALIDATION_ERROR"
	ErrCodeDatabaseError      ErrorCode = "DATABASE_ERROR"
	ErrCodeInsufficientFunds  ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeEscrowFrozen       ErrorCode = "ESCROW_FROZEN"
	ErrCodeGateway            ErrorCode = "GATEWAY_ERROR"
	ErrCodeConcurrency        ErrorCode = "CONCURRENCY_CONFLICT"
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду, чтобы errors.Is работал с обёрнутыми sentinel-ошибками.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

// Code возвращает код ошибки или INTERNAL_ERROR для неклассифицированных ошибок.
func Code(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeConflict, ErrCodeEscrowFrozen, ErrCodeConcurrency, ErrCodeInvariantViolation:
		return http.StatusConflict
	case ErrCodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ErrCodeGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func is(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return is(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return is(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return is(err, ErrCodeValidation)
}

func IsConflict(err error) bool {
	return is(err, ErrCodeConflict)
}

func IsEscrowFrozen(err error) bool {
	return is(err, ErrCodeEscrowFrozen)
}

func IsInsufficientFunds(err error) bool {
	return is(err, ErrCodeInsufficientFunds)
}

// IsTransient сообщает, имеет ли смысл повторить операцию.
// Бизнес-ошибки и ошибки валидации постоянны; конфликты блокировок, сбои
// шлюза, базы и прочие неклассифицированные инфраструктурные ошибки временны.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case ErrCodeConcurrency, ErrCodeGateway, ErrCodeDatabaseError:
			return true
		default:
			return false
		}
	}
	return true
}

var (
	ErrUnauthorized         = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden            = New(ErrCodeForbidden, "недостаточно прав")
	ErrInsufficientFunds    = New(ErrCodeInsufficientFunds, "недостаточно средств на балансе")
	ErrEscrowFrozen         = New(ErrCodeEscrowFrozen, "escrow заморожен на время спора")
	ErrEscrowNotHeld        = New(ErrCodeInvariantViolation, "escrow уже закрыт")
	ErrLockTimeout          = New(ErrCodeConcurrency, "ресурс занят другой операцией")
	ErrWalletNotFound       = New(ErrCodeNotFound, "кошелёк не найден")
	ErrTransactionNotFound  = New(ErrCodeNotFound, "транзакция не найдена")
	ErrEscrowNotFound       = New(ErrCodeNotFound, "escrow не найден")
	ErrContractNotFound     = New(ErrCodeNotFound, "контракт не найден")
	ErrMilestoneNotFound    = New(ErrCodeNotFound, "этап не найден")
	ErrDisputeNotFound      = New(ErrCodeNotFound, "спор не найден")
	ErrWithdrawalNotFound   = New(ErrCodeNotFound, "заявка на вывод не найдена")
	ErrReconNotFound        = New(ErrCodeNotFound, "задача сверки не найдена")
	ErrNotificationNotFound = New(ErrCodeNotFound, "уведомление не найдено")
)
