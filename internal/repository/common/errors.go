package common

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Коды ошибок PostgreSQL, которые нужно различать.
const (
	pqUniqueViolation      = "23505"
	pqCheckViolation       = "23514"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

// IsUniqueViolation сообщает о нарушении уникального индекса.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation
}

// IsCheckViolation сообщает о нарушении CHECK ограничения.
func IsCheckViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pqCheckViolation
}

// Classify переводит ошибку драйвера в ошибку приложения.
// sql.ErrNoRows становится notFound, конфликты сериализации и блокировок
// становятся CONCURRENCY_CONFLICT, остальное DATABASE_ERROR.
func Classify(err error, op string, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) && notFound != nil {
		return notFound
	}
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return apperror.Wrap(err, apperror.ErrCodeConcurrency, op)
		}
	}
	return apperror.Wrap(fmt.Errorf("%s %w", op, err), apperror.ErrCodeDatabaseError, "ошибка базы данных")
}
