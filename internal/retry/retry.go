// Package retry повторяет операции, упавшие с временной ошибкой.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/ignatzorin/freelance-escrow/internal/logger"
	"github.com/ignatzorin/freelance-escrow/internal/pkg/apperror"
)

// Policy ограничивает число попыток и задаёт первую задержку.
// Каждая следующая задержка вдвое больше предыдущей.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Do выполняет op, повторяя её, пока ошибка временная (apperror.IsTransient)
// и попытки не исчерпаны. Возвращает последнюю ошибку.
func Do(ctx context.Context, p Policy, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := op(ctx)
		if err != nil && !apperror.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.With("retry").WithFields(logrus.Fields{
				"operation": name,
				"attempt":   attempt,
				"next":      next,
			}).WithError(err).Warn("временная ошибка, повторяем")
		}),
	)
	return err
}
