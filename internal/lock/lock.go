// Package lock сериализует операции над одним ресурсом (escrow, кошелёк).
package lock

import (
	"context"
	"time"
)

// UnlockFunc освобождает захваченную блокировку.
type UnlockFunc func(ctx context.Context) error

// Locker захватывает именованную блокировку. Lock ждёт, пока блокировка
// освободится или не истечёт ctx.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
