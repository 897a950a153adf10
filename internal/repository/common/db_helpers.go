package common

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// DBTX общий интерфейс *sqlx.DB и *sqlx.Tx для репозиториев.
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

type txKey struct{}

// Conn возвращает транзакцию из контекста или пул соединений.
// Так несколько репозиториев пишут в одну транзакцию, открытую сервисом.
func Conn(ctx context.Context, db *sqlx.DB) DBTX {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return db
}

// TxFromContext достаёт открытую транзакцию из контекста.
func TxFromContext(ctx context.Context) (*sqlx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return tx, ok
}

// ContextWithTx кладёт транзакцию в контекст.
func ContextWithTx(ctx context.Context, tx *sqlx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// Transactor открывает транзакции для сервисного слоя.
type Transactor struct {
	db *sqlx.DB
}

// NewTransactor создаёт Transactor поверх пула соединений.
func NewTransactor(db *sqlx.DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTx выполняет fn в транзакции. Если транзакция уже открыта выше по стеку,
// fn выполняется в ней, и фиксирует её внешний вызов.
func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return WithTransaction(ctx, t.db, func(tx *sqlx.Tx) error {
		return fn(ContextWithTx(ctx, tx))
	})
}

// WithTransaction выполняет функцию внутри транзакции с правильной обработкой ошибок
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(err, "begin transaction:", nil)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return Classify(err, "commit transaction:", nil)
	}

	return nil
}
