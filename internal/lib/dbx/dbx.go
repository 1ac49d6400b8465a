// Package dbx содержит минимальные абстракции над database/sql, общие для
// репозиториев: интерфейс DBTX, которому удовлетворяют *sql.DB и *sql.Tx,
// и запуск функции внутри транзакции с передачей транзакции через контекст.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
)

// DBTX подмножество database/sql, используемое репозиториями.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// WithTx открывает транзакцию, кладёт её в контекст и вызывает fn.
// Коммит при успехе, откат при ошибке или панике (паника пробрасывается дальше).
// Если в контексте уже есть транзакция, fn выполняется в ней без вложенного BEGIN.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(context.WithValue(ctx, txKey{}, tx))
	return err
}

// Conn возвращает транзакцию из контекста или db, если транзакции нет.
func Conn(ctx context.Context, db *sql.DB) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

// InTx сообщает, выполняется ли код внутри транзакции.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok
}

var savepointSeq atomic.Uint64

// WithSavepoint выполняет fn внутри точки сохранения текущей транзакции.
// Ошибка fn откатывает только изменения, сделанные в fn, транзакция остаётся рабочей.
// Без транзакции в контексте fn вызывается как есть.
func WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	if !ok {
		return fn(ctx)
	}

	name := fmt.Sprintf("sp_%d", savepointSeq.Add(1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		return err
	}
	_, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
