package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TxRunner runs units of work inside a single database transaction.
type TxRunner struct {
	db *sqlx.DB
}

// NewTxRunner builds a TxRunner bound to db.
func NewTxRunner(db *sqlx.DB) *TxRunner {
	return &TxRunner{db: db}
}

// WithinTx begins a transaction, hands it to fn and commits when fn returns nil.
// Any error or panic from fn rolls the transaction back.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(exec sqlx.ExtContext) error) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
