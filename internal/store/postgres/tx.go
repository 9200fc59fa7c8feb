package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	perrors "github.com/percolation-labs/p8k8/pkg/errors"
)

type txKey struct{}

// Tx wraps *sqlx.DB with the internal/store.TxStore contract, stashing the
// active *sqlx.Tx on the context. Queries issued through Ext(ctx) join that
// transaction; code that queries a *sqlx.DB directly does not.
type Tx struct {
	db *sqlx.DB
}

func NewTx(db *sqlx.DB) *Tx { return &Tx{db: db} }

// Ext returns the sqlx extender to issue queries against: the active
// transaction if ctx carries one, otherwise the pooled *sqlx.DB.
func (t *Tx) Ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return t.db
}

func (t *Tx) BeginTx(ctx context.Context) (context.Context, error) {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return ctx, perrors.TransientStore("begin_tx", err)
	}
	return context.WithValue(ctx, txKey{}, tx), nil
}

func (t *Tx) CommitTx(ctx context.Context) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return perrors.Internal("commit_tx: no active transaction on context", nil)
	}
	if err := tx.Commit(); err != nil {
		return perrors.TransientStore("commit_tx", err)
	}
	return nil
}

func (t *Tx) RollbackTx(ctx context.Context) error {
	tx, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	if !ok {
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return perrors.TransientStore("rollback_tx", err)
	}
	return nil
}

func (t *Tx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	txCtx, err := t.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := fn(txCtx); err != nil {
		_ = t.RollbackTx(txCtx)
		return err
	}
	return t.CommitTx(txCtx)
}
