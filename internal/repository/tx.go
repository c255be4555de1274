package repository

import (
	"gorm.io/gorm"

	"triagechat/internal/pkg/dbctx"
)

type TxRunner struct {
	db *gorm.DB
}

func NewTxRunner(db *gorm.DB) *TxRunner {
	return &TxRunner{db: db}
}

// InTx runs fn inside one database transaction. A non-nil error from fn rolls
// everything back.
func (r *TxRunner) InTx(dbc dbctx.Context, fn func(tx dbctx.Context) error) error {
	if dbc.Tx != nil {
		return fn(dbc)
	}
	return r.db.WithContext(dbc.Context()).Transaction(func(tx *gorm.DB) error {
		return fn(dbc.WithTx(tx))
	})
}

func pick(db *gorm.DB, dbc dbctx.Context) *gorm.DB {
	txx := dbc.Tx
	if txx == nil {
		txx = db
	}
	return txx.WithContext(dbc.Context())
}
