package dbctx

import (
	"context"

	"gorm.io/gorm"
)

// Context carries the request context and, when inside a transaction, the
// transaction handle. Repositories fall back to their own *gorm.DB when Tx is nil.
type Context struct {
	Ctx context.Context
	Tx  *gorm.DB
}

func New(ctx context.Context) Context {
	return Context{Ctx: ctx}
}

func (c Context) WithTx(tx *gorm.DB) Context {
	return Context{Ctx: c.Ctx, Tx: tx}
}

func (c Context) Context() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}
