package storeinfra

import (
	"context"

	"github.com/goliatone/attendance-core/unitofwork"
	"github.com/uptrace/bun"
)

// Beginner opens bun transactions for a unit of work.
type Beginner struct {
	db *bun.DB
}

// NewBeginner returns a unitofwork.TxBeginner over db.
func NewBeginner(db *bun.DB) *Beginner {
	return &Beginner{db: db}
}

// Begin starts a transaction with the driver's default isolation level.
func (b *Beginner) Begin(ctx context.Context) (unitofwork.Tx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
