// Package custodystore defines persistence contracts for the staking-asset custody ledger.
package custodystore

import (
	"context"

	"github.com/shopspring/decimal"
)

// Tx encapsulates custody balance mutations executed within a single ledger transaction.
type Tx interface {
	// Transfer moves amount from one account to another. It fails with an
	// insufficient-funds error when the source balance is too low, aborting
	// the enclosing operation.
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error
	// Deposit credits an account, creating it when absent.
	Deposit(ctx context.Context, account string, amount decimal.Decimal) error
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// Store defines the read-side contract for custody balances.
type Store interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}
