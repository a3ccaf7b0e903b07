package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/errs"
)

// CustodyStore persists staking-asset balances held in custody.
type CustodyStore struct {
	db querier
}

const (
	custodyDebitSQL = `
UPDATE custody_accounts
SET balance = balance - @amount::numeric
WHERE account = @account AND balance >= @amount::numeric;
`

	custodyCreditSQL = `
INSERT INTO custody_accounts (account, balance)
VALUES (@account, @amount::numeric)
ON CONFLICT (account) DO UPDATE SET balance = custody_accounts.balance + EXCLUDED.balance;
`

	custodyBalanceSQL = `
SELECT balance::text
FROM custody_accounts
WHERE account = @account;
`
)

// Transfer moves amount from one account to another inside the enclosing
// transaction. An underfunded source aborts the whole operation.
func (s *CustodyStore) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		return fmt.Errorf("custody store: from and to accounts required")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("custody store: negative transfer amount %s", amount)
	}
	debitArgs := pgx.NamedArgs{"account": from, "amount": amount.String()}
	tag, err := s.db.Exec(ctx, custodyDebitSQL, debitArgs)
	if err != nil {
		return fmt.Errorf("custody store: debit %s: %w", from, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("custody", errs.CodeInsufficientFunds,
			errs.WithMessage("balance too low for transfer"),
			errs.WithField("account", from),
			errs.WithField("amount", amount.String()))
	}
	creditArgs := pgx.NamedArgs{"account": to, "amount": amount.String()}
	if _, err := s.db.Exec(ctx, custodyCreditSQL, creditArgs); err != nil {
		return fmt.Errorf("custody store: credit %s: %w", to, err)
	}
	return nil
}

// Deposit credits an account, creating it when absent.
func (s *CustodyStore) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	if strings.TrimSpace(account) == "" {
		return fmt.Errorf("custody store: account required")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("custody store: negative deposit amount %s", amount)
	}
	args := pgx.NamedArgs{"account": account, "amount": amount.String()}
	if _, err := s.db.Exec(ctx, custodyCreditSQL, args); err != nil {
		return fmt.Errorf("custody store: deposit to %s: %w", account, err)
	}
	return nil
}

// Balance returns the account balance, zero for unknown accounts.
func (s *CustodyStore) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	var balance string
	err := s.db.QueryRow(ctx, custodyBalanceSQL, pgx.NamedArgs{"account": account}).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Decimal{}, fmt.Errorf("custody store: balance of %s: %w", account, err)
	}
	return parseNumeric(balance)
}
