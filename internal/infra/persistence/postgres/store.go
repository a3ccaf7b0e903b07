// Package postgres implements the mission ledger on top of PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kalefund/missiongate/internal/domain/custodystore"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/domain/pricestore"
	"github.com/kalefund/missiongate/internal/domain/settingsstore"
	"github.com/kalefund/missiongate/internal/domain/stakestore"
)

// querier abstracts the pgx surface shared by pgxpool.Pool and pgx.Tx, so the
// same store code serves both pooled reads and transactional writes.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed mission ledger.
type Store struct {
	pool *pgxpool.Pool
}

var _ ledger.Ledger = (*Store)(nil)

// New constructs a PostgreSQL ledger backed by the provided pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

func (s *Store) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("postgres ledger: nil pool")
	}
	return s.pool, nil
}

// WithTransaction executes fn inside a single database transaction. Any error
// from fn rolls back every write performed through the transaction views.
func (s *Store) WithTransaction(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("postgres ledger: transaction callback required")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	var txOptions pgx.TxOptions
	txOptions.IsoLevel = pgx.Serializable
	txOptions.AccessMode = pgx.ReadWrite
	txOptions.DeferrableMode = pgx.NotDeferrable

	tx, err := pool.BeginTx(ctx, txOptions)
	if err != nil {
		return fmt.Errorf("postgres ledger: begin tx: %w", err)
	}
	runErr := fn(ctx, &ledgerTx{tx: tx})
	if runErr != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("postgres ledger: rollback tx: %w (original error: %v)", rbErr, runErr)
		}
		return runErr
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("postgres ledger: commit tx: %w", err)
	}
	return nil
}

// Missions returns the read-side mission store.
func (s *Store) Missions() missionstore.Store { return &MissionStore{db: s.pool} }

// Stakes returns the read-side stake store.
func (s *Store) Stakes() stakestore.Store { return &StakeStore{db: s.pool} }

// Prices returns the read-side price store.
func (s *Store) Prices() pricestore.Store { return &PriceStore{db: s.pool} }

// Outbox returns the read/ack outbox store used by the event relay.
func (s *Store) Outbox() outboxstore.Store { return &OutboxStore{db: s.pool} }

// Custody returns the read-side custody balance store.
func (s *Store) Custody() custodystore.Store { return &CustodyStore{db: s.pool} }

// Settings returns the read-side settings store.
func (s *Store) Settings() settingsstore.Store { return &SettingsStore{db: s.pool} }

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) Missions() missionstore.Tx { return &MissionStore{db: t.tx} }
func (t *ledgerTx) Stakes() stakestore.Tx { return &StakeStore{db: t.tx} }
func (t *ledgerTx) Prices() pricestore.Tx { return &PriceStore{db: t.tx} }
func (t *ledgerTx) Outbox() outboxstore.Tx { return &OutboxStore{db: t.tx} }
func (t *ledgerTx) Custody() custodystore.Tx { return &CustodyStore{db: t.tx} }
func (t *ledgerTx) Settings() settingsstore.Tx { return &SettingsStore{db: t.tx} }
