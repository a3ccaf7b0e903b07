// Package ledger defines the unit-of-work contract shared by every
// state-changing mission operation. Each externally invoked operation runs
// inside exactly one transaction: either every write in the operation becomes
// durable, or none does.
package ledger

import (
	"context"

	"github.com/kalefund/missiongate/internal/domain/custodystore"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/domain/pricestore"
	"github.com/kalefund/missiongate/internal/domain/settingsstore"
	"github.com/kalefund/missiongate/internal/domain/stakestore"
)

// Tx exposes the transactional views of every domain store. All mutations
// performed through a Tx commit or roll back together.
type Tx interface {
	Missions() missionstore.Tx
	Stakes() stakestore.Tx
	Prices() pricestore.Tx
	Outbox() outboxstore.Tx
	Custody() custodystore.Tx
	Settings() settingsstore.Tx
}

// Ledger coordinates transactional access to the persisted mission state.
type Ledger interface {
	// WithTransaction executes fn inside a single transaction. When fn
	// returns an error the transaction rolls back and the error propagates
	// unchanged.
	WithTransaction(ctx context.Context, fn func(context.Context, Tx) error) error

	Missions() missionstore.Store
	Stakes() stakestore.Store
	Prices() pricestore.Store
	Outbox() outboxstore.Store
	Custody() custodystore.Store
	Settings() settingsstore.Store
}
