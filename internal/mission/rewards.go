package mission

import (
	"context"

	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
)

// Distributor is the reward distribution extension point. It is invoked
// exactly once, inside the transaction in which the mission's active flag
// flips to false. An error aborts that whole operation.
type Distributor interface {
	Distribute(ctx context.Context, tx ledger.Tx, mission missionstore.Mission) error
}

// NoopDistributor leaves the reward pool untouched on completion.
type NoopDistributor struct{}

// Distribute does nothing.
func (NoopDistributor) Distribute(context.Context, ledger.Tx, missionstore.Mission) error {
	return nil
}
