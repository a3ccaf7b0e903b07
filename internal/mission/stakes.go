package mission

import (
	"context"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/domain/stakestore"
)

// StakeLedger owns per-user stake records. At most one stake exists per
// (user, mission) pair.
type StakeLedger struct {
	now func() time.Time
}

// NewStakeLedger builds a StakeLedger.
func NewStakeLedger() *StakeLedger {
	return &StakeLedger{now: time.Now}
}

// SetClock overrides the wall clock, for tests.
func (l *StakeLedger) SetClock(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// CreateStake records a new stake with zero contribution. A second stake for
// the same (user, mission) pair fails and leaves the first untouched.
func (l *StakeLedger) CreateStake(ctx context.Context, tx ledger.Tx, user string, missionID uint64, staked decimal.Decimal) (stakestore.Stake, error) {
	if strings.TrimSpace(user) == "" {
		return stakestore.Stake{}, errs.New("stakes", errs.CodeInvalid, errs.WithMessage("user required"))
	}
	if staked.Sign() <= 0 {
		return stakestore.Stake{}, errs.New("stakes", errs.CodeInvalid, errs.WithMessage("staked amount must be positive"))
	}
	exists, err := tx.Stakes().Exists(ctx, user, missionID)
	if err != nil {
		return stakestore.Stake{}, err
	}
	if exists {
		return stakestore.Stake{}, errs.New("stakes", errs.CodeAlreadyEnlisted,
			errs.WithMessage("stake already exists for user and mission"),
			errs.WithField("user", user),
			errs.WithField("mission_id", strconv.FormatUint(missionID, 10)))
	}
	stake := stakestore.Stake{
		User:         user,
		MissionID:    missionID,
		Staked:       staked,
		Contribution: decimal.Zero,
		EnlistedAt:   l.now().UTC(),
	}
	if err := tx.Stakes().Insert(ctx, stake); err != nil {
		return stakestore.Stake{}, err
	}
	if err := l.enqueueStakeEvent(ctx, tx, outboxstore.EventStakeCreated, stake); err != nil {
		return stakestore.Stake{}, err
	}
	return stake, nil
}

// RecordContribution adds amount to an existing stake's contribution total.
func (l *StakeLedger) RecordContribution(ctx context.Context, tx ledger.Tx, user string, missionID uint64, amount decimal.Decimal) (stakestore.Stake, error) {
	if amount.Sign() <= 0 {
		return stakestore.Stake{}, errs.New("stakes", errs.CodeInvalid, errs.WithMessage("contribution amount must be positive"))
	}
	stake, err := tx.Stakes().Get(ctx, user, missionID)
	if err != nil {
		return stakestore.Stake{}, err
	}
	stake.Contribution = stake.Contribution.Add(amount)
	if err := tx.Stakes().Update(ctx, stake); err != nil {
		return stakestore.Stake{}, err
	}
	if err := l.enqueueStakeEvent(ctx, tx, outboxstore.EventContributionRecorded, stake); err != nil {
		return stakestore.Stake{}, err
	}
	return stake, nil
}

func (l *StakeLedger) enqueueStakeEvent(ctx context.Context, tx ledger.Tx, eventType string, stake stakestore.Stake) error {
	payload, err := json.Marshal(map[string]any{
		"user":         stake.User,
		"missionId":    stake.MissionID,
		"staked":       stake.Staked.String(),
		"contribution": stake.Contribution.String(),
	})
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, outboxstore.Event{
		EventID:       uuid.NewString(),
		AggregateType: "stake",
		AggregateID:   stake.User + "/" + strconv.FormatUint(stake.MissionID, 10),
		EventType:     eventType,
		Payload:       payload,
		AvailableAt:   l.now().UTC(),
	})
}
