// Package mission implements the crowd-funded campaign lifecycle: the
// registry that owns mission records, the stake ledger that owns per-user
// stakes, and the orchestrator that composes them with the price oracle.
package mission

import (
	"context"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/oracle"
)

// Registry owns mission records and the id counter. All mutations run inside
// the transaction handed in by the orchestrator so they commit or roll back
// with the rest of the enclosing operation.
type Registry struct {
	cfg    config.MissionSettings
	oracle config.OracleSettings
	reader *oracle.Reader
	now    func() time.Time
}

// NewRegistry builds a Registry over the reader and mission settings.
func NewRegistry(reader *oracle.Reader, missionCfg config.MissionSettings, oracleCfg config.OracleSettings) *Registry {
	return &Registry{
		cfg:    missionCfg,
		oracle: oracleCfg,
		reader: reader,
		now:    time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (r *Registry) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// OpenParams are the caller-supplied parameters of an administrative open.
type OpenParams struct {
	TargetLiquidity decimal.Decimal
	RewardPool      decimal.Decimal
	DurationHours   uint64
	TriggerPrice    decimal.Decimal
}

func (p OpenParams) validate() error {
	if p.TargetLiquidity.Sign() <= 0 {
		return errs.New("missions", errs.CodeInvalid, errs.WithMessage("target liquidity must be positive"))
	}
	if p.RewardPool.Sign() < 0 {
		return errs.New("missions", errs.CodeInvalid, errs.WithMessage("reward pool must not be negative"))
	}
	if p.DurationHours == 0 {
		return errs.New("missions", errs.CodeInvalid, errs.WithMessage("duration must be positive"))
	}
	return nil
}

// AutoOpenIfTriggered checks the benchmark asset's drop threshold and, when
// it fires, opens a mission priced from the campaign asset. Returns the new
// mission id and true when a mission was opened.
func (r *Registry) AutoOpenIfTriggered(ctx context.Context, tx ledger.Tx, thresholdPct uint32) (uint64, bool, error) {
	triggered, err := r.reader.CheckDropThresholdTx(ctx, tx, r.oracle.BenchmarkAsset, thresholdPct)
	if err != nil {
		return 0, false, err
	}
	if !triggered {
		return 0, false, nil
	}
	sample, err := r.reader.ReadPriceTx(ctx, tx, r.oracle.CampaignAsset)
	if err != nil {
		return 0, false, err
	}
	if sample.Sentinel() {
		return 0, false, errs.New("missions", errs.CodeOracleUnavailable,
			errs.WithMessage("no campaign asset price available"),
			errs.WithField("asset", r.oracle.CampaignAsset))
	}
	id, err := r.open(ctx, tx, OpenParams{
		TargetLiquidity: r.cfg.DefaultTarget,
		RewardPool:      r.cfg.DefaultReward,
		DurationHours:   r.cfg.WindowHours,
		TriggerPrice:    sample.Price,
	})
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// Open allocates an id and persists a new active mission with the supplied
// parameters. Admin gating happens at the orchestrator boundary.
func (r *Registry) Open(ctx context.Context, tx ledger.Tx, params OpenParams) (uint64, error) {
	if err := params.validate(); err != nil {
		return 0, err
	}
	return r.open(ctx, tx, params)
}

func (r *Registry) open(ctx context.Context, tx ledger.Tx, params OpenParams) (uint64, error) {
	id, err := tx.Missions().AllocateID(ctx)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	mission := missionstore.Mission{
		ID:                id,
		TargetLiquidity:   params.TargetLiquidity,
		CurrentProgress:   decimal.Zero,
		RewardPool:        params.RewardPool,
		Deadline:          now.Add(time.Duration(params.DurationHours) * time.Hour),
		Active:            true,
		TriggerPrice:      params.TriggerPrice,
		ParticipantsCount: 0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := tx.Missions().Insert(ctx, mission); err != nil {
		return 0, err
	}
	if err := enqueueMissionEvent(ctx, tx, outboxstore.EventMissionOpened, mission, now); err != nil {
		return 0, err
	}
	return id, nil
}

// RecordProgress adds amount to the mission's progress. Crossing the funding
// target flips active to false within the same call; the boolean reports
// whether this call performed that transition.
func (r *Registry) RecordProgress(ctx context.Context, tx ledger.Tx, missionID uint64, amount decimal.Decimal) (missionstore.Mission, bool, error) {
	if amount.Sign() <= 0 {
		return missionstore.Mission{}, false, errs.New("missions", errs.CodeInvalid,
			errs.WithMessage("contribution amount must be positive"))
	}
	mission, err := tx.Missions().Get(ctx, missionID)
	if err != nil {
		return missionstore.Mission{}, false, err
	}
	if !mission.Active {
		return missionstore.Mission{}, false, errs.New("missions", errs.CodeMissionInactive,
			errs.WithMessage("mission is not active"),
			errs.WithField("mission_id", strconv.FormatUint(missionID, 10)))
	}
	mission.CurrentProgress = mission.CurrentProgress.Add(amount)
	completed := mission.Completed()
	if completed {
		mission.Active = false
	}
	if err := tx.Missions().Update(ctx, mission); err != nil {
		return missionstore.Mission{}, false, err
	}
	if completed {
		if err := enqueueMissionEvent(ctx, tx, outboxstore.EventMissionCompleted, mission, r.now().UTC()); err != nil {
			return missionstore.Mission{}, false, err
		}
	}
	return mission, completed, nil
}

func enqueueMissionEvent(ctx context.Context, tx ledger.Tx, eventType string, mission missionstore.Mission, at time.Time) error {
	payload, err := json.Marshal(map[string]any{
		"missionId":         mission.ID,
		"targetLiquidity":   mission.TargetLiquidity.String(),
		"currentProgress":   mission.CurrentProgress.String(),
		"rewardPool":        mission.RewardPool.String(),
		"triggerPrice":      mission.TriggerPrice.String(),
		"deadline":          mission.Deadline.Unix(),
		"participantsCount": mission.ParticipantsCount,
	})
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, outboxstore.Event{
		EventID:       uuid.NewString(),
		AggregateType: "mission",
		AggregateID:   strconv.FormatUint(mission.ID, 10),
		EventType:     eventType,
		Payload:       payload,
		AvailableAt:   at,
	})
}
