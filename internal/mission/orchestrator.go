package mission

import (
	"context"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/auth"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/pricestore"
	"github.com/kalefund/missiongate/internal/domain/settingsstore"
	"github.com/kalefund/missiongate/internal/domain/stakestore"
	"github.com/kalefund/missiongate/internal/observability"
	"github.com/kalefund/missiongate/internal/oracle"
	"github.com/kalefund/missiongate/internal/policy"
)

// Orchestrator is the façade over the registry, the stake ledger, the price
// reader, and the custody ledger. Every state-changing operation runs inside
// exactly one ledger transaction.
type Orchestrator struct {
	store       ledger.Ledger
	reader      *oracle.Reader
	registry    *Registry
	stakes      *StakeLedger
	authorizer  auth.Authorizer
	validator   policy.Validator
	distributor Distributor
	cfg         config.Settings
	logger      observability.Logger
	now         func() time.Time
}

// Option customises Orchestrator construction.
type Option func(*Orchestrator)

// WithValidator sets the proof validation policy.
func WithValidator(validator policy.Validator) Option {
	return func(o *Orchestrator) {
		if validator != nil {
			o.validator = validator
		}
	}
}

// WithDistributor sets the reward distribution strategy.
func WithDistributor(distributor Distributor) Option {
	return func(o *Orchestrator) {
		if distributor != nil {
			o.distributor = distributor
		}
	}
}

// WithOrchestratorLogger sets the structured logger.
func WithOrchestratorLogger(logger observability.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithOrchestratorClock overrides the wall clock, for tests.
func WithOrchestratorClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
			o.registry.SetClock(now)
			o.stakes.SetClock(now)
		}
	}
}

// NewOrchestrator wires the mission components over the shared ledger.
func NewOrchestrator(store ledger.Ledger, reader *oracle.Reader, authorizer auth.Authorizer, cfg config.Settings, opts ...Option) *Orchestrator {
	orchestrator := &Orchestrator{
		store:       store,
		reader:      reader,
		registry:    NewRegistry(reader, cfg.Mission, cfg.Oracle),
		stakes:      NewStakeLedger(),
		authorizer:  authorizer,
		validator:   policy.AcceptAll{},
		distributor: NoopDistributor{},
		cfg:         cfg,
		logger:      observability.Log(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(orchestrator)
	}
	return orchestrator
}

// ContributionResult reports the state after a contribution.
type ContributionResult struct {
	Mission   missionstore.Mission `json:"mission"`
	Stake     stakestore.Stake     `json:"stake"`
	Completed bool                 `json:"completed"`
}

// CheckAndCreateMission runs the auto-open workflow: check the benchmark
// asset's drop threshold and open a mission when it fires. Returns the new
// mission id, or nil when the threshold did not fire.
func (o *Orchestrator) CheckAndCreateMission(ctx context.Context, caller auth.Principal) (*uint64, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	var opened *uint64
	err := o.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		threshold, err := o.dropThresholdTx(ctx, tx)
		if err != nil {
			return err
		}
		id, triggered, err := o.registry.AutoOpenIfTriggered(ctx, tx, threshold)
		if err != nil {
			return err
		}
		if triggered {
			opened = &id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if opened != nil {
		o.logger.Info("mission auto-opened",
			observability.Field{Key: "mission_id", Value: *opened},
			observability.Field{Key: "caller", Value: caller.Subject})
	}
	return opened, nil
}

// OpenMission opens a mission with caller-supplied parameters. Only the
// configured administrator may call it.
func (o *Orchestrator) OpenMission(ctx context.Context, caller auth.Principal, params OpenParams) (uint64, error) {
	if err := o.authorizer.RequireAdmin(caller); err != nil {
		return 0, err
	}
	var id uint64
	err := o.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		var err error
		id, err = o.registry.Open(ctx, tx, params)
		return err
	})
	if err != nil {
		return 0, err
	}
	o.logger.Info("mission opened",
		observability.Field{Key: "mission_id", Value: id},
		observability.Field{Key: "caller", Value: caller.Subject})
	return id, nil
}

// Enlist stakes amount on a mission for user. The custody transfer happens
// first; mission guards (active, deadline, no duplicate stake) follow, and
// any failure rolls the transfer back with the rest of the operation.
func (o *Orchestrator) Enlist(ctx context.Context, caller auth.Principal, user string, missionID uint64, amount decimal.Decimal) (stakestore.Stake, error) {
	if err := o.authorizer.RequireIdentity(caller, user); err != nil {
		return stakestore.Stake{}, err
	}
	if amount.Sign() <= 0 {
		return stakestore.Stake{}, errs.New("orchestrator", errs.CodeInvalid,
			errs.WithMessage("staked amount must be positive"))
	}
	var stake stakestore.Stake
	err := o.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.Custody().Transfer(ctx, user, o.cfg.Custody.VaultAccount, amount); err != nil {
			return err
		}
		mission, err := tx.Missions().Get(ctx, missionID)
		if err != nil {
			return err
		}
		if !mission.Active {
			return errs.New("orchestrator", errs.CodeMissionInactive,
				errs.WithMessage("mission is not active"),
				errs.WithField("mission_id", strconv.FormatUint(missionID, 10)))
		}
		if o.now().After(mission.Deadline) {
			return errs.New("orchestrator", errs.CodeMissionExpired,
				errs.WithMessage("mission deadline has passed"),
				errs.WithField("mission_id", strconv.FormatUint(missionID, 10)))
		}
		stake, err = o.stakes.CreateStake(ctx, tx, user, missionID, amount)
		if err != nil {
			return err
		}
		mission.ParticipantsCount++
		return tx.Missions().Update(ctx, mission)
	})
	if err != nil {
		return stakestore.Stake{}, err
	}
	o.logger.Info("user enlisted",
		observability.Field{Key: "user", Value: user},
		observability.Field{Key: "mission_id", Value: missionID},
		observability.Field{Key: "staked", Value: amount.String()})
	return stake, nil
}

// AddContribution adds amount to the user's stake and the mission's
// progress. The deadline does not gate contributions; a mission past its
// deadline still accepts them and can still complete. When this call crosses
// the funding target the reward distributor runs inside the same transaction.
func (o *Orchestrator) AddContribution(ctx context.Context, caller auth.Principal, user string, missionID uint64, amount decimal.Decimal, proof policy.Proof) (ContributionResult, error) {
	if err := o.authorizer.RequireIdentity(caller, user); err != nil {
		return ContributionResult{}, err
	}
	proof.User = user
	proof.MissionID = missionID
	proof.Amount = amount.String()
	if err := o.validator.Validate(ctx, proof); err != nil {
		return ContributionResult{}, err
	}
	var result ContributionResult
	err := o.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		mission, completed, err := o.registry.RecordProgress(ctx, tx, missionID, amount)
		if err != nil {
			return err
		}
		stake, err := o.stakes.RecordContribution(ctx, tx, user, missionID, amount)
		if err != nil {
			return err
		}
		if completed {
			if err := o.distributor.Distribute(ctx, tx, mission); err != nil {
				return err
			}
		}
		result = ContributionResult{Mission: mission, Stake: stake, Completed: completed}
		return nil
	})
	if err != nil {
		return ContributionResult{}, err
	}
	if result.Completed {
		o.logger.Info("mission completed",
			observability.Field{Key: "mission_id", Value: missionID},
			observability.Field{Key: "progress", Value: result.Mission.CurrentProgress.String()})
	}
	return result, nil
}

// CurrentPrice reads the benchmark asset's price, caching it like any other
// oracle read.
func (o *Orchestrator) CurrentPrice(ctx context.Context) (pricestore.Sample, error) {
	return o.reader.ReadPrice(ctx, o.cfg.Oracle.BenchmarkAsset)
}

// GetMission returns the mission by id.
func (o *Orchestrator) GetMission(ctx context.Context, id uint64) (missionstore.Mission, error) {
	return o.store.Missions().Get(ctx, id)
}

// ListMissions returns missions matching the query.
func (o *Orchestrator) ListMissions(ctx context.Context, query missionstore.Query) ([]missionstore.Mission, error) {
	return o.store.Missions().List(ctx, query)
}

// GetStake returns the stake for the (user, mission) pair.
func (o *Orchestrator) GetStake(ctx context.Context, user string, missionID uint64) (stakestore.Stake, error) {
	return o.store.Stakes().Get(ctx, user, missionID)
}

// FundAccount credits a custody account. Admin only; used to seed balances
// in dev and test deployments.
func (o *Orchestrator) FundAccount(ctx context.Context, caller auth.Principal, account string, amount decimal.Decimal) error {
	if err := o.authorizer.RequireAdmin(caller); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return errs.New("orchestrator", errs.CodeInvalid, errs.WithMessage("amount must be positive"))
	}
	return o.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Custody().Deposit(ctx, account, amount)
	})
}

// Balance returns a custody account balance.
func (o *Orchestrator) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	return o.store.Custody().Balance(ctx, account)
}

// SetDropThreshold persists a new auto-open threshold. Admin only.
func (o *Orchestrator) SetDropThreshold(ctx context.Context, caller auth.Principal, pct uint32) error {
	if err := o.authorizer.RequireAdmin(caller); err != nil {
		return err
	}
	value, err := json.Marshal(pct)
	if err != nil {
		return err
	}
	err = o.store.WithTransaction(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.Settings().Put(ctx, settingsstore.KeyDropThresholdPct, value)
	})
	if err != nil {
		return err
	}
	o.logger.Info("drop threshold updated",
		observability.Field{Key: "threshold_pct", Value: pct},
		observability.Field{Key: "caller", Value: caller.Subject})
	return nil
}

// DropThreshold returns the persisted auto-open threshold, falling back to
// the configured default.
func (o *Orchestrator) DropThreshold(ctx context.Context) (uint32, error) {
	raw, err := o.store.Settings().Get(ctx, settingsstore.KeyDropThresholdPct)
	if err != nil {
		return 0, err
	}
	return o.decodeThreshold(raw)
}

func (o *Orchestrator) dropThresholdTx(ctx context.Context, tx ledger.Tx) (uint32, error) {
	raw, err := tx.Settings().Get(ctx, settingsstore.KeyDropThresholdPct)
	if err != nil {
		return 0, err
	}
	return o.decodeThreshold(raw)
}

func (o *Orchestrator) decodeThreshold(raw json.RawMessage) (uint32, error) {
	if len(raw) == 0 {
		return o.cfg.Mission.DropThresholdPct, nil
	}
	var pct uint32
	if err := json.Unmarshal(raw, &pct); err != nil {
		return 0, errs.New("orchestrator", errs.CodeInternal,
			errs.WithMessage("corrupt drop threshold setting"),
			errs.WithCause(err))
	}
	return pct, nil
}

func requireCaller(caller auth.Principal) error {
	if caller.Subject == "" {
		return errs.New("orchestrator", errs.CodeUnauthorized,
			errs.WithMessage("authenticated caller required"))
	}
	return nil
}
