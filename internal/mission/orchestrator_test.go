package mission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/kalefund/missiongate/config"
	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/auth"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/infra/memory"
	"github.com/kalefund/missiongate/internal/oracle"
	"github.com/kalefund/missiongate/internal/policy"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type countingDistributor struct {
	calls int
}

func (d *countingDistributor) Distribute(ctx context.Context, tx ledger.Tx, mission missionstore.Mission) error {
	d.calls++
	return nil
}

type harness struct {
	orchestrator *Orchestrator
	provider     *oracle.MockProvider
	store        *memory.Ledger
	distributor  *countingDistributor
	clock        *fakeClock
	admin        auth.Principal
}

func testSettings() config.Settings {
	cfg := config.Default()
	cfg.Mission.DefaultTarget = decimal.NewFromInt(100)
	cfg.Mission.DefaultReward = decimal.NewFromInt(50)
	cfg.Mission.WindowHours = 24
	cfg.Mission.DropThresholdPct = 15
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Admin = "admin"
	return cfg
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cfg := testSettings()
	store := memory.NewLedger()
	provider := oracle.NewMockProvider()
	reader := oracle.NewReader(provider, store, cfg.Oracle)
	authorizer, err := auth.NewJWTAuthorizer(cfg.Auth)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0).UTC()}
	distributor := &countingDistributor{}
	opts = append([]Option{
		WithDistributor(distributor),
		WithOrchestratorClock(clock.Now),
	}, opts...)
	orchestrator := NewOrchestrator(store, reader, authorizer, cfg, opts...)
	return &harness{
		orchestrator: orchestrator,
		provider:     provider,
		store:        store,
		distributor:  distributor,
		clock:        clock,
		admin:        auth.Principal{Subject: "admin"},
	}
}

func (h *harness) fund(t *testing.T, account string, amount int64) {
	t.Helper()
	err := h.orchestrator.FundAccount(context.Background(), h.admin, account, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func (h *harness) open(t *testing.T, target, reward int64, hours uint64) uint64 {
	t.Helper()
	id, err := h.orchestrator.OpenMission(context.Background(), h.admin, OpenParams{
		TargetLiquidity: decimal.NewFromInt(target),
		RewardPool:      decimal.NewFromInt(reward),
		DurationHours:   hours,
		TriggerPrice:    decimal.NewFromInt(120_000),
	})
	require.NoError(t, err)
	return id
}

func TestCheckAndCreateMissionOpensOnDrop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1_000)
	opened, err := h.orchestrator.CheckAndCreateMission(ctx, h.admin)
	require.NoError(t, err)
	require.Nil(t, opened, "first read has no baseline")

	h.provider.SetPriceAt("BTC", decimal.NewFromInt(80_000), 1_300)
	opened, err = h.orchestrator.CheckAndCreateMission(ctx, h.admin)
	require.NoError(t, err)
	require.NotNil(t, opened)
	require.Equal(t, uint64(1), *opened)

	mission, err := h.orchestrator.GetMission(ctx, *opened)
	require.NoError(t, err)
	require.True(t, mission.Active)
	require.True(t, decimal.NewFromInt(100).Equal(mission.TargetLiquidity))
	require.True(t, decimal.NewFromInt(120_000).Equal(mission.TriggerPrice))
	require.Equal(t, h.clock.Now().Add(24*time.Hour), mission.Deadline)
}

func TestCheckAndCreateMissionBelowThresholdIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1_000)
	_, err := h.orchestrator.CheckAndCreateMission(ctx, h.admin)
	require.NoError(t, err)

	h.provider.SetPriceAt("BTC", decimal.NewFromInt(90_000), 1_300)
	opened, err := h.orchestrator.CheckAndCreateMission(ctx, h.admin)
	require.NoError(t, err)
	require.Nil(t, opened)

	_, err = h.orchestrator.GetMission(ctx, 1)
	require.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestCheckAndCreateMissionRequiresCaller(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.CheckAndCreateMission(context.Background(), auth.Principal{})
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestOpenMissionRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	_, err := h.orchestrator.OpenMission(context.Background(), auth.Principal{Subject: "alice"}, OpenParams{
		TargetLiquidity: decimal.NewFromInt(100),
		DurationHours:   24,
	})
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestEnlistContributeComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 1_000)

	stake, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10).Equal(stake.Staked))
	require.True(t, stake.Contribution.IsZero())

	mission, err := h.orchestrator.GetMission(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint32(1), mission.ParticipantsCount)

	balance, err := h.orchestrator.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(990).Equal(balance))
	vault, err := h.orchestrator.Balance(ctx, "vault")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10).Equal(vault))

	result, err := h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(100), policy.Proof{})
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.False(t, result.Mission.Active)
	require.True(t, decimal.NewFromInt(100).Equal(result.Mission.CurrentProgress))
	require.True(t, decimal.NewFromInt(100).Equal(result.Stake.Contribution))
	require.Equal(t, 1, h.distributor.calls)

	_, err = h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(1), policy.Proof{})
	require.True(t, errs.Is(err, errs.CodeMissionInactive))
	require.Equal(t, 1, h.distributor.calls, "distributor must run exactly once")
}

func TestDistributorRunsOnceAcrossManyContributions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 1_000)
	_, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		result, err := h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(10), policy.Proof{})
		require.NoError(t, err)
		require.False(t, result.Completed)
	}
	require.Equal(t, 0, h.distributor.calls)

	result, err := h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(10), policy.Proof{})
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, 1, h.distributor.calls)
}

func TestEnlistDuplicateRollsBackTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 100)
	_, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.True(t, errs.Is(err, errs.CodeAlreadyEnlisted))

	balance, err := h.orchestrator.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(90).Equal(balance), "failed enlist must not move funds")

	mission, err := h.orchestrator.GetMission(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint32(1), mission.ParticipantsCount)
}

func TestEnlistAfterDeadline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 100)
	h.clock.Advance(25 * time.Hour)

	_, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.True(t, errs.Is(err, errs.CodeMissionExpired))

	balance, err := h.orchestrator.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(balance))

	_, err = h.orchestrator.GetStake(ctx, "alice", id)
	require.True(t, errs.Is(err, errs.CodeNotFound))
}

func TestContributionAfterDeadlineStillAccepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 100)
	_, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.NoError(t, err)

	h.clock.Advance(48 * time.Hour)
	result, err := h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(100), policy.Proof{})
	require.NoError(t, err)
	require.True(t, result.Completed)
}

func TestEnlistInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 5)

	_, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.True(t, errs.Is(err, errs.CodeInsufficientFunds))
}

func TestEnlistUnknownMissionRollsBackTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	h.fund(t, "alice", 100)
	_, err := h.orchestrator.Enlist(ctx, alice, "alice", 42, decimal.NewFromInt(10))
	require.True(t, errs.Is(err, errs.CodeNotFound))

	balance, err := h.orchestrator.Balance(ctx, "alice")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(balance))
}

func TestEnlistRequiresMatchingIdentity(t *testing.T) {
	h := newHarness(t)
	mallory := auth.Principal{Subject: "mallory"}
	_, err := h.orchestrator.Enlist(context.Background(), mallory, "alice", 1, decimal.NewFromInt(10))
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestMissionIDsAreSequential(t *testing.T) {
	h := newHarness(t)

	first := h.open(t, 100, 50, 24)
	second := h.open(t, 200, 0, 48)
	require.Equal(t, uint64(1), first)
	require.Equal(t, uint64(2), second)

	missions, err := h.orchestrator.ListMissions(context.Background(), missionstore.Query{})
	require.NoError(t, err)
	require.Len(t, missions, 2)
}

func TestParticipantsCountMatchesStakes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	id := h.open(t, 1_000, 50, 24)
	users := []string{"alice", "bob", "carol"}
	for _, user := range users {
		h.fund(t, user, 100)
		_, err := h.orchestrator.Enlist(ctx, auth.Principal{Subject: user}, user, id, decimal.NewFromInt(10))
		require.NoError(t, err)
	}

	mission, err := h.orchestrator.GetMission(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint32(len(users)), mission.ParticipantsCount)
}

func TestSetDropThresholdOverridesConfig(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	threshold, err := h.orchestrator.DropThreshold(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(15), threshold, "config default before any override")

	require.NoError(t, h.orchestrator.SetDropThreshold(ctx, h.admin, 25))
	threshold, err = h.orchestrator.DropThreshold(ctx)
	require.NoError(t, err)
	require.Equal(t, uint32(25), threshold)

	// A 20% drop fires the default threshold but not the override.
	h.provider.SetPriceAt("BTC", decimal.NewFromInt(100_000), 1_000)
	_, err = h.orchestrator.CheckAndCreateMission(ctx, h.admin)
	require.NoError(t, err)
	h.provider.SetPriceAt("BTC", decimal.NewFromInt(80_000), 1_300)
	opened, err := h.orchestrator.CheckAndCreateMission(ctx, h.admin)
	require.NoError(t, err)
	require.Nil(t, opened)
}

func TestSetDropThresholdRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	err := h.orchestrator.SetDropThreshold(context.Background(), auth.Principal{Subject: "alice"}, 25)
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestRejectedProofBlocksContribution(t *testing.T) {
	validator, err := policy.New(`function validate(proof) { return { ok: false, reason: "no receipt" }; }`)
	require.NoError(t, err)
	h := newHarness(t, WithValidator(validator))
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 100)
	_, err = h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.NoError(t, err)

	_, err = h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(50), policy.Proof{})
	require.True(t, errs.Is(err, errs.CodeUnauthorized))

	mission, err := h.orchestrator.GetMission(ctx, id)
	require.NoError(t, err)
	require.True(t, mission.CurrentProgress.IsZero())
}

func TestCurrentPriceReadsBenchmark(t *testing.T) {
	h := newHarness(t)
	h.provider.SetPriceAt("BTC", decimal.NewFromInt(64_000), 2_000)

	sample, err := h.orchestrator.CurrentPrice(context.Background())
	require.NoError(t, err)
	require.Equal(t, "BTC", sample.Asset)
	require.True(t, decimal.NewFromInt(64_000).Equal(sample.Price))
}

func TestFundAccountRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	err := h.orchestrator.FundAccount(context.Background(), auth.Principal{Subject: "alice"}, "alice", decimal.NewFromInt(10))
	require.True(t, errs.Is(err, errs.CodeUnauthorized))
}

func TestStakeEventsCarryInjectedClockTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice := auth.Principal{Subject: "alice"}

	id := h.open(t, 100, 50, 24)
	h.fund(t, "alice", 100)
	_, err := h.orchestrator.Enlist(ctx, alice, "alice", id, decimal.NewFromInt(10))
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	_, err = h.orchestrator.AddContribution(ctx, alice, "alice", id, decimal.NewFromInt(20), policy.Proof{})
	require.NoError(t, err)

	records, err := h.store.Outbox().ListPending(ctx, 20)
	require.NoError(t, err)

	byType := make(map[string]time.Time)
	for _, record := range records {
		byType[record.EventType] = record.AvailableAt
	}
	enlistedAt := time.Unix(1_700_000_000, 0).UTC()
	require.Equal(t, enlistedAt, byType[outboxstore.EventStakeCreated])
	require.Equal(t, enlistedAt.Add(2*time.Hour), byType[outboxstore.EventContributionRecorded])
}
