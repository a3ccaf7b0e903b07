// Package memory provides an in-memory mission ledger for tests and
// single-process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/domain/custodystore"
	"github.com/kalefund/missiongate/internal/domain/ledger"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
	"github.com/kalefund/missiongate/internal/domain/outboxstore"
	"github.com/kalefund/missiongate/internal/domain/pricestore"
	"github.com/kalefund/missiongate/internal/domain/settingsstore"
	"github.com/kalefund/missiongate/internal/domain/stakestore"
)

type stakeKey struct {
	user      string
	missionID uint64
}

type state struct {
	counter  uint64
	missions map[uint64]missionstore.Mission
	stakes   map[stakeKey]stakestore.Stake
	samples  map[string]pricestore.Sample
	history  map[string]map[int64]decimal.Decimal
	accounts map[string]decimal.Decimal
	events   []outboxstore.EventRecord
	nextID   int64
	settings map[string]json.RawMessage
}

func newState() *state {
	return &state{
		missions: make(map[uint64]missionstore.Mission),
		stakes:   make(map[stakeKey]stakestore.Stake),
		samples:  make(map[string]pricestore.Sample),
		history:  make(map[string]map[int64]decimal.Decimal),
		accounts: make(map[string]decimal.Decimal),
		nextID:   1,
		settings: make(map[string]json.RawMessage),
	}
}

func (s *state) clone() *state {
	out := &state{
		counter:  s.counter,
		missions: make(map[uint64]missionstore.Mission, len(s.missions)),
		stakes:   make(map[stakeKey]stakestore.Stake, len(s.stakes)),
		samples:  make(map[string]pricestore.Sample, len(s.samples)),
		history:  make(map[string]map[int64]decimal.Decimal, len(s.history)),
		accounts: make(map[string]decimal.Decimal, len(s.accounts)),
		events:   make([]outboxstore.EventRecord, len(s.events)),
		nextID:   s.nextID,
		settings: make(map[string]json.RawMessage, len(s.settings)),
	}
	for id, mission := range s.missions {
		out.missions[id] = mission
	}
	for key, stake := range s.stakes {
		out.stakes[key] = stake
	}
	for asset, sample := range s.samples {
		out.samples[asset] = sample
	}
	for asset, slots := range s.history {
		grid := make(map[int64]decimal.Decimal, len(slots))
		for slot, price := range slots {
			grid[slot] = price
		}
		out.history[asset] = grid
	}
	for account, balance := range s.accounts {
		out.accounts[account] = balance
	}
	copy(out.events, s.events)
	for key, value := range s.settings {
		out.settings[key] = value
	}
	return out
}

// Ledger is an in-memory implementation of ledger.Ledger. Transactions run
// against a clone of the state, which replaces the live state only when the
// callback succeeds, so a failed operation leaves no partial writes.
type Ledger struct {
	mu    sync.RWMutex
	state *state
}

var _ ledger.Ledger = (*Ledger)(nil)

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{state: newState()}
}

// WithTransaction executes fn against a private copy of the state and swaps
// the copy in when fn succeeds.
func (l *Ledger) WithTransaction(ctx context.Context, fn func(context.Context, ledger.Tx) error) error {
	if fn == nil {
		return fmt.Errorf("memory ledger: transaction callback required")
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return fmt.Errorf("memory ledger transaction context: %w", ctx.Err())
		default:
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	draft := l.state.clone()
	if err := fn(ctx, &memTx{state: draft}); err != nil {
		return err
	}
	l.state = draft
	return nil
}

// Missions returns the read-side mission store.
func (l *Ledger) Missions() missionstore.Store { return missionReader{l} }

// Stakes returns the read-side stake store.
func (l *Ledger) Stakes() stakestore.Store { return stakeReader{l} }

// Prices returns the read-side price store.
func (l *Ledger) Prices() pricestore.Store { return priceReader{l} }

// Outbox returns the read/ack outbox store.
func (l *Ledger) Outbox() outboxstore.Store { return outboxReader{l} }

// Custody returns the read-side custody store.
func (l *Ledger) Custody() custodystore.Store { return custodyReader{l} }

// Settings returns the read-side settings store.
func (l *Ledger) Settings() settingsstore.Store { return settingsReader{l} }

type memTx struct {
	state *state
}

func (t *memTx) Missions() missionstore.Tx { return missionTxView{t.state} }
func (t *memTx) Stakes() stakestore.Tx { return stakeTxView{t.state} }
func (t *memTx) Prices() pricestore.Tx { return priceTxView{t.state} }
func (t *memTx) Outbox() outboxstore.Tx { return outboxTxView{t.state} }
func (t *memTx) Custody() custodystore.Tx { return custodyTxView{t.state} }
func (t *memTx) Settings() settingsstore.Tx { return settingsTxView{t.state} }

func missionNotFound(id uint64) error {
	return errs.New("missions", errs.CodeNotFound,
		errs.WithMessage("mission not found"),
		errs.WithField("mission_id", strconv.FormatUint(id, 10)))
}

func stakeNotFound(user string, missionID uint64) error {
	return errs.New("stakes", errs.CodeNotFound,
		errs.WithMessage("stake not found"),
		errs.WithField("user", user),
		errs.WithField("mission_id", strconv.FormatUint(missionID, 10)))
}

type missionTxView struct{ state *state }

func (v missionTxView) AllocateID(ctx context.Context) (uint64, error) {
	v.state.counter++
	return v.state.counter, nil
}

func (v missionTxView) Insert(ctx context.Context, mission missionstore.Mission) error {
	if mission.ID == 0 {
		return fmt.Errorf("memory ledger: mission id required")
	}
	if _, exists := v.state.missions[mission.ID]; exists {
		return errs.New("missions", errs.CodeConflict,
			errs.WithMessage("mission already exists"),
			errs.WithField("mission_id", strconv.FormatUint(mission.ID, 10)))
	}
	now := time.Now().UTC()
	if mission.CreatedAt.IsZero() {
		mission.CreatedAt = now
	}
	mission.UpdatedAt = now
	v.state.missions[mission.ID] = mission
	return nil
}

func (v missionTxView) Update(ctx context.Context, mission missionstore.Mission) error {
	existing, ok := v.state.missions[mission.ID]
	if !ok {
		return missionNotFound(mission.ID)
	}
	existing.CurrentProgress = mission.CurrentProgress
	existing.RewardPool = mission.RewardPool
	existing.Active = mission.Active
	existing.ParticipantsCount = mission.ParticipantsCount
	existing.UpdatedAt = time.Now().UTC()
	v.state.missions[mission.ID] = existing
	return nil
}

func (v missionTxView) Get(ctx context.Context, id uint64) (missionstore.Mission, error) {
	mission, ok := v.state.missions[id]
	if !ok {
		return missionstore.Mission{}, missionNotFound(id)
	}
	return mission, nil
}

type stakeTxView struct{ state *state }

func (v stakeTxView) Insert(ctx context.Context, stake stakestore.Stake) error {
	key := stakeKey{user: stake.User, missionID: stake.MissionID}
	if _, exists := v.state.stakes[key]; exists {
		return errs.New("stakes", errs.CodeConflict,
			errs.WithMessage("stake already exists"),
			errs.WithField("user", stake.User),
			errs.WithField("mission_id", strconv.FormatUint(stake.MissionID, 10)))
	}
	stake.UpdatedAt = time.Now().UTC()
	v.state.stakes[key] = stake
	return nil
}

func (v stakeTxView) Update(ctx context.Context, stake stakestore.Stake) error {
	key := stakeKey{user: stake.User, missionID: stake.MissionID}
	existing, ok := v.state.stakes[key]
	if !ok {
		return stakeNotFound(stake.User, stake.MissionID)
	}
	existing.Staked = stake.Staked
	existing.Contribution = stake.Contribution
	existing.UpdatedAt = time.Now().UTC()
	v.state.stakes[key] = existing
	return nil
}

func (v stakeTxView) Get(ctx context.Context, user string, missionID uint64) (stakestore.Stake, error) {
	stake, ok := v.state.stakes[stakeKey{user: user, missionID: missionID}]
	if !ok {
		return stakestore.Stake{}, stakeNotFound(user, missionID)
	}
	return stake, nil
}

func (v stakeTxView) Exists(ctx context.Context, user string, missionID uint64) (bool, error) {
	_, ok := v.state.stakes[stakeKey{user: user, missionID: missionID}]
	return ok, nil
}

type priceTxView struct{ state *state }

func (v priceTxView) PutLastSample(ctx context.Context, sample pricestore.Sample) error {
	v.state.samples[sample.Asset] = sample
	return nil
}

func (v priceTxView) LastSample(ctx context.Context, asset string) (*pricestore.Sample, error) {
	sample, ok := v.state.samples[asset]
	if !ok {
		return nil, nil
	}
	out := sample
	return &out, nil
}

func (v priceTxView) RecordSlot(ctx context.Context, asset string, slot int64, price decimal.Decimal) error {
	grid, ok := v.state.history[asset]
	if !ok {
		grid = make(map[int64]decimal.Decimal)
		v.state.history[asset] = grid
	}
	grid[slot] = price
	return nil
}

func (v priceTxView) PruneBefore(ctx context.Context, asset string, cutoff int64) error {
	for slot := range v.state.history[asset] {
		if slot < cutoff {
			delete(v.state.history[asset], slot)
		}
	}
	return nil
}

type outboxTxView struct{ state *state }

func (v outboxTxView) Enqueue(ctx context.Context, evt outboxstore.Event) error {
	if evt.EventID == "" {
		return fmt.Errorf("memory ledger: event id required")
	}
	payload := evt.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	record := outboxstore.EventRecord{
		ID:            v.state.nextID,
		EventID:       evt.EventID,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       payload,
		AvailableAt:   evt.AvailableAt,
		CreatedAt:     time.Now().UTC(),
	}
	v.state.nextID++
	v.state.events = append(v.state.events, record)
	return nil
}

type custodyTxView struct{ state *state }

func (v custodyTxView) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("memory ledger: negative transfer amount %s", amount)
	}
	balance := v.state.accounts[from]
	if balance.LessThan(amount) {
		return errs.New("custody", errs.CodeInsufficientFunds,
			errs.WithMessage("balance too low for transfer"),
			errs.WithField("account", from),
			errs.WithField("amount", amount.String()))
	}
	v.state.accounts[from] = balance.Sub(amount)
	v.state.accounts[to] = v.state.accounts[to].Add(amount)
	return nil
}

func (v custodyTxView) Deposit(ctx context.Context, account string, amount decimal.Decimal) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("memory ledger: negative deposit amount %s", amount)
	}
	v.state.accounts[account] = v.state.accounts[account].Add(amount)
	return nil
}

func (v custodyTxView) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	return v.state.accounts[account], nil
}

type settingsTxView struct{ state *state }

func (v settingsTxView) Put(ctx context.Context, key string, value json.RawMessage) error {
	if key == "" {
		return fmt.Errorf("memory ledger: setting key required")
	}
	v.state.settings[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (v settingsTxView) Get(ctx context.Context, key string) (json.RawMessage, error) {
	value, ok := v.state.settings[key]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), value...), nil
}

type missionReader struct{ ledger *Ledger }

func (r missionReader) Get(ctx context.Context, id uint64) (missionstore.Mission, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	return missionTxView{r.ledger.state}.Get(ctx, id)
}

func (r missionReader) List(ctx context.Context, query missionstore.Query) ([]missionstore.Mission, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	missions := make([]missionstore.Mission, 0, len(r.ledger.state.missions))
	for _, mission := range r.ledger.state.missions {
		if query.ActiveOnly && !mission.Active {
			continue
		}
		missions = append(missions, mission)
	}
	sort.Slice(missions, func(i, j int) bool { return missions[i].ID > missions[j].ID })
	if query.Limit > 0 && len(missions) > query.Limit {
		missions = missions[:query.Limit]
	}
	return missions, nil
}

type stakeReader struct{ ledger *Ledger }

func (r stakeReader) Get(ctx context.Context, user string, missionID uint64) (stakestore.Stake, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	return stakeTxView{r.ledger.state}.Get(ctx, user, missionID)
}

func (r stakeReader) ListByMission(ctx context.Context, missionID uint64) ([]stakestore.Stake, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	var stakes []stakestore.Stake
	for key, stake := range r.ledger.state.stakes {
		if key.missionID == missionID {
			stakes = append(stakes, stake)
		}
	}
	sort.Slice(stakes, func(i, j int) bool { return stakes[i].EnlistedAt.Before(stakes[j].EnlistedAt) })
	return stakes, nil
}

type priceReader struct{ ledger *Ledger }

func (r priceReader) LastSample(ctx context.Context, asset string) (*pricestore.Sample, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	return priceTxView{r.ledger.state}.LastSample(ctx, asset)
}

func (r priceReader) History(ctx context.Context, asset string, from, to int64) ([]pricestore.Point, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	var points []pricestore.Point
	for slot, price := range r.ledger.state.history[asset] {
		if slot >= from && slot <= to {
			points = append(points, pricestore.Point{Slot: slot, Price: price})
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Slot < points[j].Slot })
	return points, nil
}

type outboxReader struct{ ledger *Ledger }

func (r outboxReader) ListPending(ctx context.Context, limit int) ([]outboxstore.EventRecord, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	now := time.Now()
	var records []outboxstore.EventRecord
	for _, record := range r.ledger.state.events {
		if record.Delivered || record.AvailableAt.After(now) {
			continue
		}
		records = append(records, record)
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records, nil
}

func (r outboxReader) MarkDelivered(ctx context.Context, id int64) error {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	now := time.Now().UTC()
	for i := range r.ledger.state.events {
		if r.ledger.state.events[i].ID == id {
			r.ledger.state.events[i].Delivered = true
			r.ledger.state.events[i].PublishedAt = &now
			r.ledger.state.events[i].Attempts++
			return nil
		}
	}
	return errs.New("outbox", errs.CodeNotFound,
		errs.WithMessage("event not found"),
		errs.WithField("id", strconv.FormatInt(id, 10)))
}

type custodyReader struct{ ledger *Ledger }

func (r custodyReader) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	return r.ledger.state.accounts[account], nil
}

type settingsReader struct{ ledger *Ledger }

func (r settingsReader) Get(ctx context.Context, key string) (json.RawMessage, error) {
	r.ledger.mu.RLock()
	defer r.ledger.mu.RUnlock()
	return settingsTxView{r.ledger.state}.Get(ctx, key)
}
