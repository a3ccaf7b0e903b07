package telemetry

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrMissionAlreadyTracked is returned when attempting to track an already open mission.
	ErrMissionAlreadyTracked = errors.New("telemetry: mission already tracked")
	// ErrMissionNotTracked is returned when attempting to complete a mission without an open timestamp.
	ErrMissionNotTracked = errors.New("telemetry: mission not tracked")
)

// FundingSummary captures the lifecycle metrics for a single mission funding run.
type FundingSummary struct {
	MissionID    uint64
	OpenedAt     time.Time
	CompletedAt  time.Time
	Elapsed      time.Duration
	WithinWindow bool
}

// FundingTracker records how long missions take to reach their funding target.
type FundingTracker struct {
	mu       sync.Mutex
	missions map[uint64]time.Time
	clock    func() time.Time
	emitter  func(FundingSummary)
	window   time.Duration
}

// NewFundingTracker constructs a tracker with the supplied funding window.
func NewFundingTracker(window time.Duration) *FundingTracker {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &FundingTracker{
		mu:       sync.Mutex{},
		missions: make(map[uint64]time.Time),
		clock:    time.Now,
		emitter:  nil,
		window:   window,
	}
}

// WithClock overrides the internal clock to ease deterministic testing.
func (t *FundingTracker) WithClock(clock func() time.Time) *FundingTracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if clock == nil {
		t.clock = time.Now
	} else {
		t.clock = clock
	}
	return t
}

// SetEmitter registers a callback invoked after a mission completes.
func (t *FundingTracker) SetEmitter(emitter func(FundingSummary)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emitter = emitter
}

// Open records the opening of a mission.
func (t *FundingTracker) Open(missionID uint64, opened time.Time) error {
	if missionID == 0 {
		return errors.New("telemetry: mission id required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.missions[missionID]; exists {
		return ErrMissionAlreadyTracked
	}
	if opened.IsZero() {
		opened = t.clock()
	}
	t.missions[missionID] = opened
	return nil
}

// Complete finalizes a mission run, returning a summary and invoking the emitter.
func (t *FundingTracker) Complete(missionID uint64, completed time.Time) (FundingSummary, error) {
	t.mu.Lock()
	opened, ok := t.missions[missionID]
	if !ok {
		t.mu.Unlock()
		return FundingSummary{}, ErrMissionNotTracked
	}
	if completed.IsZero() {
		completed = t.clock()
	}
	delete(t.missions, missionID)
	elapsed := completed.Sub(opened)
	if elapsed < 0 {
		elapsed = 0
	}
	summary := FundingSummary{
		MissionID:    missionID,
		OpenedAt:     opened,
		CompletedAt:  completed,
		Elapsed:      elapsed,
		WithinWindow: elapsed > 0 && elapsed <= t.window,
	}
	emitter := t.emitter
	t.mu.Unlock()

	if emitter != nil {
		emitter(summary)
	}
	return summary, nil
}
