// Package missionstore defines persistence contracts for mission lifecycle state.
package missionstore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Mission represents the persisted state of a crowd-funded campaign.
type Mission struct {
	ID                uint64          `json:"id"`
	TargetLiquidity   decimal.Decimal `json:"targetLiquidity"`
	CurrentProgress   decimal.Decimal `json:"currentProgress"`
	RewardPool        decimal.Decimal `json:"rewardPool"`
	Deadline          time.Time       `json:"deadline"`
	Active            bool            `json:"active"`
	TriggerPrice      decimal.Decimal `json:"triggerPrice"`
	ParticipantsCount uint32          `json:"participantsCount"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

// Completed reports whether progress has reached the funding target.
func (m Mission) Completed() bool {
	return m.CurrentProgress.GreaterThanOrEqual(m.TargetLiquidity)
}

// Query scopes mission listings.
type Query struct {
	ActiveOnly bool `json:"activeOnly"`
	Limit      int  `json:"limit,omitempty"`
}

// Tx encapsulates mission mutations executed within a single ledger transaction.
type Tx interface {
	// AllocateID increments the mission counter and returns the new value.
	// The increment commits or rolls back with the enclosing transaction, so
	// ids handed out by successful operations are strictly increasing and
	// never reused.
	AllocateID(ctx context.Context) (uint64, error)
	Insert(ctx context.Context, mission Mission) error
	Update(ctx context.Context, mission Mission) error
	Get(ctx context.Context, id uint64) (Mission, error)
}

// Store defines the read-side contract for mission persistence.
type Store interface {
	Get(ctx context.Context, id uint64) (Mission, error)
	List(ctx context.Context, query Query) ([]Mission, error)
}
