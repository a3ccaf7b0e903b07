// Package stakestore defines persistence contracts for per-user mission stakes.
package stakestore

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Stake records a user's deposit and running contribution against one mission.
// At most one stake exists per (user, mission) pair.
type Stake struct {
	User         string          `json:"user"`
	MissionID    uint64          `json:"missionId"`
	Staked       decimal.Decimal `json:"staked"`
	Contribution decimal.Decimal `json:"contribution"`
	EnlistedAt   time.Time       `json:"enlistedAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Tx encapsulates stake mutations executed within a single ledger transaction.
type Tx interface {
	Insert(ctx context.Context, stake Stake) error
	Update(ctx context.Context, stake Stake) error
	Get(ctx context.Context, user string, missionID uint64) (Stake, error)
	Exists(ctx context.Context, user string, missionID uint64) (bool, error)
}

// Store defines the read-side contract for stake persistence.
type Store interface {
	Get(ctx context.Context, user string, missionID uint64) (Stake, error)
	ListByMission(ctx context.Context, missionID uint64) ([]Stake, error)
}
