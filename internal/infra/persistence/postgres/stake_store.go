package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/domain/stakestore"
)

// Postgres error code for unique constraint violations.
const uniqueViolationCode = "23505"

// StakeStore persists per-user mission stakes.
type StakeStore struct {
	db querier
}

const (
	stakeInsertSQL = `
INSERT INTO user_stakes (
    user_id,
    mission_id,
    staked,
    contribution,
    enlisted_at,
    updated_at
)
VALUES (
    @user_id,
    @mission_id,
    @staked,
    @contribution,
    to_timestamp(@enlisted_at),
    NOW()
);
`

	stakeUpdateSQL = `
UPDATE user_stakes
SET staked = @staked,
    contribution = @contribution,
    updated_at = NOW()
WHERE user_id = @user_id AND mission_id = @mission_id;
`

	stakeSelectBase = `
SELECT
    user_id,
    mission_id,
    staked::text,
    contribution::text,
    enlisted_at,
    updated_at
FROM user_stakes
`

	stakeExistsSQL = `
SELECT EXISTS (
    SELECT 1 FROM user_stakes WHERE user_id = @user_id AND mission_id = @mission_id
);
`
)

// Insert stores a new stake. The (user, mission) primary key rejects a
// second enlistment for the same pair.
func (s *StakeStore) Insert(ctx context.Context, stake stakestore.Stake) error {
	if strings.TrimSpace(stake.User) == "" {
		return fmt.Errorf("stake store: user required")
	}
	args := pgx.NamedArgs{
		"user_id":      stake.User,
		"mission_id":   int64(stake.MissionID),
		"staked":       stake.Staked.String(),
		"contribution": stake.Contribution.String(),
		"enlisted_at":  stake.EnlistedAt.Unix(),
	}
	if _, err := s.db.Exec(ctx, stakeInsertSQL, args); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return errs.New("stakes", errs.CodeConflict,
				errs.WithMessage("stake already exists"),
				errs.WithField("user", stake.User),
				errs.WithField("mission_id", strconv.FormatUint(stake.MissionID, 10)))
		}
		return fmt.Errorf("stake store: insert stake %s/%d: %w", stake.User, stake.MissionID, err)
	}
	return nil
}

// Update rewrites the balances of an existing stake.
func (s *StakeStore) Update(ctx context.Context, stake stakestore.Stake) error {
	args := pgx.NamedArgs{
		"user_id":      stake.User,
		"mission_id":   int64(stake.MissionID),
		"staked":       stake.Staked.String(),
		"contribution": stake.Contribution.String(),
	}
	tag, err := s.db.Exec(ctx, stakeUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("stake store: update stake %s/%d: %w", stake.User, stake.MissionID, err)
	}
	if tag.RowsAffected() == 0 {
		return stakeNotFound(stake.User, stake.MissionID)
	}
	return nil
}

// Get returns the stake for the (user, mission) pair.
func (s *StakeStore) Get(ctx context.Context, user string, missionID uint64) (stakestore.Stake, error) {
	args := pgx.NamedArgs{"user_id": user, "mission_id": int64(missionID)}
	row := s.db.QueryRow(ctx, stakeSelectBase+"WHERE user_id = @user_id AND mission_id = @mission_id;", args)
	stake, err := scanStake(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return stakestore.Stake{}, stakeNotFound(user, missionID)
		}
		return stakestore.Stake{}, fmt.Errorf("stake store: get stake %s/%d: %w", user, missionID, err)
	}
	return stake, nil
}

// Exists reports whether a stake is recorded for the (user, mission) pair.
func (s *StakeStore) Exists(ctx context.Context, user string, missionID uint64) (bool, error) {
	args := pgx.NamedArgs{"user_id": user, "mission_id": int64(missionID)}
	var exists bool
	if err := s.db.QueryRow(ctx, stakeExistsSQL, args).Scan(&exists); err != nil {
		return false, fmt.Errorf("stake store: check stake %s/%d: %w", user, missionID, err)
	}
	return exists, nil
}

// ListByMission returns every stake recorded against the mission.
func (s *StakeStore) ListByMission(ctx context.Context, missionID uint64) ([]stakestore.Stake, error) {
	args := pgx.NamedArgs{"mission_id": int64(missionID)}
	rows, err := s.db.Query(ctx, stakeSelectBase+"WHERE mission_id = @mission_id\nORDER BY enlisted_at;", args)
	if err != nil {
		return nil, fmt.Errorf("stake store: list stakes for mission %d: %w", missionID, err)
	}
	defer rows.Close()

	var stakes []stakestore.Stake
	for rows.Next() {
		stake, err := scanStake(rows)
		if err != nil {
			return nil, fmt.Errorf("stake store: scan stake: %w", err)
		}
		stakes = append(stakes, stake)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stake store: iterate stakes: %w", err)
	}
	return stakes, nil
}

func scanStake(row pgx.Row) (stakestore.Stake, error) {
	var (
		stake        stakestore.Stake
		missionID    int64
		staked       string
		contribution string
	)
	if err := row.Scan(
		&stake.User,
		&missionID,
		&staked,
		&contribution,
		&stake.EnlistedAt,
		&stake.UpdatedAt,
	); err != nil {
		return stakestore.Stake{}, err
	}
	stake.MissionID = uint64(missionID)
	var err error
	if stake.Staked, err = parseNumeric(staked); err != nil {
		return stakestore.Stake{}, err
	}
	if stake.Contribution, err = parseNumeric(contribution); err != nil {
		return stakestore.Stake{}, err
	}
	return stake, nil
}

func stakeNotFound(user string, missionID uint64) error {
	return errs.New("stakes", errs.CodeNotFound,
		errs.WithMessage("stake not found"),
		errs.WithField("user", user),
		errs.WithField("mission_id", strconv.FormatUint(missionID, 10)))
}
