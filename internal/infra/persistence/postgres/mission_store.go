package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/kalefund/missiongate/errs"
	"github.com/kalefund/missiongate/internal/domain/missionstore"
)

// MissionStore persists mission lifecycle state.
type MissionStore struct {
	db querier
}

const (
	missionAllocateIDSQL = `
UPDATE mission_counter
SET value = value + 1
WHERE singleton
RETURNING value;
`

	missionInsertSQL = `
INSERT INTO missions (
    id,
    target_liquidity,
    current_progress,
    reward_pool,
    deadline,
    active,
    trigger_price,
    participants_count,
    created_at,
    updated_at
)
VALUES (
    @id,
    @target_liquidity,
    @current_progress,
    @reward_pool,
    to_timestamp(@deadline),
    @active,
    @trigger_price,
    @participants_count,
    NOW(),
    NOW()
);
`

	missionUpdateSQL = `
UPDATE missions
SET current_progress = @current_progress,
    reward_pool = @reward_pool,
    active = @active,
    participants_count = @participants_count,
    updated_at = NOW()
WHERE id = @id;
`

	missionSelectBase = `
SELECT
    id,
    target_liquidity::text,
    current_progress::text,
    reward_pool::text,
    deadline,
    active,
    trigger_price::text,
    participants_count,
    created_at,
    updated_at
FROM missions
`

	defaultMissionLimit = 50
	maxMissionLimit     = 500
)

// AllocateID increments the mission counter and returns the new id. The
// increment shares the enclosing transaction, so a rolled-back operation
// leaves no gap visible to later allocations.
func (s *MissionStore) AllocateID(ctx context.Context) (uint64, error) {
	var value int64
	if err := s.db.QueryRow(ctx, missionAllocateIDSQL).Scan(&value); err != nil {
		return 0, fmt.Errorf("mission store: allocate id: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("mission store: counter returned %d", value)
	}
	return uint64(value), nil
}

// Insert stores a newly opened mission.
func (s *MissionStore) Insert(ctx context.Context, mission missionstore.Mission) error {
	if mission.ID == 0 {
		return fmt.Errorf("mission store: mission id required")
	}
	args := pgx.NamedArgs{
		"id":                 int64(mission.ID),
		"target_liquidity":   mission.TargetLiquidity.String(),
		"current_progress":   mission.CurrentProgress.String(),
		"reward_pool":        mission.RewardPool.String(),
		"deadline":           mission.Deadline.Unix(),
		"active":             mission.Active,
		"trigger_price":      mission.TriggerPrice.String(),
		"participants_count": int32(mission.ParticipantsCount),
	}
	if _, err := s.db.Exec(ctx, missionInsertSQL, args); err != nil {
		return fmt.Errorf("mission store: insert mission %d: %w", mission.ID, err)
	}
	return nil
}

// Update rewrites the mutable fields of an existing mission.
func (s *MissionStore) Update(ctx context.Context, mission missionstore.Mission) error {
	args := pgx.NamedArgs{
		"id":                 int64(mission.ID),
		"current_progress":   mission.CurrentProgress.String(),
		"reward_pool":        mission.RewardPool.String(),
		"active":             mission.Active,
		"participants_count": int32(mission.ParticipantsCount),
	}
	tag, err := s.db.Exec(ctx, missionUpdateSQL, args)
	if err != nil {
		return fmt.Errorf("mission store: update mission %d: %w", mission.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return errs.New("missions", errs.CodeNotFound,
			errs.WithMessage("mission not found"),
			errs.WithField("mission_id", strconv.FormatUint(mission.ID, 10)))
	}
	return nil
}

// Get returns the mission identified by id.
func (s *MissionStore) Get(ctx context.Context, id uint64) (missionstore.Mission, error) {
	row := s.db.QueryRow(ctx, missionSelectBase+"WHERE id = @id;", pgx.NamedArgs{"id": int64(id)})
	mission, err := scanMission(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return missionstore.Mission{}, errs.New("missions", errs.CodeNotFound,
				errs.WithMessage("mission not found"),
				errs.WithField("mission_id", strconv.FormatUint(id, 10)))
		}
		return missionstore.Mission{}, fmt.Errorf("mission store: get mission %d: %w", id, err)
	}
	return mission, nil
}

// List returns missions matching the query, newest first.
func (s *MissionStore) List(ctx context.Context, query missionstore.Query) ([]missionstore.Mission, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultMissionLimit
	}
	if limit > maxMissionLimit {
		limit = maxMissionLimit
	}
	sql := missionSelectBase
	if query.ActiveOnly {
		sql += "WHERE active\n"
	}
	sql += "ORDER BY id DESC\nLIMIT @limit;"

	rows, err := s.db.Query(ctx, sql, pgx.NamedArgs{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("mission store: list missions: %w", err)
	}
	defer rows.Close()

	missions := make([]missionstore.Mission, 0, limit)
	for rows.Next() {
		mission, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("mission store: scan mission: %w", err)
		}
		missions = append(missions, mission)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mission store: iterate missions: %w", err)
	}
	return missions, nil
}

func scanMission(row pgx.Row) (missionstore.Mission, error) {
	var (
		mission           missionstore.Mission
		id                int64
		target            string
		progress          string
		reward            string
		trigger           string
		participantsCount int32
	)
	if err := row.Scan(
		&id,
		&target,
		&progress,
		&reward,
		&mission.Deadline,
		&mission.Active,
		&trigger,
		&participantsCount,
		&mission.CreatedAt,
		&mission.UpdatedAt,
	); err != nil {
		return missionstore.Mission{}, err
	}
	mission.ID = uint64(id)
	mission.ParticipantsCount = uint32(participantsCount)
	var err error
	if mission.TargetLiquidity, err = parseNumeric(target); err != nil {
		return missionstore.Mission{}, err
	}
	if mission.CurrentProgress, err = parseNumeric(progress); err != nil {
		return missionstore.Mission{}, err
	}
	if mission.RewardPool, err = parseNumeric(reward); err != nil {
		return missionstore.Mission{}, err
	}
	if mission.TriggerPrice, err = parseNumeric(trigger); err != nil {
		return missionstore.Mission{}, err
	}
	return mission, nil
}
