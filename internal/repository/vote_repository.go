package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// VoteInput is one roll-call answer to record.
type VoteInput struct {
	Scope    models.Scope
	VoteID   string
	MotionID string
	MemberID string
	Choice   types.VoteChoice
	TS       int64
}

// VoteRepository owns the compound vote-lock transitions. Both operations are
// all-or-nothing and re-check the lock inside the transaction, so two
// processes racing on one member cannot both succeed.
type VoteRepository interface {
	ApplyVote(ctx context.Context, in VoteInput) (models.VoteResult, error)
	RevokeVote(ctx context.Context, scope models.Scope, memberID string, ts int64) error
	ListByMember(ctx context.Context, scope models.Scope, memberID string) ([]models.Vote, error)
}

type pgVoteRepository struct {
	pool Pool
}

func NewVoteRepository(pool Pool) VoteRepository {
	return &pgVoteRepository{pool: pool}
}

func (r *pgVoteRepository) ApplyVote(ctx context.Context, in VoteInput) (models.VoteResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return models.VoteResult{}, fmt.Errorf("begin vote tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE members SET vote = $1, locked = true, updated_at = $2
		WHERE id = $3 AND meeting_id = $4 AND school_id = $5 AND locked = false`,
		string(in.Choice), in.TS, in.MemberID, in.Scope.MeetingID, in.Scope.SchoolID,
	)
	if err != nil {
		return models.VoteResult{}, fmt.Errorf("lock member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.VoteResult{}, lockMiss(ctx, tx, in.Scope, in.MemberID, ErrMemberLocked)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO votes (id, meeting_id, school_id, motion_id, member_id, choice, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.VoteID, in.Scope.MeetingID, in.Scope.SchoolID, in.MotionID, in.MemberID, string(in.Choice), in.TS,
	)
	if err != nil {
		return models.VoteResult{}, fmt.Errorf("insert vote: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.VoteResult{}, fmt.Errorf("commit vote: %w", err)
	}
	committed = true
	return models.VoteResult{VoteID: in.VoteID, TS: in.TS}, nil
}

func (r *pgVoteRepository) RevokeVote(ctx context.Context, scope models.Scope, memberID string, ts int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin revoke tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE members SET vote = NULL, locked = false, updated_at = $1
		WHERE id = $2 AND meeting_id = $3 AND school_id = $4 AND locked = true`,
		ts, memberID, scope.MeetingID, scope.SchoolID,
	)
	if err != nil {
		return fmt.Errorf("unlock member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return lockMiss(ctx, tx, scope, memberID, ErrMemberNotLocked)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit revoke: %w", err)
	}
	committed = true
	return nil
}

// lockMiss tells a missing member apart from one in the wrong lock state.
func lockMiss(ctx context.Context, tx pgx.Tx, scope models.Scope, memberID string, stateErr error) error {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM members WHERE id = $1 AND meeting_id = $2 AND school_id = $3)`,
		memberID, scope.MeetingID, scope.SchoolID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check member: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return stateErr
}

func (r *pgVoteRepository) ListByMember(ctx context.Context, scope models.Scope, memberID string) ([]models.Vote, error) {
	query := `
		SELECT id, meeting_id, school_id, motion_id, member_id, choice, created_at
		FROM votes WHERE member_id = $1 AND meeting_id = $2 AND school_id = $3
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, memberID, scope.MeetingID, scope.SchoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	votes := []models.Vote{}
	for rows.Next() {
		var (
			v      models.Vote
			choice string
		)
		if err := rows.Scan(&v.ID, &v.MeetingID, &v.SchoolID, &v.MotionID, &v.MemberID, &choice, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Choice = types.VoteChoice(choice)
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// IsLockError reports whether err is a vote-lock state violation.
func IsLockError(err error) bool {
	return errors.Is(err, ErrMemberLocked) || errors.Is(err, ErrMemberNotLocked)
}
