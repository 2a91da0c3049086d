package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

type MemberRepository interface {
	Create(ctx context.Context, member *models.Member) error
	FindByID(ctx context.Context, scope models.Scope, id string) (*models.Member, error)
	ListByMeeting(ctx context.Context, scope models.Scope) ([]models.Member, error)
}

type pgMemberRepository struct {
	pool Pool
}

func NewMemberRepository(pool Pool) MemberRepository {
	return &pgMemberRepository{pool: pool}
}

const memberColumns = `id, meeting_id, school_id, name, role, vote, locked, updated_at`

func (r *pgMemberRepository) Create(ctx context.Context, member *models.Member) error {
	query := `
		INSERT INTO members (id, meeting_id, school_id, name, role, vote, locked, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, false, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		member.ID, member.MeetingID, member.SchoolID, member.Name, member.Title, member.UpdatedAt,
	)
	return err
}

func (r *pgMemberRepository) FindByID(ctx context.Context, scope models.Scope, id string) (*models.Member, error) {
	query := `SELECT ` + memberColumns + `
		FROM members WHERE id = $1 AND meeting_id = $2 AND school_id = $3`

	m, err := scanMember(r.pool.QueryRow(ctx, query, id, scope.MeetingID, scope.SchoolID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *pgMemberRepository) ListByMeeting(ctx context.Context, scope models.Scope) ([]models.Member, error) {
	query := `SELECT ` + memberColumns + `
		FROM members WHERE meeting_id = $1 AND school_id = $2
		ORDER BY name, id`

	rows, err := r.pool.Query(ctx, query, scope.MeetingID, scope.SchoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := []models.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

func scanMember(row pgx.Row) (*models.Member, error) {
	var (
		m         models.Member
		vote      *string
		updatedAt *int64
	)
	if err := row.Scan(
		&m.ID, &m.MeetingID, &m.SchoolID, &m.Name, &m.Title, &vote, &m.Locked, &updatedAt,
	); err != nil {
		return nil, err
	}
	if vote != nil {
		choice := types.VoteChoice(*vote)
		m.Vote = &choice
	}
	if updatedAt != nil {
		m.UpdatedAt = *updatedAt
	}
	return &m, nil
}
