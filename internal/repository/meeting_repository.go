package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
)

// MeetingRepository reads meeting rows. Rows are created by the meeting-creation
// collaborator; Create exists for seeding.
type MeetingRepository interface {
	Create(ctx context.Context, meeting *models.Meeting) error
	FindByID(ctx context.Context, schoolID, id string) (*models.Meeting, error)
}

type pgMeetingRepository struct {
	pool Pool
}

func NewMeetingRepository(pool Pool) MeetingRepository {
	return &pgMeetingRepository{pool: pool}
}

func (r *pgMeetingRepository) Create(ctx context.Context, meeting *models.Meeting) error {
	query := `
		INSERT INTO meetings (id, school_id, title, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		meeting.ID, meeting.SchoolID, meeting.Title, meeting.Status,
		meeting.CreatedAt, meeting.UpdatedAt,
	)
	return err
}

func (r *pgMeetingRepository) FindByID(ctx context.Context, schoolID, id string) (*models.Meeting, error) {
	query := `
		SELECT id, school_id, title, status, created_at, updated_at
		FROM meetings WHERE id = $1 AND school_id = $2
	`
	m := &models.Meeting{}
	err := r.pool.QueryRow(ctx, query, id, schoolID).Scan(
		&m.ID, &m.SchoolID, &m.Title, &m.Status, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}
