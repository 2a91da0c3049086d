package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
)

type MotionRepository interface {
	Create(ctx context.Context, motion *models.Motion) error
	FindByID(ctx context.Context, scope models.Scope, id string) (*models.Motion, error)
	ListByMeeting(ctx context.Context, scope models.Scope) ([]models.Motion, error)
}

type pgMotionRepository struct {
	pool Pool
}

func NewMotionRepository(pool Pool) MotionRepository {
	return &pgMotionRepository{pool: pool}
}

const motionColumns = `id, meeting_id, school_id, title, description, status, created_at, closed_at`

func (r *pgMotionRepository) Create(ctx context.Context, motion *models.Motion) error {
	query := `
		INSERT INTO motions (id, meeting_id, school_id, title, description, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		motion.ID, motion.MeetingID, motion.SchoolID, motion.Title, motion.Description,
		motion.Status, motion.CreatedAt,
	)
	return err
}

func (r *pgMotionRepository) FindByID(ctx context.Context, scope models.Scope, id string) (*models.Motion, error) {
	query := `SELECT ` + motionColumns + `
		FROM motions WHERE id = $1 AND meeting_id = $2 AND school_id = $3`

	m := &models.Motion{}
	err := r.pool.QueryRow(ctx, query, id, scope.MeetingID, scope.SchoolID).Scan(
		&m.ID, &m.MeetingID, &m.SchoolID, &m.Title, &m.Description, &m.Status, &m.CreatedAt, &m.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *pgMotionRepository) ListByMeeting(ctx context.Context, scope models.Scope) ([]models.Motion, error) {
	query := `SELECT ` + motionColumns + `
		FROM motions WHERE meeting_id = $1 AND school_id = $2
		ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, scope.MeetingID, scope.SchoolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	motions := []models.Motion{}
	for rows.Next() {
		var m models.Motion
		if err := rows.Scan(
			&m.ID, &m.MeetingID, &m.SchoolID, &m.Title, &m.Description, &m.Status, &m.CreatedAt, &m.ClosedAt,
		); err != nil {
			return nil, err
		}
		motions = append(motions, m)
	}
	return motions, rows.Err()
}
