package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
)

// AuditRepository stores audit_log rows. There is no update or delete path.
type AuditRepository interface {
	// Tail returns the last record of scope, or nil for an empty chain.
	Tail(ctx context.Context, scope models.Scope) (*models.AuditRecord, error)
	// Insert appends rec only if rec.PrevHash still matches the stored tail
	// and rec.Seq is unused; otherwise it returns ErrChainConflict.
	Insert(ctx context.Context, rec *models.AuditRecord) error
	ListByScope(ctx context.Context, scope models.Scope) ([]models.AuditRecord, error)
	// ListScopes returns every scope that has at least one record.
	ListScopes(ctx context.Context) ([]models.Scope, error)
}

type pgAuditRepository struct {
	pool Pool
}

func NewAuditRepository(pool Pool) AuditRepository {
	return &pgAuditRepository{pool: pool}
}

const auditColumns = `id, seq, meeting_id, school_id, ts, actor_id, actor_name, action, entity_type, entity_id, payload, prev_hash, hash`

func (r *pgAuditRepository) Tail(ctx context.Context, scope models.Scope) (*models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_log WHERE school_id = $1 AND meeting_id = $2
		ORDER BY seq DESC LIMIT 1`

	rec, err := scanAudit(r.pool.QueryRow(ctx, query, scope.SchoolID, scope.MeetingID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *pgAuditRepository) Insert(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO audit_log (` + auditColumns + `)
		SELECT $1::text, $2::bigint, $3::text, $4::text, $5::bigint, $6::text, $7::text,
			$8::text, $9::text, $10::text, $11::jsonb, $12::text, $13::text
		WHERE (
			SELECT hash FROM audit_log
			WHERE school_id = $4::text AND meeting_id = $3::text
			ORDER BY seq DESC LIMIT 1
		) IS NOT DISTINCT FROM $12::text
	`
	tag, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Seq, rec.MeetingID, rec.SchoolID, rec.TS, rec.ActorID, rec.ActorName,
		rec.Action, rec.EntityType, rec.EntityID, []byte(rec.Payload), rec.PrevHash, rec.Hash,
	)
	if isUniqueViolation(err) {
		return ErrChainConflict
	}
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChainConflict
	}
	return nil
}

func (r *pgAuditRepository) ListByScope(ctx context.Context, scope models.Scope) ([]models.AuditRecord, error) {
	query := `SELECT ` + auditColumns + `
		FROM audit_log WHERE school_id = $1 AND meeting_id = $2
		ORDER BY seq`

	rows, err := r.pool.Query(ctx, query, scope.SchoolID, scope.MeetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.AuditRecord{}
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (r *pgAuditRepository) ListScopes(ctx context.Context) ([]models.Scope, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT school_id, meeting_id FROM audit_log
		ORDER BY school_id, meeting_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	scopes := []models.Scope{}
	for rows.Next() {
		var s models.Scope
		if err := rows.Scan(&s.SchoolID, &s.MeetingID); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

func scanAudit(row pgx.Row) (*models.AuditRecord, error) {
	var (
		rec     models.AuditRecord
		payload []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.Seq, &rec.MeetingID, &rec.SchoolID, &rec.TS, &rec.ActorID, &rec.ActorName,
		&rec.Action, &rec.EntityType, &rec.EntityID, &payload, &rec.PrevHash, &rec.Hash,
	); err != nil {
		return nil, err
	}
	rec.Payload = payload
	return &rec, nil
}
