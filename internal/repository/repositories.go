package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrMemberLocked    = errors.New("member vote is locked")
	ErrMemberNotLocked = errors.New("member has no locked vote")
	ErrChainConflict   = errors.New("audit chain tail moved")
)

// Pool is the subset of *pgxpool.Pool the repositories use.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Repositories struct {
	MeetingRepo MeetingRepository
	MemberRepo  MemberRepository
	MotionRepo  MotionRepository
	VoteRepo    VoteRepository
	AuditRepo   AuditRepository
}

func NewRepositories(pool Pool) *Repositories {
	return &Repositories{
		MeetingRepo: NewMeetingRepository(pool),
		MemberRepo:  NewMemberRepository(pool),
		MotionRepo:  NewMotionRepository(pool),
		VoteRepo:    NewVoteRepository(pool),
		AuditRepo:   NewAuditRepository(pool),
	}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
