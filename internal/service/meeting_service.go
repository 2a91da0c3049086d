package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/audit"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/metrics"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// ============================================
// Meeting Service - real-time session coordinator
// ============================================

// MeetingService accepts governance commands for a meeting. Every command for
// one (school, meeting) scope runs in arrival order; different scopes run in
// parallel. An accepted command is written, audited, cached and broadcast in
// that order.
type MeetingService interface {
	// Session
	JoinMeeting(ctx context.Context, caller identity.Identity, req models.JoinMeetingRequest, sub Subscriber) (*models.Snapshot, error)
	LeaveMeeting(sub Subscriber)

	// Commands
	AddMember(ctx context.Context, caller identity.Identity, req models.AddMemberRequest) (*models.Member, error)
	OpenMotion(ctx context.Context, caller identity.Identity, req models.OpenMotionRequest) (*models.Motion, error)
	SubmitVote(ctx context.Context, caller identity.Identity, req models.SubmitVoteRequest) (*models.VoteResult, error)
	RevokeVote(ctx context.Context, caller identity.Identity, req models.RevokeVoteRequest) (*models.RevokeResult, error)

	// Reads
	GetSnapshot(ctx context.Context, caller identity.Identity, meetingID string) (*models.Snapshot, error)
	ListAudit(ctx context.Context, caller identity.Identity, meetingID string) ([]models.AuditRecord, error)
	VerifyChain(ctx context.Context, caller identity.Identity, meetingID string) (*models.VerifyResponse, error)

	// Reconciliation
	FlushPendingAudits(ctx context.Context) (int, error)
	VerifyAllChains(ctx context.Context) (int, error)

	Close()
}

const defaultOperationTimeout = 10 * time.Second

type meetingService struct {
	repos       *repository.Repositories
	chain       AuditLog
	outbox      audit.Outbox
	cache       SnapshotCache
	broadcaster Broadcaster
	alerter     Alerter
	metrics     *metrics.Metrics
	log         *zap.Logger

	queue     *scopeQueue
	opTimeout time.Duration
	now       func() time.Time
	newID     func() string
}

func NewMeetingService(deps *ServiceDeps) MeetingService {
	timeout := defaultOperationTimeout
	if deps.Config != nil && deps.Config.OperationTimeout > 0 {
		timeout = deps.Config.OperationTimeout
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &meetingService{
		repos:       deps.Repos,
		chain:       deps.Chain,
		outbox:      deps.Outbox,
		cache:       deps.Cache,
		broadcaster: deps.Broadcaster,
		alerter:     deps.Alerter,
		metrics:     deps.Metrics,
		log:         log.Named("meeting"),
		queue:       newScopeQueue(),
		opTimeout:   timeout,
		now:         time.Now,
		newID:       uuid.NewString,
	}
}

func (s *meetingService) Close() {
	s.queue.Close()
}

// mutation is a validated command ready to be committed.
type mutation struct {
	write func(ctx context.Context) error
	event audit.Event
	patch models.Patch
}

// ============================================
// Session
// ============================================

func (s *meetingService) JoinMeeting(ctx context.Context, caller identity.Identity, req models.JoinMeetingRequest, sub Subscriber) (*models.Snapshot, error) {
	const op = "join_meeting"
	start := time.Now()

	scope, err := s.scopeFor(op, caller, req.MeetingID, types.RoleViewer)
	if err != nil {
		return nil, s.finish(op, start, err)
	}

	var snap *models.Snapshot
	err = s.queue.Do(ctx, scope.Key(), func() error {
		opCtx, cancel := s.detach(ctx)
		defer cancel()

		// the snapshot reflects the database either way
		if err := s.flushScope(opCtx, scope); err != nil {
			s.log.Warn("pending audit flush failed during join",
				zap.String("scope", scope.Key()), zap.Error(err))
		}

		loaded, err := s.loadSnapshot(opCtx, scope)
		if err != nil {
			return err
		}
		msg, err := models.EncodeMessage(models.MessageSnapshot, loaded, s.now())
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}

		// registration and delivery happen before any later patch of this scope
		s.broadcaster.Join(scope, sub)
		if !sub.Deliver(msg) {
			s.broadcaster.Leave(sub)
			return newError(ErrPersistence, op, "snapshot could not be delivered")
		}
		snap = loaded
		return nil
	})
	if err != nil {
		return nil, s.finish(op, start, classify(op, err))
	}

	s.log.Debug("connection joined meeting",
		zap.String("scope", scope.Key()), zap.String("conn", sub.ConnID()), zap.String("user", caller.UserID))
	return snap, s.finish(op, start, nil)
}

func (s *meetingService) LeaveMeeting(sub Subscriber) {
	s.broadcaster.Leave(sub)
}

// ============================================
// Commands
// ============================================

func (s *meetingService) AddMember(ctx context.Context, caller identity.Identity, req models.AddMemberRequest) (*models.Member, error) {
	const op = "add_member"

	name := strings.TrimSpace(req.Name)
	title := strings.TrimSpace(req.Role)
	if title == "" {
		title = types.DefaultMemberTitle
	}

	var member models.Member
	err := s.command(ctx, op, caller, req.MeetingID, types.RoleHost, func(ctx context.Context, scope models.Scope) (*mutation, error) {
		if name == "" {
			return nil, newError(ErrValidation, op, "name is required")
		}

		ts := s.now().UnixMilli()
		member = models.Member{
			ID:        s.newID(),
			MeetingID: scope.MeetingID,
			SchoolID:  scope.SchoolID,
			Name:      name,
			Title:     title,
			UpdatedAt: ts,
		}
		ev, err := audit.NewEvent(ts, caller.UserID, caller.Name, types.ActionAddMember, types.EntityMember, member.ID,
			map[string]string{"name": name, "role": title})
		if err != nil {
			return nil, err
		}

		return &mutation{
			write: func(ctx context.Context) error { return s.repos.MemberRepo.Create(ctx, &member) },
			event: ev,
			patch: models.MemberUpsert{Member: member},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *meetingService) OpenMotion(ctx context.Context, caller identity.Identity, req models.OpenMotionRequest) (*models.Motion, error) {
	const op = "open_motion"

	title := strings.TrimSpace(req.Title)

	var motion models.Motion
	err := s.command(ctx, op, caller, req.MeetingID, types.RoleHost, func(ctx context.Context, scope models.Scope) (*mutation, error) {
		if title == "" {
			return nil, newError(ErrValidation, op, "title is required")
		}

		ts := s.now().UnixMilli()
		motion = models.Motion{
			ID:          s.newID(),
			MeetingID:   scope.MeetingID,
			SchoolID:    scope.SchoolID,
			Title:       title,
			Description: req.Description,
			Status:      types.MotionOpen,
			CreatedAt:   ts,
		}
		ev, err := audit.NewEvent(ts, caller.UserID, caller.Name, types.ActionOpenMotion, types.EntityMotion, motion.ID,
			map[string]string{"title": title, "description": req.Description})
		if err != nil {
			return nil, err
		}

		return &mutation{
			write: func(ctx context.Context) error { return s.repos.MotionRepo.Create(ctx, &motion) },
			event: ev,
			patch: models.MotionUpsert{Motion: motion},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &motion, nil
}

func (s *meetingService) SubmitVote(ctx context.Context, caller identity.Identity, req models.SubmitVoteRequest) (*models.VoteResult, error) {
	const op = "submit_vote"

	var result models.VoteResult
	err := s.command(ctx, op, caller, req.MeetingID, types.RoleMember, func(ctx context.Context, scope models.Scope) (*mutation, error) {
		if !types.IsValidVoteChoice(req.Choice) {
			return nil, newError(ErrValidation, op, fmt.Sprintf("invalid vote choice %q", req.Choice))
		}
		if req.MemberID == "" || req.MotionID == "" {
			return nil, newError(ErrValidation, op, "memberId and motionId are required")
		}

		motion, err := s.repos.MotionRepo.FindByID(ctx, scope, req.MotionID)
		if err != nil {
			return nil, notFound(op, "motion", err)
		}
		if motion.Status != types.MotionOpen {
			return nil, newError(ErrConflict, op, "motion is not open")
		}

		member, err := s.repos.MemberRepo.FindByID(ctx, scope, req.MemberID)
		if err != nil {
			return nil, notFound(op, "member", err)
		}
		if member.Locked {
			return nil, newError(ErrConflict, op, "member vote is locked")
		}

		ts := s.now().UnixMilli()
		choice := req.Choice
		in := repository.VoteInput{
			Scope:    scope,
			VoteID:   s.newID(),
			MotionID: req.MotionID,
			MemberID: req.MemberID,
			Choice:   choice,
			TS:       ts,
		}
		ev, err := audit.NewEvent(ts, caller.UserID, caller.Name, types.ActionVote, types.EntityVote, in.VoteID,
			map[string]string{"motionId": req.MotionID, "memberId": req.MemberID, "choice": string(choice)})
		if err != nil {
			return nil, err
		}

		return &mutation{
			write: func(ctx context.Context) error {
				res, err := s.repos.VoteRepo.ApplyVote(ctx, in)
				result = res
				return err
			},
			event: ev,
			patch: models.MemberVote{MemberID: req.MemberID, Vote: &choice, Locked: true, UpdatedAt: ts},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *meetingService) RevokeVote(ctx context.Context, caller identity.Identity, req models.RevokeVoteRequest) (*models.RevokeResult, error) {
	const op = "revoke_vote"

	var result models.RevokeResult
	err := s.command(ctx, op, caller, req.MeetingID, types.RoleHost, func(ctx context.Context, scope models.Scope) (*mutation, error) {
		if req.MemberID == "" {
			return nil, newError(ErrValidation, op, "memberId is required")
		}

		member, err := s.repos.MemberRepo.FindByID(ctx, scope, req.MemberID)
		if err != nil {
			return nil, notFound(op, "member", err)
		}
		if !member.Locked {
			return nil, newError(ErrConflict, op, "member has no locked vote")
		}

		ts := s.now().UnixMilli()
		ev, err := audit.NewEvent(ts, caller.UserID, caller.Name, types.ActionRevoke, types.EntityMember, req.MemberID,
			map[string]string{})
		if err != nil {
			return nil, err
		}

		return &mutation{
			write: func(ctx context.Context) error {
				if err := s.repos.VoteRepo.RevokeVote(ctx, scope, req.MemberID, ts); err != nil {
					return err
				}
				result = models.RevokeResult{MemberID: req.MemberID, TS: ts}
				return nil
			},
			event: ev,
			patch: models.MemberVote{MemberID: req.MemberID, Vote: nil, Locked: false, UpdatedAt: ts},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// command runs the shared pipeline: authorize, then inside the scope queue
// flush any audit backlog, guard, write, audit, update the snapshot, publish.
func (s *meetingService) command(
	ctx context.Context,
	op string,
	caller identity.Identity,
	meetingID string,
	required types.Role,
	prepare func(ctx context.Context, scope models.Scope) (*mutation, error),
) error {
	start := time.Now()

	scope, err := s.scopeFor(op, caller, meetingID, required)
	if err != nil {
		return s.finish(op, start, err)
	}

	err = s.queue.Do(ctx, scope.Key(), func() error {
		opCtx, cancel := s.detach(ctx)
		defer cancel()

		if err := s.flushScope(opCtx, scope); err != nil {
			return &Error{Kind: ErrPersistence, Op: op, Message: "earlier audit records are still pending", Err: err}
		}

		if _, err := s.repos.MeetingRepo.FindByID(opCtx, scope.SchoolID, scope.MeetingID); err != nil {
			return notFound(op, "meeting", err)
		}

		m, err := prepare(opCtx, scope)
		if err != nil {
			return err
		}
		if err := m.write(opCtx); err != nil {
			return err
		}

		if _, err := s.chain.Append(opCtx, scope, m.event); err != nil {
			return s.auditFailed(ctx, op, scope, m, err)
		}
		s.countAppend("ok")

		s.applyToSnapshot(opCtx, scope, m.patch)
		s.broadcaster.Publish(scope, m.patch)
		return nil
	})
	if err != nil {
		err = classify(op, err)
		if IsDegraded(err) {
			s.log.Error("command committed without audit record",
				zap.String("op", op), zap.String("scope", scope.Key()), zap.Error(err))
		} else {
			s.log.Debug("command rejected",
				zap.String("op", op), zap.String("scope", scope.Key()), zap.String("user", caller.UserID), zap.Error(err))
		}
	}
	return s.finish(op, start, err)
}

// scopeFor checks the caller before anything is queued.
func (s *meetingService) scopeFor(op string, caller identity.Identity, meetingID string, required types.Role) (models.Scope, error) {
	if !caller.Valid() {
		return models.Scope{}, newError(ErrAuthentication, op, "missing or invalid identity")
	}
	if !caller.AtLeast(required) {
		return models.Scope{}, newError(ErrAuthorization, op, fmt.Sprintf("requires role %s or higher", required))
	}
	if strings.TrimSpace(meetingID) == "" {
		return models.Scope{}, newError(ErrValidation, op, "meetingId is required")
	}
	if !models.ValidKeyPart(meetingID) {
		return models.Scope{}, newError(ErrValidation, op, "meetingId must not contain "+models.ScopeSeparator)
	}
	return models.Scope{SchoolID: caller.SchoolID, MeetingID: meetingID}, nil
}

// detach returns a context that outlives caller cancellation but not the
// operation timeout.
func (s *meetingService) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
}

func notFound(op, what string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return &Error{Kind: ErrNotFound, Op: op, Message: what + " not found", Err: err}
	}
	return err
}

// ============================================
// Audit backlog
// ============================================

// auditFailed handles a committed write whose audit append failed. The patch
// is parked with the pending record and published once the record lands.
func (s *meetingService) auditFailed(ctx context.Context, op string, scope models.Scope, m *mutation, appendErr error) error {
	s.countAppend("failed")

	fctx, cancel := s.detach(ctx)
	defer cancel()

	s.invalidateSnapshot(fctx, scope)

	kind := ErrPersistence
	if errors.Is(appendErr, audit.ErrChainBroken) {
		kind = ErrChainIntegrity
	}

	pending := audit.Pending{Scope: scope, Event: m.event, Patch: m.patch, QueuedAt: s.now().UnixMilli()}
	if err := s.outbox.Push(fctx, pending); err != nil {
		s.raise(fctx, Alert{
			Kind: AlertAuditPending, Scope: scope, Action: m.event.Action, EntityID: m.event.EntityID,
			Reason: fmt.Sprintf("audit append failed (%v) and could not be queued (%v)", appendErr, err),
		})
		return &Error{
			Kind:     kind,
			Op:       op,
			Message:  "state committed but its audit record could not be written or queued",
			Err:      fmt.Errorf("%w: %w", ErrAuditPending, errors.Join(appendErr, err)),
			Degraded: true,
		}
	}

	if s.metrics != nil {
		s.metrics.AuditPending.Inc()
	}
	s.raise(fctx, Alert{
		Kind: AlertAuditPending, Scope: scope, Action: m.event.Action, EntityID: m.event.EntityID,
		Reason: fmt.Sprintf("audit append failed, queued for retry: %v", appendErr),
	})
	return &Error{
		Kind:     kind,
		Op:       op,
		Message:  "state committed; audit record queued for retry",
		Err:      fmt.Errorf("%w: %w", ErrAuditPending, appendErr),
		Degraded: true,
	}
}

// flushScope appends every pending record of scope in order and publishes the
// patches that were held back. It stops at the first failure.
func (s *meetingService) flushScope(ctx context.Context, scope models.Scope) error {
	for {
		p, err := s.outbox.Peek(ctx, scope)
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}

		rec, err := s.chain.Append(ctx, scope, p.Event)
		if err != nil {
			s.countAppend("failed")
			return fmt.Errorf("append pending %s %s: %w", p.Event.Action, p.Event.EntityID, err)
		}
		s.countAppend("reconciled")

		if err := s.outbox.Ack(ctx, scope); err != nil {
			// the record is written; a retry would append it twice
			s.log.Error("pending audit appended but not acknowledged",
				zap.String("scope", scope.Key()), zap.Int64("seq", rec.Seq), zap.Error(err))
			return err
		}
		if s.metrics != nil {
			s.metrics.AuditPending.Dec()
		}
		s.log.Info("pending audit record appended",
			zap.String("scope", scope.Key()), zap.String("action", p.Event.Action), zap.Int64("seq", rec.Seq))

		if p.Patch != nil {
			s.broadcaster.Publish(scope, p.Patch)
		}
	}
}

// FlushPendingAudits drains the backlog of every scope through its queue.
// It returns how many scopes are fully drained.
func (s *meetingService) FlushPendingAudits(ctx context.Context) (int, error) {
	scopes, err := s.outbox.Scopes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending scopes: %w", err)
	}

	drained := 0
	var errs []error
	for _, scope := range scopes {
		err := s.queue.Do(ctx, scope.Key(), func() error {
			opCtx, cancel := s.detach(ctx)
			defer cancel()
			return s.flushScope(opCtx, scope)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scope, err))
			continue
		}
		drained++
	}
	s.countPending(ctx)
	return drained, errors.Join(errs...)
}

// countPending resets the pending gauge from the outbox, which outlives restarts.
func (s *meetingService) countPending(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	scopes, err := s.outbox.Scopes(ctx)
	if err != nil {
		s.log.Warn("counting pending audits failed", zap.Error(err))
		return
	}
	var total int64
	for _, scope := range scopes {
		n, err := s.outbox.Len(ctx, scope)
		if err != nil {
			s.log.Warn("counting pending audits failed", zap.String("scope", scope.Key()), zap.Error(err))
			return
		}
		total += n
	}
	s.metrics.AuditPending.Set(float64(total))
}

func (s *meetingService) countAppend(outcome string) {
	if s.metrics != nil {
		s.metrics.AuditAppendsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *meetingService) raise(ctx context.Context, alert Alert) {
	alert.At = s.now()
	s.log.Error("operational alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("scope", alert.Scope.Key()),
		zap.String("action", alert.Action),
		zap.String("entity", alert.EntityID),
		zap.String("reason", alert.Reason))

	if s.alerter == nil {
		return
	}
	if err := s.alerter.Alert(ctx, alert); err != nil {
		s.log.Error("failed to deliver alert", zap.Error(err))
	}
}

// ============================================
// Snapshots
// ============================================

// loadSnapshot serves from the cache or rebuilds from the database and caches
// the result. Callers must hold the scope's queue slot.
func (s *meetingService) loadSnapshot(ctx context.Context, scope models.Scope) (*models.Snapshot, error) {
	if s.cache != nil {
		snap, err := s.cache.Get(ctx, scope)
		switch {
		case err != nil:
			s.countLookup("error")
			s.log.Warn("snapshot cache read failed", zap.String("scope", scope.Key()), zap.Error(err))
		case snap != nil && scope.Holds(snap):
			s.countLookup("hit")
			return snap, nil
		case snap != nil:
			s.countLookup("mismatch")
			s.log.Warn("cached snapshot belongs to another meeting, rebuilding",
				zap.String("scope", scope.Key()),
				zap.String("cachedSchool", snap.Meeting.SchoolID),
				zap.String("cachedMeeting", snap.Meeting.ID))
			s.invalidateSnapshot(ctx, scope)
		default:
			s.countLookup("miss")
		}
	}

	meeting, err := s.repos.MeetingRepo.FindByID(ctx, scope.SchoolID, scope.MeetingID)
	if err != nil {
		return nil, notFound("snapshot", "meeting", err)
	}

	var (
		members []models.Member
		motions []models.Motion
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = s.repos.MemberRepo.ListByMeeting(gctx, scope)
		return err
	})
	g.Go(func() error {
		var err error
		motions, err = s.repos.MotionRepo.ListByMeeting(gctx, scope)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("rebuild snapshot: %w", err)
	}

	snap := &models.Snapshot{Meeting: *meeting, Members: members, Motions: motions}
	if s.cache != nil {
		if err := s.cache.Put(ctx, scope, snap); err != nil {
			s.log.Warn("snapshot cache write failed", zap.String("scope", scope.Key()), zap.Error(err))
		}
	}
	return snap, nil
}

// applyToSnapshot folds patch into the cached snapshot, or drops the entry if
// it cannot be updated.
func (s *meetingService) applyToSnapshot(ctx context.Context, scope models.Scope, patch models.Patch) {
	if s.cache == nil {
		return
	}

	snap, err := s.cache.Get(ctx, scope)
	if err != nil {
		s.invalidateSnapshot(ctx, scope)
		return
	}
	if snap == nil {
		return
	}
	if !scope.Holds(snap) {
		s.invalidateSnapshot(ctx, scope)
		return
	}

	snap.Apply(patch)
	if err := s.cache.Put(ctx, scope, snap); err != nil {
		s.log.Warn("snapshot cache update failed", zap.String("scope", scope.Key()), zap.Error(err))
		s.invalidateSnapshot(ctx, scope)
	}
}

func (s *meetingService) invalidateSnapshot(ctx context.Context, scope models.Scope) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, scope); err != nil {
		s.log.Error("snapshot cache invalidation failed, entry may be stale until it expires",
			zap.String("scope", scope.Key()), zap.Error(err))
	}
}

func (s *meetingService) countLookup(result string) {
	if s.metrics != nil {
		s.metrics.SnapshotLookups.WithLabelValues(result).Inc()
	}
}

// ============================================
// Reads
// ============================================

func (s *meetingService) GetSnapshot(ctx context.Context, caller identity.Identity, meetingID string) (*models.Snapshot, error) {
	const op = "get_snapshot"

	scope, err := s.scopeFor(op, caller, meetingID, types.RoleViewer)
	if err != nil {
		return nil, err
	}

	var snap *models.Snapshot
	err = s.queue.Do(ctx, scope.Key(), func() error {
		opCtx, cancel := s.detach(ctx)
		defer cancel()
		loaded, err := s.loadSnapshot(opCtx, scope)
		snap = loaded
		return err
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return snap, nil
}

func (s *meetingService) ListAudit(ctx context.Context, caller identity.Identity, meetingID string) ([]models.AuditRecord, error) {
	const op = "list_audit"

	scope, err := s.scopeFor(op, caller, meetingID, types.RoleHost)
	if err != nil {
		return nil, err
	}
	if _, err := s.repos.MeetingRepo.FindByID(ctx, scope.SchoolID, scope.MeetingID); err != nil {
		return nil, classify(op, notFound(op, "meeting", err))
	}

	records, err := s.chain.Records(ctx, scope)
	if err != nil {
		return nil, classify(op, err)
	}
	return records, nil
}

func (s *meetingService) VerifyChain(ctx context.Context, caller identity.Identity, meetingID string) (*models.VerifyResponse, error) {
	const op = "verify_chain"

	scope, err := s.scopeFor(op, caller, meetingID, types.RoleHost)
	if err != nil {
		return nil, err
	}
	if _, err := s.repos.MeetingRepo.FindByID(ctx, scope.SchoolID, scope.MeetingID); err != nil {
		return nil, classify(op, notFound(op, "meeting", err))
	}

	resp, err := s.verifyScope(ctx, scope)
	if err != nil {
		return nil, classify(op, err)
	}
	return resp, nil
}

// verifyScope turns a broken chain into a negative response; only storage
// failures are returned as errors.
func (s *meetingService) verifyScope(ctx context.Context, scope models.Scope) (*models.VerifyResponse, error) {
	res, err := s.chain.Verify(ctx, scope)
	resp := &models.VerifyResponse{
		SchoolID:  scope.SchoolID,
		MeetingID: scope.MeetingID,
		Valid:     err == nil,
		Records:   res.Records,
		TailHash:  res.TailHash,
	}

	var integrity *audit.IntegrityError
	switch {
	case err == nil:
		return resp, nil
	case errors.As(err, &integrity):
		seq := integrity.Seq
		resp.BrokenAt = &seq
		resp.Reason = integrity.Reason
		if s.metrics != nil {
			s.metrics.ChainVerifyFailures.Inc()
		}
		s.raise(ctx, Alert{Kind: AlertChainBroken, Scope: scope, Reason: integrity.Error()})
		return resp, nil
	default:
		return nil, err
	}
}

// VerifyAllChains checks every stored chain and returns how many are broken.
func (s *meetingService) VerifyAllChains(ctx context.Context) (int, error) {
	scopes, err := s.chain.Scopes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list audit scopes: %w", err)
	}

	broken := 0
	var errs []error
	for _, scope := range scopes {
		resp, err := s.verifyScope(ctx, scope)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", scope, err))
			continue
		}
		if !resp.Valid {
			broken++
		}
	}
	return broken, errors.Join(errs...)
}

// finish records command metrics and passes err through.
func (s *meetingService) finish(op string, start time.Time, err error) error {
	if s.metrics == nil {
		return err
	}

	outcome := "ok"
	switch {
	case err == nil:
	case IsDegraded(err):
		outcome = "degraded"
	default:
		outcome = string(KindOf(err))
	}
	s.metrics.CommandsTotal.WithLabelValues(op, outcome).Inc()
	s.metrics.CommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return err
}
