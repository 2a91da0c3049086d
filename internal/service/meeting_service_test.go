package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/audit"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/cache"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/config"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/identity"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/metrics"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

var (
	clockStart = time.UnixMilli(1_700_000_000_000)

	scopeA = models.Scope{SchoolID: "school-a", MeetingID: "m1"}

	host    = identity.Identity{SchoolID: "school-a", UserID: "u-host", Name: "Chair", Role: types.RoleHost}
	voter   = identity.Identity{SchoolID: "school-a", UserID: "u-member", Name: "Ann", Role: types.RoleMember}
	viewer  = identity.Identity{SchoolID: "school-a", UserID: "u-viewer", Name: "Guest", Role: types.RoleViewer}
	outside = identity.Identity{SchoolID: "school-b", UserID: "u-other", Name: "Other Chair", Role: types.RoleAdmin}
)

type harness struct {
	svc     *meetingService
	store   *memStore
	chain   *flakyChain
	outbox  *audit.MemoryOutbox
	cache   *cache.SnapshotCache
	hub     *recordingHub
	alerter *fakeAlerter
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	repos := store.repositories()
	require.NoError(t, repos.MeetingRepo.Create(context.Background(), &models.Meeting{
		ID: "m1", SchoolID: "school-a", Title: "Student Council", Status: types.MeetingActive,
	}))

	h := &harness{
		store:   store,
		chain:   &flakyChain{Chain: audit.NewChain(repos.AuditRepo, 3, zap.NewNop())},
		outbox:  audit.NewMemoryOutbox(),
		cache:   cache.NewSnapshotCache(client, time.Hour),
		hub:     newRecordingHub(),
		alerter: &fakeAlerter{},
		metrics: metrics.New("test", prometheus.NewRegistry()),
	}

	svc := NewMeetingService(&ServiceDeps{
		Config:      &config.Config{OperationTimeout: 5 * time.Second},
		Repos:       repos,
		Chain:       h.chain,
		Outbox:      h.outbox,
		Cache:       h.cache,
		Broadcaster: h.hub,
		Alerter:     h.alerter,
		Metrics:     h.metrics,
		Logger:      zap.NewNop(),
	}).(*meetingService)

	var tick int64
	svc.now = func() time.Time { return clockStart.Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Millisecond) }
	var ids int64
	svc.newID = func() string { return fmt.Sprintf("id-%03d", atomic.AddInt64(&ids, 1)) }

	h.svc = svc
	t.Cleanup(svc.Close)
	return h
}

func (h *harness) addMember(t *testing.T, name string) *models.Member {
	t.Helper()
	m, err := h.svc.AddMember(context.Background(), host, models.AddMemberRequest{MeetingID: "m1", Name: name})
	require.NoError(t, err)
	return m
}

func (h *harness) openMotion(t *testing.T, title string) *models.Motion {
	t.Helper()
	m, err := h.svc.OpenMotion(context.Background(), host, models.OpenMotionRequest{MeetingID: "m1", Title: title})
	require.NoError(t, err)
	return m
}

func (h *harness) vote(caller identity.Identity, motionID, memberID string, choice types.VoteChoice) (*models.VoteResult, error) {
	return h.svc.SubmitVote(context.Background(), caller, models.SubmitVoteRequest{
		MeetingID: "m1", MotionID: motionID, MemberID: memberID, Choice: choice,
	})
}

func (h *harness) revoke(memberID string) error {
	_, err := h.svc.RevokeVote(context.Background(), host, models.RevokeVoteRequest{MeetingID: "m1", MemberID: memberID})
	return err
}

func TestAddMemberDefaultsTitle(t *testing.T) {
	h := newHarness(t)

	m := h.addMember(t, "  Ann  ")
	assert.Equal(t, "Ann", m.Name)
	assert.Equal(t, types.DefaultMemberTitle, m.Title)
	assert.False(t, m.Locked)
	assert.Nil(t, m.Vote)

	assert.Equal(t, []models.PatchType{models.PatchMemberUpsert}, h.hub.patches(scopeA))
	assert.Equal(t, []string{types.ActionAddMember}, h.store.auditActions(scopeA))
}

func TestChainVerifiesAfterCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")
	_, err := h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.NoError(t, err)
	require.NoError(t, h.revoke(ann.ID))

	resp, err := h.svc.VerifyChain(ctx, host, "m1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, 4, resp.Records)
	assert.Nil(t, resp.BrokenAt)

	// tamper with the stored payload of the vote record
	h.store.mu.Lock()
	h.store.audit[scopeA][2].Payload = json.RawMessage(`{"choice":"N","memberId":"` + ann.ID + `","motionId":"` + motion.ID + `"}`)
	h.store.mu.Unlock()

	resp, err = h.svc.VerifyChain(ctx, host, "m1")
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	require.NotNil(t, resp.BrokenAt)
	assert.Equal(t, int64(3), *resp.BrokenAt)
	assert.Equal(t, []AlertKind{AlertChainBroken}, h.alerter.kinds())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.ChainVerifyFailures))

	broken, err := h.svc.VerifyAllChains(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, broken)
}

func TestSecondVoteIsRejected(t *testing.T) {
	h := newHarness(t)

	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	_, err := h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.NoError(t, err)
	_, err = h.vote(voter, motion.ID, ann.ID, types.VoteNo)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConflict)

	stored := h.store.member(ann.ID)
	require.NotNil(t, stored.Vote)
	assert.Equal(t, types.VoteYes, *stored.Vote)
	assert.True(t, stored.Locked)
	assert.Len(t, h.store.votesFor(ann.ID), 1)
	assert.Equal(t, []string{types.ActionAddMember, types.ActionOpenMotion, types.ActionVote}, h.store.auditActions(scopeA))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.CommandsTotal.WithLabelValues("submit_vote", "conflict")))
}

func TestRevokeThenResubmit(t *testing.T) {
	h := newHarness(t)

	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	_, err := h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.NoError(t, err)
	require.NoError(t, h.revoke(ann.ID))
	_, err = h.vote(voter, motion.ID, ann.ID, types.VoteNo)
	require.NoError(t, err)

	stored := h.store.member(ann.ID)
	require.NotNil(t, stored.Vote)
	assert.Equal(t, types.VoteNo, *stored.Vote)
	assert.True(t, stored.Locked)
	votes, err := h.svc.repos.VoteRepo.ListByMember(context.Background(), scopeA, ann.ID)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	choices := []types.VoteChoice{votes[0].Choice, votes[1].Choice}
	assert.ElementsMatch(t, []types.VoteChoice{types.VoteYes, types.VoteNo}, choices)

	assert.Equal(t,
		[]string{types.ActionAddMember, types.ActionOpenMotion, types.ActionVote, types.ActionRevoke, types.ActionVote},
		h.store.auditActions(scopeA))
	resp, err := h.svc.VerifyChain(context.Background(), host, "m1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
}

func TestRevokeUnlockedMemberConflicts(t *testing.T) {
	h := newHarness(t)
	ann := h.addMember(t, "Ann")

	err := h.revoke(ann.ID)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestViewerCannotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")
	before := h.hub.patches(scopeA)

	_, err := h.svc.AddMember(ctx, viewer, models.AddMemberRequest{MeetingID: "m1", Name: "Bob"})
	assert.ErrorIs(t, err, ErrAuthorization)
	_, err = h.svc.OpenMotion(ctx, viewer, models.OpenMotionRequest{MeetingID: "m1", Title: "Trip"})
	assert.ErrorIs(t, err, ErrAuthorization)
	_, err = h.vote(viewer, motion.ID, ann.ID, types.VoteYes)
	assert.ErrorIs(t, err, ErrAuthorization)
	_, err = h.svc.RevokeVote(ctx, viewer, models.RevokeVoteRequest{MeetingID: "m1", MemberID: ann.ID})
	assert.ErrorIs(t, err, ErrAuthorization)

	// members cannot manage the roster or revoke either
	_, err = h.svc.AddMember(ctx, voter, models.AddMemberRequest{MeetingID: "m1", Name: "Bob"})
	assert.ErrorIs(t, err, ErrAuthorization)

	assert.Equal(t, before, h.hub.patches(scopeA))
	assert.Len(t, h.store.auditActions(scopeA), 2)
	assert.False(t, h.store.member(ann.ID).Locked)
}

func TestInvalidCommands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	_, err := h.vote(voter, motion.ID, ann.ID, types.VoteChoice("maybe"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.svc.AddMember(ctx, host, models.AddMemberRequest{MeetingID: "m1", Name: "   "})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.svc.OpenMotion(ctx, host, models.OpenMotionRequest{MeetingID: "", Title: "x"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.vote(voter, "missing", ann.ID, types.VoteYes)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.vote(voter, motion.ID, "missing", types.VoteYes)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.AddMember(ctx, host, models.AddMemberRequest{MeetingID: "no-such-meeting", Name: "Bob"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.svc.AddMember(ctx, identity.Identity{Role: types.RoleAdmin}, models.AddMemberRequest{MeetingID: "m1", Name: "Bob"})
	assert.ErrorIs(t, err, ErrAuthentication)

	assert.Len(t, h.store.auditActions(scopeA), 2)
}

func TestVoteOnClosedMotionConflicts(t *testing.T) {
	h := newHarness(t)
	ann := h.addMember(t, "Ann")

	h.store.mu.Lock()
	closedAt := int64(5)
	h.store.motions["closed"] = models.Motion{
		ID: "closed", MeetingID: "m1", SchoolID: "school-a", Title: "Old", Status: types.MotionClosed, ClosedAt: &closedAt,
	}
	h.store.mu.Unlock()

	_, err := h.vote(voter, "closed", ann.ID, types.VoteYes)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Empty(t, h.store.votesFor(ann.ID))
}

func TestJoinSnapshotReflectsEveryPriorPatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// an early joiner populates the cache, later commands patch it
	early := &fakeConn{id: "early"}
	_, err := h.svc.JoinMeeting(ctx, viewer, models.JoinMeetingRequest{MeetingID: "m1"}, early)
	require.NoError(t, err)

	ann := h.addMember(t, "Ann")
	bob := h.addMember(t, "Bob")
	motion := h.openMotion(t, "Budget")
	_, err = h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.NoError(t, err)
	_, err = h.vote(voter, motion.ID, bob.ID, types.VoteAbstain)
	require.NoError(t, err)
	require.NoError(t, h.revoke(bob.ID))

	late := &fakeConn{id: "late"}
	snap, err := h.svc.JoinMeeting(ctx, viewer, models.JoinMeetingRequest{MeetingID: "m1"}, late)
	require.NoError(t, err)

	assert.Equal(t, h.store.snapshot(scopeA), snap)
	assert.Equal(t, []models.MessageType{models.MessageSnapshot}, late.types())

	// the early joiner saw the snapshot and then all six patches in order
	assert.Equal(t, []models.MessageType{
		models.MessageSnapshot,
		models.MessageStatePatch, models.MessageStatePatch, models.MessageStatePatch,
		models.MessageStatePatch, models.MessageStatePatch, models.MessageStatePatch,
	}, early.types())

	// rebuilt from the database after the cache entry is gone
	require.NoError(t, h.cache.Invalidate(ctx, scopeA))
	rebuilt, err := h.svc.GetSnapshot(ctx, viewer, "m1")
	require.NoError(t, err)
	assert.Equal(t, snap, rebuilt)
}

func TestJoinWhileCommandsRunSeesNoGap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")
	_, err := h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.NoError(t, err)

	var wg sync.WaitGroup
	conns := make([]*fakeConn, 10)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("c%d", i)}
	}
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := h.svc.AddMember(ctx, host, models.AddMemberRequest{MeetingID: "m1", Name: fmt.Sprintf("Member %02d", i)})
			assert.NoError(t, err)
		}(i)
		go func(c *fakeConn) {
			defer wg.Done()
			_, err := h.svc.JoinMeeting(ctx, viewer, models.JoinMeetingRequest{MeetingID: "m1"}, c)
			assert.NoError(t, err)
		}(conns[i])
	}
	wg.Wait()

	final := h.store.snapshot(scopeA)
	for _, c := range conns {
		// snapshot plus the patches published after it must add up to the final state
		c.mu.Lock()
		require.NotEmpty(t, c.msgs)
		require.Equal(t, models.MessageSnapshot, c.msgs[0].Type)
		var snap models.Snapshot
		require.NoError(t, json.Unmarshal(c.msgs[0].Payload.(json.RawMessage), &snap))
		for _, m := range c.msgs[1:] {
			p, err := models.DecodePatch(m.Payload.(json.RawMessage))
			require.NoError(t, err)
			snap.Apply(p)
		}
		c.mu.Unlock()
		assert.Equal(t, final.Members, snap.Members, c.id)
	}
}

func TestTenantIsolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	spy := &fakeConn{id: "spy"}
	_, err := h.svc.JoinMeeting(ctx, outside, models.JoinMeetingRequest{MeetingID: "m1"}, spy)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.vote(outside, motion.ID, ann.ID, types.VoteYes)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.svc.RevokeVote(ctx, outside, models.RevokeVoteRequest{MeetingID: "m1", MemberID: ann.ID})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.svc.ListAudit(ctx, outside, "m1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.NoError(t, err)

	assert.Empty(t, spy.types())
	assert.Empty(t, h.hub.patches(models.Scope{SchoolID: "school-b", MeetingID: "m1"}))
	assert.Len(t, h.store.votesFor(ann.ID), 1)
}

func TestTenantIsolationWithCollidingKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// School "a:b" with meeting "c" and school "a" with meeting "b:c" both key as "a:b:c".
	colonSchool := identity.Identity{SchoolID: "a:b", UserID: "u-y", Role: types.RoleAdmin}
	_, err := h.svc.AddMember(ctx, colonSchool, models.AddMemberRequest{MeetingID: "c", Name: "Mallory"})
	assert.ErrorIs(t, err, ErrAuthentication)
	_, err = h.svc.JoinMeeting(ctx, colonSchool, models.JoinMeetingRequest{MeetingID: "c"}, &fakeConn{id: "victim"})
	assert.ErrorIs(t, err, ErrAuthentication)

	prober := identity.Identity{SchoolID: "a", UserID: "u-x", Role: types.RoleViewer}
	spy := &fakeConn{id: "spy"}
	_, err = h.svc.JoinMeeting(ctx, prober, models.JoinMeetingRequest{MeetingID: "b:c"}, spy)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.svc.GetSnapshot(ctx, prober, "b:c")
	assert.ErrorIs(t, err, ErrValidation)

	assert.Empty(t, spy.types())
	assert.Empty(t, h.hub.patches(models.Scope{SchoolID: "a", MeetingID: "b:c"}))
}

func TestForeignCachedSnapshotIsNotServed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addMember(t, "Ann")

	require.NoError(t, h.cache.Put(ctx, scopeA, &models.Snapshot{
		Meeting: models.Meeting{ID: "c", SchoolID: "school-a:b", Title: "Secret Board"},
		Members: []models.Member{{ID: "x", Name: "Insider"}},
	}))

	snap, err := h.svc.GetSnapshot(ctx, viewer, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Student Council", snap.Meeting.Title)
	require.Len(t, snap.Members, 1)
	assert.Equal(t, "Ann", snap.Members[0].Name)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SnapshotLookups.WithLabelValues("mismatch")))

	cached, err := h.cache.Get(ctx, scopeA)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, "school-a", cached.Meeting.SchoolID)
}

func TestConcurrentSubmitsLockOnce(t *testing.T) {
	h := newHarness(t)
	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	const n = 20
	var (
		wg        sync.WaitGroup
		succeeded int32
		conflicts int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			choice := types.ValidVoteChoices[i%3]
			_, err := h.vote(voter, motion.ID, ann.ID, choice)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, int32(n-1), conflicts)
	assert.Len(t, h.store.votesFor(ann.ID), 1)

	resp, err := h.svc.VerifyChain(context.Background(), host, "m1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
	assert.Equal(t, 3, resp.Records)
}

func TestScopesProceedIndependently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.repositories().MeetingRepo.Create(ctx, &models.Meeting{ID: "m2", SchoolID: "school-a", Status: types.MeetingActive}))

	var wg sync.WaitGroup
	for _, meetingID := range []string{"m1", "m2"} {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(meetingID string, i int) {
				defer wg.Done()
				_, err := h.svc.AddMember(ctx, host, models.AddMemberRequest{MeetingID: meetingID, Name: fmt.Sprintf("P%d", i)})
				assert.NoError(t, err)
			}(meetingID, i)
		}
	}
	wg.Wait()

	for _, meetingID := range []string{"m1", "m2"} {
		resp, err := h.svc.VerifyChain(ctx, host, meetingID)
		require.NoError(t, err)
		assert.True(t, resp.Valid)
		assert.Equal(t, 5, resp.Records)
	}
}

func TestAuditFailureIsDegradedAndHoldsPatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	watcher := &fakeConn{id: "watcher"}
	_, err := h.svc.JoinMeeting(ctx, viewer, models.JoinMeetingRequest{MeetingID: "m1"}, watcher)
	require.NoError(t, err)
	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	h.chain.setFailing(true)
	_, err = h.vote(voter, motion.ID, ann.ID, types.VoteYes)
	require.Error(t, err)
	assert.True(t, IsDegraded(err))
	assert.ErrorIs(t, err, ErrAuditPending)
	assert.ErrorIs(t, err, ErrPersistence)

	// the write stands, but nobody has seen it and the cache no longer claims otherwise
	assert.True(t, h.store.member(ann.ID).Locked)
	assert.Equal(t, []models.PatchType{models.PatchMemberUpsert, models.PatchMotionUpsert}, h.hub.patches(scopeA))
	cached, err := h.cache.Get(ctx, scopeA)
	require.NoError(t, err)
	assert.Nil(t, cached)
	pending, err := h.outbox.Len(ctx, scopeA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, []AlertKind{AlertAuditPending}, h.alerter.kinds())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.AuditPending))

	// while the backlog cannot be flushed, new commands are refused before writing
	_, err = h.svc.OpenMotion(ctx, host, models.OpenMotionRequest{MeetingID: "m1", Title: "Trip"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.False(t, IsDegraded(err))
	motions, _ := h.store.repositories().MotionRepo.ListByMeeting(ctx, scopeA)
	assert.Len(t, motions, 1)

	// recovery: the next command appends the backlog first, then itself
	h.chain.setFailing(false)
	h.openMotion(t, "Trip")

	assert.Equal(t,
		[]string{types.ActionAddMember, types.ActionOpenMotion, types.ActionVote, types.ActionOpenMotion},
		h.store.auditActions(scopeA))
	assert.Equal(t,
		[]models.PatchType{models.PatchMemberUpsert, models.PatchMotionUpsert, models.PatchMemberVote, models.PatchMotionUpsert},
		h.hub.patches(scopeA))
	pending, err = h.outbox.Len(ctx, scopeA)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, testutil.ToFloat64(h.metrics.AuditPending))

	resp, err := h.svc.VerifyChain(ctx, host, "m1")
	require.NoError(t, err)
	assert.True(t, resp.Valid)
}

func TestFlushRestoresPendingGaugeFromOutbox(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// entries left over from an earlier process
	for _, id := range []string{"mem-1", "mem-2"} {
		ev, err := audit.NewEvent(clockStart.UnixMilli(), host.UserID, host.Name,
			types.ActionAddMember, types.EntityMember, id, map[string]string{"name": id})
		require.NoError(t, err)
		require.NoError(t, h.outbox.Push(ctx, audit.Pending{Scope: scopeA, Event: ev}))
	}
	assert.Zero(t, testutil.ToFloat64(h.metrics.AuditPending))

	h.chain.setFailing(true)
	drained, err := h.svc.FlushPendingAudits(ctx)
	assert.Error(t, err)
	assert.Zero(t, drained)
	assert.Equal(t, float64(2), testutil.ToFloat64(h.metrics.AuditPending))

	h.chain.setFailing(false)
	drained, err = h.svc.FlushPendingAudits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)
	assert.Zero(t, testutil.ToFloat64(h.metrics.AuditPending))
	assert.Equal(t, []string{types.ActionAddMember, types.ActionAddMember}, h.store.auditActions(scopeA))
}

func TestFlushPendingAudits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ann := h.addMember(t, "Ann")
	motion := h.openMotion(t, "Budget")

	h.chain.setFailing(true)
	_, err := h.vote(voter, motion.ID, ann.ID, types.VoteNo)
	require.True(t, IsDegraded(err))

	drained, err := h.svc.FlushPendingAudits(ctx)
	assert.Error(t, err)
	assert.Zero(t, drained)

	h.chain.setFailing(false)
	drained, err = h.svc.FlushPendingAudits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, drained)

	assert.Equal(t, []string{types.ActionAddMember, types.ActionOpenMotion, types.ActionVote}, h.store.auditActions(scopeA))
	assert.Equal(t, models.PatchMemberVote, h.hub.patches(scopeA)[2])

	scopes, err := h.outbox.Scopes(ctx)
	require.NoError(t, err)
	assert.Empty(t, scopes)
}

func TestCancelledCallerIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.AddMember(ctx, host, models.AddMemberRequest{MeetingID: "m1", Name: "Ann"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.store.auditActions(scopeA))
}

func TestJoinFailsWhenConnectionIsFull(t *testing.T) {
	h := newHarness(t)

	conn := &fakeConn{id: "full", full: true}
	_, err := h.svc.JoinMeeting(context.Background(), viewer, models.JoinMeetingRequest{MeetingID: "m1"}, conn)
	assert.ErrorIs(t, err, ErrPersistence)

	h.addMember(t, "Ann")
	h.hub.mu.Lock()
	defer h.hub.mu.Unlock()
	assert.Empty(t, h.hub.rooms[scopeA])
}

func TestListAuditRequiresHost(t *testing.T) {
	h := newHarness(t)
	h.addMember(t, "Ann")

	_, err := h.svc.ListAudit(context.Background(), voter, "m1")
	assert.ErrorIs(t, err, ErrAuthorization)

	records, err := h.svc.ListAudit(context.Background(), host, "m1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Chair", records[0].ActorName)
	assert.Equal(t, int64(1), records[0].Seq)
}
