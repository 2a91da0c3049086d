package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/audit"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
)

// memStore is an in-memory database with the same lock rules as the SQL store.
type memStore struct {
	mu       sync.Mutex
	meetings map[string]models.Meeting
	members  map[string]models.Member
	motions  map[string]models.Motion
	votes    []models.Vote
	audit    map[models.Scope][]models.AuditRecord
}

func newMemStore() *memStore {
	return &memStore{
		meetings: make(map[string]models.Meeting),
		members:  make(map[string]models.Member),
		motions:  make(map[string]models.Motion),
		audit:    make(map[models.Scope][]models.AuditRecord),
	}
}

func (s *memStore) repositories() *repository.Repositories {
	return &repository.Repositories{
		MeetingRepo: memMeetings{s},
		MemberRepo:  memMembers{s},
		MotionRepo:  memMotions{s},
		VoteRepo:    memVotes{s},
		AuditRepo:   memAudit{s},
	}
}

func inScope(scope models.Scope, schoolID, meetingID string) bool {
	return scope.SchoolID == schoolID && scope.MeetingID == meetingID
}

// snapshot rebuilds the view of scope straight from the tables.
func (s *memStore) snapshot(scope models.Scope) *models.Snapshot {
	meetings := memMeetings{s}
	meeting, err := meetings.FindByID(context.Background(), scope.SchoolID, scope.MeetingID)
	if err != nil {
		return nil
	}
	members, _ := memMembers{s}.ListByMeeting(context.Background(), scope)
	motions, _ := memMotions{s}.ListByMeeting(context.Background(), scope)
	return &models.Snapshot{Meeting: *meeting, Members: members, Motions: motions}
}

func (s *memStore) member(id string) models.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.members[id]
}

func (s *memStore) votesFor(memberID string) []models.Vote {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vote
	for _, v := range s.votes {
		if v.MemberID == memberID {
			out = append(out, v)
		}
	}
	return out
}

func (s *memStore) auditActions(scope models.Scope) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.audit[scope] {
		out = append(out, r.Action)
	}
	return out
}

type memMeetings struct{ s *memStore }

func (r memMeetings) Create(_ context.Context, m *models.Meeting) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.meetings[m.ID]; !ok {
		r.s.meetings[m.ID] = *m
	}
	return nil
}

func (r memMeetings) FindByID(_ context.Context, schoolID, id string) (*models.Meeting, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.meetings[id]
	if !ok || m.SchoolID != schoolID {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

type memMembers struct{ s *memStore }

func (r memMembers) Create(_ context.Context, m *models.Member) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.members[m.ID] = *m
	return nil
}

func (r memMembers) FindByID(_ context.Context, scope models.Scope, id string) (*models.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[id]
	if !ok || !inScope(scope, m.SchoolID, m.MeetingID) {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r memMembers) ListByMeeting(_ context.Context, scope models.Scope) ([]models.Member, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Member{}
	for _, m := range r.s.members {
		if inScope(scope, m.SchoolID, m.MeetingID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memMotions struct{ s *memStore }

func (r memMotions) Create(_ context.Context, m *models.Motion) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.motions[m.ID] = *m
	return nil
}

func (r memMotions) FindByID(_ context.Context, scope models.Scope, id string) (*models.Motion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.motions[id]
	if !ok || !inScope(scope, m.SchoolID, m.MeetingID) {
		return nil, repository.ErrNotFound
	}
	return &m, nil
}

func (r memMotions) ListByMeeting(_ context.Context, scope models.Scope) ([]models.Motion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Motion{}
	for _, m := range r.s.motions {
		if inScope(scope, m.SchoolID, m.MeetingID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type memVotes struct{ s *memStore }

func (r memVotes) ApplyVote(_ context.Context, in repository.VoteInput) (models.VoteResult, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[in.MemberID]
	if !ok || !inScope(in.Scope, m.SchoolID, m.MeetingID) {
		return models.VoteResult{}, repository.ErrNotFound
	}
	if m.Locked {
		return models.VoteResult{}, repository.ErrMemberLocked
	}
	choice := in.Choice
	m.Vote, m.Locked, m.UpdatedAt = &choice, true, in.TS
	r.s.members[m.ID] = m
	r.s.votes = append(r.s.votes, models.Vote{
		ID: in.VoteID, MeetingID: in.Scope.MeetingID, SchoolID: in.Scope.SchoolID,
		MotionID: in.MotionID, MemberID: in.MemberID, Choice: in.Choice, CreatedAt: in.TS,
	})
	return models.VoteResult{VoteID: in.VoteID, TS: in.TS}, nil
}

func (r memVotes) RevokeVote(_ context.Context, scope models.Scope, memberID string, ts int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.members[memberID]
	if !ok || !inScope(scope, m.SchoolID, m.MeetingID) {
		return repository.ErrNotFound
	}
	if !m.Locked {
		return repository.ErrMemberNotLocked
	}
	m.Vote, m.Locked, m.UpdatedAt = nil, false, ts
	r.s.members[m.ID] = m
	return nil
}

func (r memVotes) ListByMember(_ context.Context, scope models.Scope, memberID string) ([]models.Vote, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Vote{}
	for _, v := range r.s.votes {
		if v.MemberID == memberID && inScope(scope, v.SchoolID, v.MeetingID) {
			out = append(out, v)
		}
	}
	return out, nil
}

type memAudit struct{ s *memStore }

func (r memAudit) Tail(_ context.Context, scope models.Scope) (*models.AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	list := r.s.audit[scope]
	if len(list) == 0 {
		return nil, nil
	}
	rec := list[len(list)-1]
	return &rec, nil
}

func (r memAudit) Insert(_ context.Context, rec *models.AuditRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	scope := rec.Scope()
	list := r.s.audit[scope]
	if rec.Seq != int64(len(list)+1) {
		return repository.ErrChainConflict
	}
	r.s.audit[scope] = append(list, *rec)
	return nil
}

func (r memAudit) ListByScope(_ context.Context, scope models.Scope) ([]models.AuditRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.AuditRecord{}, r.s.audit[scope]...), nil
}

func (r memAudit) ListScopes(_ context.Context) ([]models.Scope, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Scope{}
	for s := range r.s.audit {
		out = append(out, s)
	}
	return out, nil
}

// flakyChain fails appends while failing is set.
type flakyChain struct {
	*audit.Chain
	mu      sync.Mutex
	failing bool
}

var errAuditDown = errors.New("audit store unavailable")

func (f *flakyChain) setFailing(v bool) {
	f.mu.Lock()
	f.failing = v
	f.mu.Unlock()
}

func (f *flakyChain) Append(ctx context.Context, scope models.Scope, ev audit.Event) (models.AuditRecord, error) {
	f.mu.Lock()
	failing := f.failing
	f.mu.Unlock()
	if failing {
		return models.AuditRecord{}, errAuditDown
	}
	return f.Chain.Append(ctx, scope, ev)
}

// recordingHub is a Broadcaster that keeps every published patch.
type recordingHub struct {
	mu        sync.Mutex
	rooms     map[models.Scope]map[string]Subscriber
	watching  map[string]models.Scope
	published map[models.Scope][]models.Patch
}

func newRecordingHub() *recordingHub {
	return &recordingHub{
		rooms:     make(map[models.Scope]map[string]Subscriber),
		watching:  make(map[string]models.Scope),
		published: make(map[models.Scope][]models.Patch),
	}
}

func (h *recordingHub) Join(scope models.Scope, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub)
	if h.rooms[scope] == nil {
		h.rooms[scope] = make(map[string]Subscriber)
	}
	h.rooms[scope][sub.ConnID()] = sub
	h.watching[sub.ConnID()] = scope
}

func (h *recordingHub) Leave(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(sub)
}

func (h *recordingHub) leaveLocked(sub Subscriber) {
	if scope, ok := h.watching[sub.ConnID()]; ok {
		delete(h.rooms[scope], sub.ConnID())
		delete(h.watching, sub.ConnID())
	}
}

func (h *recordingHub) Publish(scope models.Scope, patch models.Patch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published[scope] = append(h.published[scope], patch)
	msg, _ := models.EncodeMessage(models.MessageStatePatch, patch, clockStart)
	for _, sub := range h.rooms[scope] {
		sub.Deliver(msg)
	}
}

func (h *recordingHub) patches(scope models.Scope) []models.PatchType {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []models.PatchType
	for _, p := range h.published[scope] {
		out = append(out, p.Type())
	}
	return out
}

// fakeConn collects delivered messages.
type fakeConn struct {
	id   string
	mu   sync.Mutex
	msgs []models.Message
	full bool
}

func (c *fakeConn) ConnID() string { return c.id }

func (c *fakeConn) Deliver(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	var m struct {
		Type    models.MessageType `json:"type"`
		Payload json.RawMessage    `json:"payload"`
	}
	if err := json.Unmarshal(msg, &m); err != nil {
		return false
	}
	c.msgs = append(c.msgs, models.Message{Type: m.Type, Payload: m.Payload})
	return true
}

func (c *fakeConn) types() []models.MessageType {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.MessageType
	for _, m := range c.msgs {
		out = append(out, m.Type)
	}
	return out
}

// fakeAlerter records alerts.
type fakeAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

func (a *fakeAlerter) Alert(_ context.Context, alert Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *fakeAlerter) kinds() []AlertKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []AlertKind
	for _, al := range a.alerts {
		out = append(out, al.Kind)
	}
	return out
}
