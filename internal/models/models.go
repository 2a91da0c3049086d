package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// Scope is the tenant + meeting pair that bounds audit ordering, rooms and cache keys.
type Scope struct {
	SchoolID  string `json:"schoolId"`
	MeetingID string `json:"meetingId"`
}

// ScopeSeparator joins the parts of a scope key. Neither part may contain it.
const ScopeSeparator = ":"

// Key is the broadcast room key "{schoolId}:{meetingId}".
func (s Scope) Key() string {
	return fmt.Sprintf("%s%s%s", s.SchoolID, ScopeSeparator, s.MeetingID)
}

// ValidKeyPart reports whether v can be one side of a scope key.
func ValidKeyPart(v string) bool {
	return strings.TrimSpace(v) != "" && !strings.Contains(v, ScopeSeparator)
}

// Holds reports whether snap is the snapshot of this scope's meeting.
func (s Scope) Holds(snap *Snapshot) bool {
	return snap != nil && snap.Meeting.SchoolID == s.SchoolID && snap.Meeting.ID == s.MeetingID
}

func (s Scope) String() string {
	return s.Key()
}

// ============================================
// Persistent entities
// ============================================

// Timestamps are epoch milliseconds, matching the persisted BIGINT columns.

type Meeting struct {
	ID        string `json:"id"`
	SchoolID  string `json:"schoolId"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Member is a roll-call participant. Title is the display title ("Chair",
// "General Member"), unrelated to the caller's auth role.
type Member struct {
	ID        string            `json:"id"`
	MeetingID string            `json:"meetingId"`
	SchoolID  string            `json:"schoolId"`
	Name      string            `json:"name"`
	Title     string            `json:"role"`
	Vote      *types.VoteChoice `json:"vote"`
	Locked    bool              `json:"locked"`
	UpdatedAt int64             `json:"updatedAt"`
}

type Motion struct {
	ID          string `json:"id"`
	MeetingID   string `json:"meetingId"`
	SchoolID    string `json:"schoolId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"createdAt"`
	ClosedAt    *int64 `json:"closedAt"`
}

// Vote is an append-only ledger row; a member may have several across
// revoke/resubmit cycles.
type Vote struct {
	ID        string           `json:"id"`
	MeetingID string           `json:"meetingId"`
	SchoolID  string           `json:"schoolId"`
	MotionID  string           `json:"motionId"`
	MemberID  string           `json:"memberId"`
	Choice    types.VoteChoice `json:"choice"`
	CreatedAt int64            `json:"createdAt"`
}

// AuditRecord is immutable once written. Seq is the record's position in its
// scope, starting at 1.
type AuditRecord struct {
	ID         string          `json:"id"`
	Seq        int64           `json:"seq"`
	MeetingID  string          `json:"meetingId"`
	SchoolID   string          `json:"schoolId"`
	TS         int64           `json:"ts"`
	ActorID    string          `json:"actorId"`
	ActorName  string          `json:"actorName"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
	PrevHash   *string         `json:"prevHash"`
	Hash       string          `json:"hash"`
}

func (r AuditRecord) Scope() Scope {
	return Scope{SchoolID: r.SchoolID, MeetingID: r.MeetingID}
}

// ============================================
// Snapshot
// ============================================

// Snapshot is a derived, expiring view of one meeting. It is never authoritative.
type Snapshot struct {
	Meeting Meeting  `json:"meeting"`
	Members []Member `json:"members"`
	Motions []Motion `json:"motions"`
}

// Apply folds a patch into the snapshot, the same way a connected client would.
// Members stay ordered by name and motions by creation time, matching a
// snapshot rebuilt from the database.
func (s *Snapshot) Apply(p Patch) {
	switch p := p.(type) {
	case MemberUpsert:
		if m := s.FindMember(p.Member.ID); m != nil {
			*m = p.Member
		} else {
			s.Members = append(s.Members, p.Member)
		}
		sort.SliceStable(s.Members, func(i, j int) bool {
			if s.Members[i].Name != s.Members[j].Name {
				return s.Members[i].Name < s.Members[j].Name
			}
			return s.Members[i].ID < s.Members[j].ID
		})
	case MotionUpsert:
		replaced := false
		for i := range s.Motions {
			if s.Motions[i].ID == p.Motion.ID {
				s.Motions[i] = p.Motion
				replaced = true
				break
			}
		}
		if !replaced {
			s.Motions = append(s.Motions, p.Motion)
		}
		sort.SliceStable(s.Motions, func(i, j int) bool {
			if s.Motions[i].CreatedAt != s.Motions[j].CreatedAt {
				return s.Motions[i].CreatedAt < s.Motions[j].CreatedAt
			}
			return s.Motions[i].ID < s.Motions[j].ID
		})
	case MemberVote:
		if m := s.FindMember(p.MemberID); m != nil {
			m.Vote = p.Vote
			m.Locked = p.Locked
			m.UpdatedAt = p.UpdatedAt
		}
	}
}

// FindMember returns the member with id, or nil.
func (s *Snapshot) FindMember(id string) *Member {
	for i := range s.Members {
		if s.Members[i].ID == id {
			return &s.Members[i]
		}
	}
	return nil
}
