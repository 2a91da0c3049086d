package models

import (
	"encoding/json"
	"fmt"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// PatchType is the wire discriminator of a state_patch.
type PatchType string

const (
	PatchMemberUpsert PatchType = "member_upsert"
	PatchMotionUpsert PatchType = "motion_upsert"
	PatchMemberVote   PatchType = "member_vote"
)

// Patch is a closed union: MemberUpsert, MotionUpsert or MemberVote.
// The unexported method keeps other packages from adding variants.
type Patch interface {
	Type() PatchType
	isPatch()
}

type MemberUpsert struct {
	Member Member
}

type MotionUpsert struct {
	Motion Motion
}

type MemberVote struct {
	MemberID  string
	Vote      *types.VoteChoice
	Locked    bool
	UpdatedAt int64
}

func (MemberUpsert) Type() PatchType { return PatchMemberUpsert }
func (MotionUpsert) Type() PatchType { return PatchMotionUpsert }
func (MemberVote) Type() PatchType   { return PatchMemberVote }

func (MemberUpsert) isPatch() {}
func (MotionUpsert) isPatch() {}
func (MemberVote) isPatch()   {}

func (p MemberUpsert) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   PatchType `json:"type"`
		Member Member    `json:"member"`
	}{p.Type(), p.Member})
}

func (p MotionUpsert) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type   PatchType `json:"type"`
		Motion Motion    `json:"motion"`
	}{p.Type(), p.Motion})
}

func (p MemberVote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      PatchType         `json:"type"`
		MemberID  string            `json:"memberId"`
		Vote      *types.VoteChoice `json:"vote"`
		Locked    bool              `json:"locked"`
		UpdatedAt int64             `json:"updatedAt"`
	}{p.Type(), p.MemberID, p.Vote, p.Locked, p.UpdatedAt})
}

// DecodePatch reverses the MarshalJSON encodings above.
func DecodePatch(data []byte) (Patch, error) {
	var head struct {
		Type      PatchType         `json:"type"`
		Member    *Member           `json:"member"`
		Motion    *Motion           `json:"motion"`
		MemberID  string            `json:"memberId"`
		Vote      *types.VoteChoice `json:"vote"`
		Locked    bool              `json:"locked"`
		UpdatedAt int64             `json:"updatedAt"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case PatchMemberUpsert:
		if head.Member == nil {
			return nil, fmt.Errorf("member_upsert without member")
		}
		return MemberUpsert{Member: *head.Member}, nil
	case PatchMotionUpsert:
		if head.Motion == nil {
			return nil, fmt.Errorf("motion_upsert without motion")
		}
		return MotionUpsert{Motion: *head.Motion}, nil
	case PatchMemberVote:
		return MemberVote{
			MemberID:  head.MemberID,
			Vote:      head.Vote,
			Locked:    head.Locked,
			UpdatedAt: head.UpdatedAt,
		}, nil
	default:
		return nil, fmt.Errorf("unknown patch type %q", head.Type)
	}
}
