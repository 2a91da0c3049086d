package models

import "github.com/Marga-Ghale/ora-meeting-backend/internal/types"

// ============================================
// Real-time command payloads
// ============================================

type JoinMeetingRequest struct {
	MeetingID string `json:"meetingId"`
}

type AddMemberRequest struct {
	MeetingID string `json:"meetingId"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

type OpenMotionRequest struct {
	MeetingID   string `json:"meetingId"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type SubmitVoteRequest struct {
	MeetingID string           `json:"meetingId"`
	MotionID  string           `json:"motionId"`
	MemberID  string           `json:"memberId"`
	Choice    types.VoteChoice `json:"choice"`
}

type RevokeVoteRequest struct {
	MeetingID string `json:"meetingId"`
	MemberID  string `json:"memberId"`
}

// ============================================
// Command results
// ============================================

type VoteResult struct {
	VoteID string `json:"voteId"`
	TS     int64  `json:"ts"`
}

// VerifyResponse is returned by the audit verification endpoint.
type VerifyResponse struct {
	SchoolID  string  `json:"schoolId"`
	MeetingID string  `json:"meetingId"`
	Valid     bool    `json:"valid"`
	Records   int     `json:"records"`
	TailHash  *string `json:"tailHash"`
	BrokenAt  *int64  `json:"brokenAt,omitempty"`
	Reason    string  `json:"reason,omitempty"`
}

type RevokeResult struct {
	MemberID string `json:"memberId"`
	TS       int64  `json:"ts"`
}
